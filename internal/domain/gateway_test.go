package domain

import (
	"encoding/json"
	"testing"
)

func TestProxyResponse_OmitsUnsetFields(t *testing.T) {
	data, err := json.Marshal(ProxyResponse{Body: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"body":"hi"}` {
		t.Errorf("marshal = %s", data)
	}
}

func TestProxyRequest_NullBody(t *testing.T) {
	data, err := json.Marshal(ProxyRequest{HTTPMethod: "GET", Path: "/hello"})
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if v, ok := raw["body"]; !ok || v != nil {
		t.Errorf("body = %v (present %v), want null", v, ok)
	}
	if raw["httpMethod"] != "GET" || raw["path"] != "/hello" {
		t.Errorf("event = %v", raw)
	}
}
