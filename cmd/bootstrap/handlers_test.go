package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/oriys/customruntime/internal/domain"
	"github.com/oriys/customruntime/pkg/handler"
)

func TestRegisterHandlers(t *testing.T) {
	reg := handler.NewRegistry()
	if err := registerHandlers(reg); err != nil {
		t.Fatalf("registerHandlers: %v", err)
	}
	for _, id := range []string{"EchoHandler", "HelloHandler", "UpperStreamHandler"} {
		if _, err := reg.Resolve(id); err != nil {
			t.Errorf("Resolve(%s): %v", id, err)
		}
	}
}

func TestEcho(t *testing.T) {
	resp, err := echo(context.Background(), &handler.Context{}, domain.ProxyRequest{
		QueryStringParameters: map[string]string{"a": "b"},
	})
	if err != nil {
		t.Fatal(err)
	}
	out, _ := json.Marshal(resp)
	if string(out) != `{"body":"{\"a\":\"b\"}"}` {
		t.Errorf("echo = %s", out)
	}

	body := "raw"
	resp, _ = echo(context.Background(), &handler.Context{}, domain.ProxyRequest{Body: &body})
	if resp.Body != "raw" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestHello(t *testing.T) {
	h, _ := newHello()
	resp, err := h.Handle(context.Background(), &handler.Context{RequestID: "r1"}, domain.ProxyRequest{
		PathParameters: map[string]string{"name": "gopher"},
	})
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatal(err)
	}
	if body["message"] != "Hello, gopher!" || body["request"] != "r1" {
		t.Errorf("body = %v", body)
	}
}

func TestUpperStream(t *testing.T) {
	var out strings.Builder
	if err := upperStream(context.Background(), &handler.Context{}, strings.NewReader("abc\ndef"), &out); err != nil {
		t.Fatal(err)
	}
	if out.String() != "ABC\nDEF" {
		t.Errorf("out = %q", out.String())
	}
}
