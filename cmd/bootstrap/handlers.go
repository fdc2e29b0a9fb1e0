package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/oriys/customruntime/internal/domain"
	"github.com/oriys/customruntime/pkg/handler"
)

func registerHandlers(reg *handler.Registry) error {
	if err := handler.RegisterFunc(reg, "EchoHandler", echo); err != nil {
		return err
	}
	if err := handler.Register(reg, "HelloHandler", newHello); err != nil {
		return err
	}
	return handler.RegisterStreamFunc(reg, "UpperStreamHandler", upperStream)
}

// echo returns the request body, or the query parameters as JSON when
// there is no body.
func echo(ctx context.Context, lc *handler.Context, req domain.ProxyRequest) (domain.ProxyResponse, error) {
	if req.Body != nil {
		return domain.ProxyResponse{Body: *req.Body}, nil
	}
	query := req.QueryStringParameters
	if query == nil {
		query = map[string]string{}
	}
	data, err := json.Marshal(query)
	if err != nil {
		return domain.ProxyResponse{}, err
	}
	return domain.ProxyResponse{Body: string(data)}, nil
}

type hello struct {
	greeting string
}

func newHello() (handler.Handler[domain.ProxyRequest, domain.ProxyResponse], error) {
	return &hello{greeting: "Hello"}, nil
}

func (h *hello) Handle(ctx context.Context, lc *handler.Context, req domain.ProxyRequest) (domain.ProxyResponse, error) {
	name := req.PathParameters["name"]
	if name == "" {
		name = req.QueryStringParameters["name"]
	}
	if name == "" {
		name = "world"
	}
	lc.Logger().Info("greeting", "name", name, "remaining", lc.RemainingTime())

	body, err := json.Marshal(map[string]string{
		"message":  fmt.Sprintf("%s, %s!", h.greeting, name),
		"function": lc.FunctionName,
		"request":  lc.RequestID,
	})
	if err != nil {
		return domain.ProxyResponse{}, err
	}
	return domain.ProxyResponse{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}, nil
}

// upperStream upper-cases the raw payload line by line.
func upperStream(ctx context.Context, lc *handler.Context, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 6<<20)
	first := true
	for sc.Scan() {
		if !first {
			if _, err := out.Write([]byte{'\n'}); err != nil {
				return err
			}
		}
		first = false
		if _, err := out.Write(bytes.ToUpper(sc.Bytes())); err != nil {
			return err
		}
	}
	return sc.Err()
}
