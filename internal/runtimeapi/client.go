// Package runtimeapi is an HTTP client for the runtime API control
// endpoint, either a real one or the local gateway emulator.
package runtimeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/oriys/customruntime/internal/domain"
	"github.com/oriys/customruntime/internal/pkg/vsock"
)

// StatusError is returned when a report is rejected by the endpoint.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("runtime API %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

// Client talks to one runtime API endpoint.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a client for addr, which is host:port, an http URL,
// or vsock://CID:PORT.
func NewClient(addr string, opts ...Option) (*Client, error) {
	c := &Client{client: &http.Client{}}

	switch {
	case vsock.IsAddr(addr):
		cid, port, err := vsock.ParseAddr(addr)
		if err != nil {
			return nil, err
		}
		c.baseURL = "http://vsock"
		c.client = &http.Client{
			Transport: &http.Transport{DialContext: vsock.DialContext(cid, port)},
		}
	case addr == "":
		return nil, fmt.Errorf("runtime API address is empty")
	case strings.HasPrefix(addr, "http://"):
		c.baseURL = addr
	default:
		c.baseURL = "http://" + addr
	}
	c.baseURL += "/" + domain.RuntimeAPIVersion + "/runtime"

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Next long-polls for the next invocation. Non-2xx responses are not an
// error; the caller inspects Invocation.OK.
func (c *Client) Next(ctx context.Context) (*domain.Invocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/invocation/next", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll next: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read invocation payload: %w", err)
	}
	return domain.NewInvocation(resp.StatusCode, resp.Header, payload), nil
}

// Respond reports a successful result for requestID.
func (c *Client) Respond(ctx context.Context, requestID string, body []byte) error {
	return c.post(ctx, "/invocation/"+requestID+"/response", body, "")
}

// ReportError reports an invocation error for requestID.
func (c *Client) ReportError(ctx context.Context, requestID string, er *domain.ErrorResponse) error {
	return c.postError(ctx, "/invocation/"+requestID+"/error", er)
}

// ReportInitError reports a fatal initialization error.
func (c *Client) ReportInitError(ctx context.Context, er *domain.ErrorResponse) error {
	return c.postError(ctx, "/init/error", er)
}

func (c *Client) postError(ctx context.Context, path string, er *domain.ErrorResponse) error {
	data, err := json.Marshal(er)
	if err != nil {
		return fmt.Errorf("marshal error response: %w", err)
	}
	return c.post(ctx, path, data, er.ErrorType)
}

func (c *Client) post(ctx context.Context, path string, body []byte, errorType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if errorType != "" {
		req.Header.Set(domain.HeaderFunctionErrorType, errorType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: string(msg)}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
