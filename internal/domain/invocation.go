package domain

import (
	"net/http"
	"strings"
)

// RuntimeAPIVersion is the path version prefix of the runtime API.
const RuntimeAPIVersion = "2018-06-01"

// Runtime API headers
const (
	HeaderRequestID          = "Lambda-Runtime-Aws-Request-Id"
	HeaderDeadlineMs         = "Lambda-Runtime-Deadline-Ms"
	HeaderInvokedFunctionARN = "Lambda-Runtime-Invoked-Function-Arn"
	HeaderTraceID            = "Lambda-Runtime-Trace-Id"
	HeaderFunctionErrorType  = "Lambda-Runtime-Function-Error-Type"

	// HeaderLocalHandler carries the handler id resolved by the local
	// gateway emulator. The real runtime API never sends it.
	HeaderLocalHandler = "Local-Handler"

	// W3C trace context from the emulator to workers.
	HeaderTraceparent = "Traceparent"
	HeaderTracestate  = "Tracestate"
)

// Invocation is one unit of work handed to a worker, either polled from
// the runtime API or synthesized by the local gateway emulator.
type Invocation struct {
	ID          string
	Payload     []byte
	StatusCode  int
	Headers     map[string]string // keys are lower-cased
	HandlerHint string
}

// NewInvocation builds an Invocation from a runtime API "next" response.
// Multi-valued headers are joined with ", ".
func NewInvocation(statusCode int, header http.Header, payload []byte) *Invocation {
	headers := make(map[string]string, len(header))
	for k, v := range header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return &Invocation{
		ID:          headers[strings.ToLower(HeaderRequestID)],
		Payload:     payload,
		StatusCode:  statusCode,
		Headers:     headers,
		HandlerHint: headers[strings.ToLower(HeaderLocalHandler)],
	}
}

// Header returns the value of the named header, case-insensitively.
func (i *Invocation) Header(name string) string {
	if i == nil || i.Headers == nil {
		return ""
	}
	return i.Headers[strings.ToLower(name)]
}

// OK reports whether the poll that produced the invocation succeeded.
func (i *Invocation) OK() bool {
	return i.StatusCode >= 200 && i.StatusCode < 300
}

// ErrorResponse is the body posted to the runtime API error endpoints.
type ErrorResponse struct {
	ErrorMessage string   `json:"errorMessage"`
	ErrorType    string   `json:"errorType"`
	StackTrace   []string `json:"stackTrace,omitempty"`
}
