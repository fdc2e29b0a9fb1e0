package engine

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/oriys/customruntime/internal/domain"
	"github.com/oriys/customruntime/pkg/handler"
)

// InitError is a fatal handler initialization failure. It is reported to
// the control endpoint and then triggers the fatal-error policy.
type InitError struct {
	HandlerID string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init handler %q: %v", e.HandlerID, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// ErrorType names the failure on the wire.
func (e *InitError) ErrorType() string { return "Runtime.InitError" }

// Reason is the resolution failure class, used as a metric label.
func (e *InitError) Reason() string {
	if re, ok := e.Err.(*handler.ResolutionError); ok {
		return re.Reason.String()
	}
	return "unknown"
}

// InvocationError is a non-fatal failure of one invocation.
type InvocationError struct {
	RequestID string
	Err       error
	Panic     bool
	Stack     []string
}

func (e *InvocationError) Error() string {
	if e.Panic {
		return fmt.Sprintf("invocation %s: panic: %v", e.RequestID, e.Err)
	}
	return fmt.Sprintf("invocation %s: %v", e.RequestID, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// ErrorType names the failure on the wire.
func (e *InvocationError) ErrorType() string {
	if e.Panic {
		return "Runtime.Panic"
	}
	return errorType(e.Err)
}

type typedError interface {
	ErrorType() string
}

// errorType returns the name reported as errorType: the error's own
// ErrorType method if it has one, otherwise its Go type name.
func errorType(err error) string {
	if te, ok := err.(typedError); ok {
		return te.ErrorType()
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" {
		return "Error"
	}
	return t.Name()
}

func toErrorResponse(err error, stack []string) *domain.ErrorResponse {
	return &domain.ErrorResponse{
		ErrorMessage: err.Error(),
		ErrorType:    errorType(err),
		StackTrace:   stack,
	}
}

func splitStack(stack []byte) []string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(string(stack)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
