package handler

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"

	"github.com/oriys/customruntime/internal/awsenv"
	"github.com/oriys/customruntime/internal/domain"
)

// Environment is the process-wide function identity copied into every
// Context.
type Environment struct {
	FunctionName    string
	FunctionVersion string
	MemoryLimitMB   int
	LogGroupName    string
	LogStreamName   string
	Region          string
	Local           bool

	// AWSConfig loads the SDK configuration for handlers. Optional.
	AWSConfig func(ctx context.Context) (aws.Config, error)
}

// Context is the per-invocation execution context passed to handlers.
type Context struct {
	Environment

	RequestID          string
	Deadline           time.Time
	InvokedFunctionARN string
	TraceID            string

	logger *slog.Logger
}

// NewContext builds a Context from an invocation's headers. header looks
// up a header value case-insensitively. A missing or malformed deadline
// leaves Deadline zero.
func NewContext(env Environment, header func(string) string, logger *slog.Logger) *Context {
	lc := &Context{
		Environment:        env,
		RequestID:          header(domain.HeaderRequestID),
		InvokedFunctionARN: header(domain.HeaderInvokedFunctionARN),
		TraceID:            header(domain.HeaderTraceID),
		logger:             logger,
	}
	if ms, err := strconv.ParseInt(header(domain.HeaderDeadlineMs), 10, 64); err == nil {
		lc.Deadline = time.UnixMilli(ms)
	}
	return lc
}

// RemainingTime is the time left before the deadline, never negative.
func (c *Context) RemainingTime() time.Duration {
	if c.Deadline.IsZero() {
		return 0
	}
	if d := time.Until(c.Deadline); d > 0 {
		return d
	}
	return 0
}

// Logger returns the log target for this invocation.
func (c *Context) Logger() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// FunctionARN parses InvokedFunctionARN, which must name a Lambda
// function resource.
func (c *Context) FunctionARN() (arn.ARN, error) {
	id, err := awsenv.ParseFunctionARN(c.InvokedFunctionARN)
	if err != nil {
		return arn.ARN{}, err
	}
	return id.ARN, nil
}

// Qualifier returns the version or alias the function was invoked
// through, or "" for an unqualified ARN.
func (c *Context) Qualifier() string {
	id, err := awsenv.ParseFunctionARN(c.InvokedFunctionARN)
	if err != nil {
		return ""
	}
	return id.Qualifier
}

// AWS returns the SDK configuration for the function's region.
func (c *Context) AWS(ctx context.Context) (aws.Config, error) {
	if c.AWSConfig == nil {
		return aws.Config{Region: c.Region}, nil
	}
	return c.AWSConfig(ctx)
}

type contextKey struct{}

// NewIncomingContext returns ctx carrying lc.
func NewIncomingContext(ctx context.Context, lc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext returns the Context stored by NewIncomingContext.
func FromContext(ctx context.Context) (*Context, bool) {
	lc, ok := ctx.Value(contextKey{}).(*Context)
	return lc, ok
}
