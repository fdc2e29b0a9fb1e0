// Package awsenv builds the AWS SDK configuration handed to handlers and
// the invoked-function ARNs the local gateway emulator synthesizes.
package awsenv

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// LocalAccountID is the mocked account used for emulator ARNs.
const LocalAccountID = "000000000000"

// Loader loads an aws.Config once and hands out copies.
type Loader struct {
	region string
	local  bool

	once sync.Once
	cfg  aws.Config
	err  error
}

// NewLoader creates a loader for region. In local mode the config uses
// static placeholder credentials so SDK clients can be constructed
// against local endpoints without a credential chain.
func NewLoader(region string, local bool) *Loader {
	return &Loader{region: region, local: local}
}

// Config returns the loaded configuration.
func (l *Loader) Config(ctx context.Context) (aws.Config, error) {
	l.once.Do(func() {
		l.cfg, l.err = Load(ctx, l.region, l.local)
	})
	return l.cfg.Copy(), l.err
}

// Load builds an aws.Config from the default chain.
func Load(ctx context.Context, region string, local bool) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if local {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// FunctionARN builds arn:aws:lambda:<region>:<account>:function:<name>.
func FunctionARN(region, accountID, name string) string {
	return arn.ARN{
		Partition: "aws",
		Service:   "lambda",
		Region:    region,
		AccountID: accountID,
		Resource:  "function:" + name,
	}.String()
}

// FunctionIdentity is the parsed form of an invoked-function ARN.
type FunctionIdentity struct {
	ARN       arn.ARN
	Function  string
	Qualifier string // version or alias, empty when unqualified
}

// ParseFunctionARN parses an invoked-function ARN.
func ParseFunctionARN(s string) (FunctionIdentity, error) {
	a, err := arn.Parse(s)
	if err != nil {
		return FunctionIdentity{}, err
	}
	rest, ok := strings.CutPrefix(a.Resource, "function:")
	if !ok || rest == "" {
		return FunctionIdentity{}, fmt.Errorf("arn %q: not a function resource", s)
	}
	id := FunctionIdentity{ARN: a, Function: rest}
	if name, qualifier, ok := strings.Cut(rest, ":"); ok {
		id.Function, id.Qualifier = name, qualifier
	}
	return id, nil
}
