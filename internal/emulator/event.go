package emulator

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/oriys/customruntime/internal/awsenv"
	"github.com/oriys/customruntime/internal/domain"
	"github.com/oriys/customruntime/internal/router"
)

const stageName = "dev"

// proxyEvent synthesizes the API Gateway proxy event for r. body is nil
// for methods that carry no payload.
func proxyEvent(r *http.Request, requestID string, match router.Match, body *string) domain.ProxyRequest {
	path := r.URL.Path
	first, rest := splitFirst(path)

	resource := "/" + first
	if rest != "" {
		resource += "/{any+}"
	}

	params := map[string]string(nil)
	if len(match.Params) > 0 {
		params = make(map[string]string, len(match.Params))
		for k, v := range match.Params {
			params[k] = v
		}
	} else if rest != "" {
		params = map[string]string{"any": rest}
	}

	headers := make(map[string]string, len(r.Header))
	multiHeaders := make(map[string][]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = strings.Join(v, ", ")
		multiHeaders[k] = append([]string(nil), v...)
	}

	var query map[string]string
	var multiQuery map[string][]string
	if q := r.URL.Query(); len(q) > 0 {
		query = make(map[string]string, len(q))
		multiQuery = make(map[string][]string, len(q))
		for k, v := range q {
			query[k] = v[len(v)-1]
			multiQuery[k] = v
		}
	}

	return domain.ProxyRequest{
		Resource:                        resource,
		Path:                            path,
		HTTPMethod:                      r.Method,
		Headers:                         headers,
		MultiValueHeaders:               multiHeaders,
		QueryStringParameters:           query,
		MultiValueQueryStringParameters: multiQuery,
		PathParameters:                  params,
		Body:                            body,
		RequestContext: domain.ProxyRequestContext{
			AccountID:    awsenv.LocalAccountID,
			ResourceID:   "mocked-" + uuid.NewString()[:8],
			Stage:        stageName,
			RequestID:    requestID,
			ResourcePath: resource,
			HTTPMethod:   r.Method,
			Path:         path,
			Identity: domain.ProxyIdentity{
				SourceIP:  remoteIP(r),
				UserAgent: r.UserAgent(),
			},
		},
	}
}

// splitFirst splits "/a/b/c" into "a" and "b/c".
func splitFirst(path string) (string, string) {
	p := strings.Trim(path, "/")
	first, rest, _ := strings.Cut(p, "/")
	return first, rest
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}
