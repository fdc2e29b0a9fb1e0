package domain

// MethodAny registers a route for every HTTP method.
const MethodAny = "ANY"

// RouteBinding maps a path pattern to a handler id. A binding with
// Children is a group: Pattern is a prefix applied to every child.
type RouteBinding struct {
	Pattern   string         `json:"pattern"`
	HandlerID string         `json:"handler,omitempty"`
	Children  []RouteBinding `json:"routes,omitempty"`
}

// RouteTable is the local routing configuration: HTTP method (or "ANY")
// to an ordered list of bindings.
type RouteTable map[string][]RouteBinding

// ProxyRequest is the API Gateway (REST, payload v1) proxy event
// synthesized by the local gateway emulator.
type ProxyRequest struct {
	Resource                        string              `json:"resource"`
	Path                            string              `json:"path"`
	HTTPMethod                      string              `json:"httpMethod"`
	Headers                         map[string]string   `json:"headers"`
	MultiValueHeaders               map[string][]string `json:"multiValueHeaders"`
	QueryStringParameters           map[string]string   `json:"queryStringParameters"`
	MultiValueQueryStringParameters map[string][]string `json:"multiValueQueryStringParameters"`
	PathParameters                  map[string]string   `json:"pathParameters"`
	StageVariables                  map[string]string   `json:"stageVariables"`
	RequestContext                  ProxyRequestContext `json:"requestContext"`
	Body                            *string             `json:"body"`
	IsBase64Encoded                 bool                `json:"isBase64Encoded"`
}

// ProxyRequestContext is the requestContext block of a ProxyRequest.
type ProxyRequestContext struct {
	AccountID    string        `json:"accountId"`
	ResourceID   string        `json:"resourceId"`
	Stage        string        `json:"stage"`
	RequestID    string        `json:"requestId"`
	ResourcePath string        `json:"resourcePath"`
	HTTPMethod   string        `json:"httpMethod"`
	Path         string        `json:"path"`
	Identity     ProxyIdentity `json:"identity"`
}

// ProxyIdentity is the caller identity of a ProxyRequest.
type ProxyIdentity struct {
	SourceIP  string `json:"sourceIp"`
	UserAgent string `json:"userAgent"`
}

// ProxyResponse is the API Gateway proxy integration response. Unset
// fields are omitted on the wire.
type ProxyResponse struct {
	StatusCode        int                 `json:"statusCode,omitempty"`
	Headers           map[string]string   `json:"headers,omitempty"`
	MultiValueHeaders map[string][]string `json:"multiValueHeaders,omitempty"`
	Body              string              `json:"body,omitempty"`
	IsBase64Encoded   bool                `json:"isBase64Encoded,omitempty"`
}
