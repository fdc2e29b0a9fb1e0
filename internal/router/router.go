// Package router maps an HTTP method and path to a handler id.
//
// Routes are grouped by method and bucketed by segment count. A request
// only considers routes with the same number of segments as its path,
// plus any global "*" route registered for the method. Among the
// candidates the first registered match wins; there is no specificity
// ranking.
//
// Pattern segments:
//
//	literal   matches the same text
//	*         matches any single segment
//	:name     matches any non-empty segment and captures it as name
//	(regex)   matches when regex matches the whole segment
package router

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/oriys/customruntime/internal/domain"
)

// Params holds path parameters captured by :name segments.
type Params map[string]string

// Match is the result of a successful lookup.
type Match struct {
	HandlerID string
	Pattern   string
	Params    Params
}

type segmentKind int

const (
	segLiteral segmentKind = iota
	segWildcard
	segParam
	segPattern
)

type segment struct {
	kind  segmentKind
	text  string // literal text or param name
	regex *regexp.Regexp
}

func (s segment) match(part string) (bool, string) {
	switch s.kind {
	case segWildcard:
		return true, ""
	case segParam:
		return part != "", part
	case segPattern:
		return s.regex.MatchString(part), ""
	default:
		return s.text == part, ""
	}
}

type route struct {
	seq       int
	pattern   string
	handlerID string
	segments  []segment
}

type methodTable struct {
	buckets map[int][]*route
	global  *route
}

// Router is built once at startup and is safe for concurrent Match
// calls after registration completes.
type Router struct {
	methods map[string]*methodTable
	seq     int
}

// New creates an empty Router.
func New() *Router {
	return &Router{methods: make(map[string]*methodTable)}
}

// FromTable builds a Router from a route table. Methods are registered
// in sorted order; order within a method follows the table.
func FromTable(table domain.RouteTable) (*Router, error) {
	r := New()
	methods := make([]string, 0, len(table))
	for m := range table {
		methods = append(methods, m)
	}
	sort.Strings(methods)

	for _, method := range methods {
		if err := r.addBindings(method, "", table[method]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Router) addBindings(method, prefix string, bindings []domain.RouteBinding) error {
	for _, b := range bindings {
		if len(b.Children) > 0 {
			if err := r.addBindings(method, joinPath(prefix, b.Pattern), b.Children); err != nil {
				return err
			}
			continue
		}
		if err := r.Add(method, joinPath(prefix, b.Pattern), b.HandlerID); err != nil {
			return err
		}
	}
	return nil
}

// Add registers pattern for method. Method "ANY" is consulted for every
// method that has no match of its own.
func (r *Router) Add(method, pattern, handlerID string) error {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return fmt.Errorf("route %q: method is required", pattern)
	}
	if handlerID == "" {
		return fmt.Errorf("route %s %q: handler is required", method, pattern)
	}

	rt := &route{seq: r.seq, pattern: pattern, handlerID: handlerID}
	r.seq++

	table := r.methods[method]
	if table == nil {
		table = &methodTable{buckets: make(map[int][]*route)}
		r.methods[method] = table
	}

	trimmed := stripSlashes(pattern)
	if trimmed == "*" {
		if table.global == nil {
			table.global = rt
		}
		return nil
	}

	parts := strings.Split(trimmed, "/")
	rt.segments = make([]segment, len(parts))
	for i, p := range parts {
		seg, err := parseSegment(p)
		if err != nil {
			return fmt.Errorf("route %s %q: %w", method, pattern, err)
		}
		rt.segments[i] = seg
	}
	table.buckets[len(parts)] = append(table.buckets[len(parts)], rt)
	return nil
}

// Group registers every route added inside fn under prefix.
func (r *Router) Group(prefix string, fn func(g *Group)) error {
	g := &Group{router: r, prefix: prefix}
	fn(g)
	return g.err
}

// Match looks up the handler for method and path.
func (r *Router) Match(method, path string) (Match, bool) {
	method = strings.ToUpper(method)
	parts := strings.Split(stripSlashes(path), "/")

	if m, ok := r.matchMethod(method, parts); ok {
		return m, true
	}
	if method != domain.MethodAny {
		return r.matchMethod(domain.MethodAny, parts)
	}
	return Match{}, false
}

func (r *Router) matchMethod(method string, parts []string) (Match, bool) {
	table := r.methods[method]
	if table == nil {
		return Match{}, false
	}

	var found *route
	var params Params
	for _, rt := range table.buckets[len(parts)] {
		if p, ok := rt.match(parts); ok {
			found, params = rt, p
			break
		}
	}

	if table.global != nil && (found == nil || table.global.seq < found.seq) {
		return Match{HandlerID: table.global.handlerID, Pattern: table.global.pattern, Params: Params{}}, true
	}
	if found == nil {
		return Match{}, false
	}
	return Match{HandlerID: found.handlerID, Pattern: found.pattern, Params: params}, true
}

func (rt *route) match(parts []string) (Params, bool) {
	params := Params{}
	for i, part := range parts {
		ok, captured := rt.segments[i].match(part)
		if !ok {
			return nil, false
		}
		if rt.segments[i].kind == segParam {
			params[rt.segments[i].text] = captured
		}
	}
	return params, true
}

// Routes returns the registered routes as "METHOD pattern -> handler"
// lines in registration order.
func (r *Router) Routes() []string {
	type line struct {
		seq  int
		text string
	}
	var lines []line
	for method, table := range r.methods {
		if table.global != nil {
			lines = append(lines, line{table.global.seq, fmt.Sprintf("%s %s -> %s", method, table.global.pattern, table.global.handlerID)})
		}
		for _, bucket := range table.buckets {
			for _, rt := range bucket {
				lines = append(lines, line{rt.seq, fmt.Sprintf("%s %s -> %s", method, rt.pattern, rt.handlerID)})
			}
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].seq < lines[j].seq })

	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.text
	}
	return out
}

func parseSegment(p string) (segment, error) {
	switch {
	case p == "*":
		return segment{kind: segWildcard}, nil
	case len(p) > 1 && p[0] == ':':
		return segment{kind: segParam, text: p[1:]}, nil
	case len(p) > 1 && p[0] == '(' && p[len(p)-1] == ')':
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return segment{}, fmt.Errorf("invalid segment pattern %q: %w", p, err)
		}
		return segment{kind: segPattern, text: p, regex: re}, nil
	default:
		return segment{kind: segLiteral, text: p}, nil
	}
}

func stripSlashes(p string) string {
	p = strings.TrimPrefix(p, "/")
	return strings.TrimSuffix(p, "/")
}

func joinPath(prefix, p string) string {
	prefix = stripSlashes(prefix)
	p = stripSlashes(p)
	switch {
	case prefix == "":
		return "/" + p
	case p == "":
		return "/" + prefix
	default:
		return "/" + prefix + "/" + p
	}
}
