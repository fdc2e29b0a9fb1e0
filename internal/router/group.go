package router

import "net/http"

// Group registers routes under a shared path prefix. Nested groups
// concatenate their prefixes; everything lands in the parent Router's
// per-method tables.
type Group struct {
	router *Router
	prefix string
	err    error
}

// Group opens a nested group under prefix.
func (g *Group) Group(prefix string, fn func(g *Group)) {
	child := &Group{router: g.router, prefix: joinPath(g.prefix, prefix)}
	fn(child)
	if g.err == nil {
		g.err = child.err
	}
}

// Handle registers pattern for method under the group prefix. The first
// registration error is kept and returned from Router.Group.
func (g *Group) Handle(method, pattern, handlerID string) {
	if err := g.router.Add(method, joinPath(g.prefix, pattern), handlerID); err != nil && g.err == nil {
		g.err = err
	}
}

func (g *Group) Get(pattern, handlerID string)    { g.Handle(http.MethodGet, pattern, handlerID) }
func (g *Group) Post(pattern, handlerID string)   { g.Handle(http.MethodPost, pattern, handlerID) }
func (g *Group) Put(pattern, handlerID string)    { g.Handle(http.MethodPut, pattern, handlerID) }
func (g *Group) Patch(pattern, handlerID string)  { g.Handle(http.MethodPatch, pattern, handlerID) }
func (g *Group) Delete(pattern, handlerID string) { g.Handle(http.MethodDelete, pattern, handlerID) }
