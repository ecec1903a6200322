// Package router implements the optional regex-based dispatcher
// spec.md §4.4 describes: an ordered list of {methods, pattern,
// handler} entries, matched by (method, path), with captured groups
// published into the request's scratch state. A Router is itself an
// httpd.Handler — it is wired in by being handed to httpd.New as the
// handler, not threaded through Connection/Server as a side channel.
package router

import (
	"regexp"

	"github.com/coreware/httpd"
	"github.com/coreware/httpd/scratch"
	"github.com/coreware/httpd/status"
)

// HandlerFunc is the function a Route invokes once it matches. It has
// the same shape as httpd.HandlerFunc: full read/write access to the
// request and response, not just the scratch state.
type HandlerFunc func(req *httpd.Request, resp *httpd.Response, state *scratch.State)

// Route is one registered {methods, pattern, handler} entry.
type Route struct {
	methods map[string]struct{}
	re      *regexp.Regexp
	handler HandlerFunc
}

// Match is the {"match", "matches"} pair a matched Route stores into
// scratch state before invoking its handler.
type Match struct {
	FullMatch string
	Groups    []string
}

// Router scans its Routes in registration order; match order here
// must be deterministic insertion order because patterns can
// overlap, unlike an exact-path mux where registration order never
// matters. Router implements httpd.Handler directly, so an embedder
// passes it to httpd.New in place of (or as) their Handler; Fallback
// is served for any request no Route claims, defaulting to a plain
// 404 when nil.
type Router struct {
	routes   []*Route
	Fallback httpd.Handler
}

// New returns an empty Router.
func New() *Router {
	return &Router{}
}

// Handle registers a route. pattern is compiled as a Go regexp; methods
// lists the HTTP methods (as sent on the wire, e.g. "GET") this route
// answers for.
func (r *Router) Handle(methods []string, pattern string, handler HandlerFunc) *Route {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[m] = struct{}{}
	}
	route := &Route{methods: set, re: regexp.MustCompile(pattern), handler: handler}
	r.routes = append(r.routes, route)
	return route
}

// Serve implements httpd.Handler. It scans for the first route whose
// method set contains req.Method and whose pattern matches the
// request path. On a hit it publishes the capture groups into state
// and invokes the route's handler with full req/resp access. On a
// miss it defers to Fallback, or answers 404 itself if Fallback is
// nil.
func (r *Router) Serve(req *httpd.Request, resp *httpd.Response, state *scratch.State) {
	for _, route := range r.routes {
		if _, ok := route.methods[req.Method]; !ok {
			continue
		}
		m := route.re.FindStringSubmatch(req.URI.Path)
		if m == nil {
			continue
		}
		state.Set(scratch.KeyMatch, Match{FullMatch: m[0], Groups: m[1:]})
		state.Set(scratch.KeyMatches, m[1:])
		route.handler(req, resp, state)
		return
	}
	if r.Fallback != nil {
		r.Fallback.Serve(req, resp, state)
		return
	}
	resp.SetStatus(status.NotFound, nil, "text/plain")
}
