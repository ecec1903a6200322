package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreware/httpd"
	"github.com/coreware/httpd/scratch"
	"github.com/coreware/httpd/status"
	"github.com/coreware/httpd/uri"
)

func TestRouteMatchesAndProducesARealResponse(t *testing.T) {
	r := New()
	r.Handle([]string{"GET"}, `^/users/(\d+)$`, func(req *httpd.Request, resp *httpd.Response, state *scratch.State) {
		m, _ := state.Get(scratch.KeyMatch)
		resp.SetStatus(status.OK, []byte("user "+m.(Match).Groups[0]), "text/plain")
	})

	state := scratch.New()
	resp := httpd.NewResponse(state)
	r.Serve(&httpd.Request{Method: "GET", URI: &uri.Target{Path: "/users/42"}}, resp, state)

	assert.Equal(t, status.OK, resp.Status)
	assert.Equal(t, "user 42", string(resp.Body))
}

func TestRouteFallsThroughOnMethodMismatchToFallback(t *testing.T) {
	r := New()
	r.Handle([]string{"POST"}, `^/x$`, func(*httpd.Request, *httpd.Response, *scratch.State) {})
	r.Fallback = httpd.HandlerFunc(func(req *httpd.Request, resp *httpd.Response, state *scratch.State) {
		resp.SetStatus(status.Teapot, nil, "")
	})

	state := scratch.New()
	resp := httpd.NewResponse(state)
	r.Serve(&httpd.Request{Method: "GET", URI: &uri.Target{Path: "/x"}}, resp, state)

	assert.Equal(t, status.Teapot, resp.Status)
}

func TestRouteWithNoFallbackAnswers404(t *testing.T) {
	r := New()
	r.Handle([]string{"POST"}, `^/x$`, func(*httpd.Request, *httpd.Response, *scratch.State) {})

	state := scratch.New()
	resp := httpd.NewResponse(state)
	r.Serve(&httpd.Request{Method: "GET", URI: &uri.Target{Path: "/x"}}, resp, state)

	assert.Equal(t, status.NotFound, resp.Status)
}

func TestRouteScansInsertionOrder(t *testing.T) {
	r := New()
	var hit string
	r.Handle([]string{"GET"}, `^/a.*$`, func(*httpd.Request, *httpd.Response, *scratch.State) { hit = "first" })
	r.Handle([]string{"GET"}, `^/.*$`, func(*httpd.Request, *httpd.Response, *scratch.State) { hit = "second" })

	state := scratch.New()
	resp := httpd.NewResponse(state)
	r.Serve(&httpd.Request{Method: "GET", URI: &uri.Target{Path: "/abc"}}, resp, state)

	assert.Equal(t, "first", hit)
}

func TestRoutePublishesCaptureGroups(t *testing.T) {
	r := New()
	var gotID string
	r.Handle([]string{"GET"}, `^/users/(\d+)$`, func(req *httpd.Request, resp *httpd.Response, state *scratch.State) {
		m, _ := state.Get(scratch.KeyMatch)
		gotID = m.(Match).Groups[0]
		matches, ok := state.Get(scratch.KeyMatches)
		require.True(t, ok)
		assert.Equal(t, []string{"42"}, matches)
	})

	state := scratch.New()
	resp := httpd.NewResponse(state)
	r.Serve(&httpd.Request{Method: "GET", URI: &uri.Target{Path: "/users/42"}}, resp, state)
	assert.Equal(t, "42", gotID)
}
