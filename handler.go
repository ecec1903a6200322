package httpd

import "github.com/coreware/httpd/scratch"

// Handler is the contract a host implements to answer requests. Serve
// mutates resp in place; returning normally resolves the handler's
// future. A handler that wants the three-tier error path spec.md §4.3
// describes panics with a *status.HttpError for an honoured status,
// or with any other value for a generic 500.
type Handler interface {
	Serve(req *Request, resp *Response, state *scratch.State)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(req *Request, resp *Response, state *scratch.State)

func (f HandlerFunc) Serve(req *Request, resp *Response, state *scratch.State) {
	f(req, resp, state)
}
