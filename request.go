package httpd

import (
	"os"
	"time"

	"github.com/coreware/httpd/hdr"
	"github.com/coreware/httpd/multipart"
	"github.com/coreware/httpd/uri"
)

// parseState is the request parser's finite state machine, named
// exactly as the protocol engine's states are named: the driver feeds
// it bytes and it advances one state at a time.
type parseState int

const (
	stateReadRequestLine parseState = iota
	stateReadHeader
	stateReadBody
	stateReadMultipartHeaders
	stateReadMultipartData
	stateComplete
	stateAbort
)

// allowedMethods is the fixed method set spec.md §4.1 names; an
// unrecognized token produces 405 with Allow built from this list.
var allowedMethods = []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"}

// FormFile is a form-data part streamed to a temporary file on disk.
type FormFile struct {
	Filename string
	File     *os.File
}

// Request is the fully- or partially-framed HTTP request a Connection
// hands to the handler. Fields fill in incrementally as the parser
// advances; by the time the handler runs every field below is final.
type Request struct {
	RemoteAddr string

	Method  string
	Target  string
	URI     *uri.Target
	Version string

	Header  hdr.Header
	Cookies map[string]string

	ContentLength int64
	Body          []byte

	MIMEType string
	Charset  string
	Boundary string

	FormFields map[string]string
	FormFiles  map[string]*FormFile

	// CreatedAt stamps when the first byte of this request arrived.
	CreatedAt time.Time

	// parseErr, once non-nil, is the pre-populated error the parser
	// wants the response to carry; the Connection skips handler
	// dispatch when this is set.
	parseErr *ParseError
}

// ParseError is the structured failure a parser state returns on
// Abort: a status plus the message to render, matching HttpError's
// shape for the response-writing path spec.md §4.2 describes.
type ParseError struct {
	Status  int
	Message string
}

func (e *ParseError) Error() string { return e.Message }

// Close releases this request's temporary upload files. The owning
// Connection calls this when the request/response pair is destroyed.
func (r *Request) Close() error {
	var firstErr error
	for _, f := range r.FormFiles {
		if f.File == nil {
			continue
		}
		name := f.File.Name()
		if err := f.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		os.Remove(name)
	}
	return firstErr
}

func formFromMultipart(f *multipart.Form) (map[string]string, map[string]*FormFile) {
	fields := f.Value
	files := make(map[string]*FormFile, len(f.File))
	for name, p := range f.File {
		files[name] = &FormFile{Filename: p.Filename, File: p.File}
	}
	return fields, files
}
