package httpd

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/coreware/httpd/cookie"
	"github.com/coreware/httpd/hdr"
	"github.com/coreware/httpd/scratch"
	"github.com/coreware/httpd/status"
)

// minCompressBodySize is the floor below which Compress is a no-op:
// gzip's own framing overhead would exceed the savings on tiny bodies.
const minCompressBodySize = 860

// sendState tracks where a Response sits in the wire-serialization
// lifecycle spec.md §3 describes.
type sendState int

const (
	sendNotValid sendState = iota // status not yet set
	sendValid
	sendSending // wire buffer materialized, draining to the socket
	sendSent
)

// Response is the mutable builder a handler fills in, and the wire
// serializer the Connection drains to the socket afterward.
type Response struct {
	Version string
	Status  int
	Message string

	Header  hdr.Header
	Cookies []*cookie.Cookie

	Body []byte

	state   sendState
	wire    bytes.Buffer
	sent    int
	chunked bool

	mu    sync.Mutex
	guard *scratch.State
}

// NewResponse returns an unset Response (status None) ready for a
// handler to fill in. guard is the scratch state whose Finished()
// flag write-poisons this Response: once the owning Connection has
// finalized or abandoned the exchange, every exported mutator below
// except SetError becomes a silent no-op, so a handler goroutine that
// resolves after its responseTimeout has already expired cannot
// corrupt bytes already queued for the wire.
func NewResponse(guard *scratch.State) *Response {
	return &Response{Version: "HTTP/1.1", Status: status.None, Header: hdr.Header{}, guard: guard}
}

// locked runs fn under r.mu, skipping it entirely if guard reports
// finished. Every exported mutator except SetError (which uses
// withLock) funnels through this.
func (r *Response) locked(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.guard != nil && r.guard.Finished() {
		return
	}
	fn()
}

// SetStatus sets the response status and, optionally, a body and
// content type in one call.
func (r *Response) SetStatus(code int, body []byte, contentType string) {
	r.locked(func() {
		r.Status = code
		if body != nil {
			r.Body = body
		}
		if contentType != "" {
			r.Header.Set(hdr.ContentType, contentType)
		}
		if r.Status != status.None {
			r.state = sendValid
		}
	})
}

// SetHeader sets a response header, replacing any prior value.
func (r *Response) SetHeader(key, value string) {
	r.locked(func() { r.Header.Set(key, value) })
}

// AddHeader appends a response header value.
func (r *Response) AddHeader(key, value string) {
	r.locked(func() { r.Header.Add(key, value) })
}

// SetCookie appends a Set-Cookie entry.
func (r *Response) SetCookie(c *cookie.Cookie) {
	r.locked(func() { r.Cookies = append(r.Cookies, c) })
}

// Redirect sets a 307 (temporary) or 308 (permanent) redirect to url,
// per spec.md §8 invariant 6.
func (r *Response) Redirect(url string, permanent bool) {
	code := status.TemporaryRedirect
	if permanent {
		code = status.PermanentRedirect
	}
	r.locked(func() {
		r.Status = code
		r.state = sendValid
		r.Header.Set(hdr.Location, url)
	})
}

// Compress gzip-encodes the current body in place and sets
// Content-Encoding, unless the body is below minCompressBodySize.
func (r *Response) Compress() error {
	var err error
	r.locked(func() {
		if len(r.Body) < minCompressBodySize {
			return
		}
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, werr := w.Write(r.Body); werr != nil {
			w.Close()
			err = werr
			return
		}
		if cerr := w.Close(); cerr != nil {
			err = cerr
			return
		}
		r.Body = buf.Bytes()
		r.Header.Set(hdr.ContentEncoding, "gzip")
	})
	return err
}

// SendBytes sets the body directly, with an explicit content type.
func (r *Response) SendBytes(code int, body []byte, contentType string) {
	r.SetStatus(code, body, contentType)
}

// EnableChunkedEncoding marks this response to be framed with
// Transfer-Encoding: chunked instead of Content-Length, for a body
// whose total size isn't known up front. The body already assembled
// in r.Body (whatever a handler
// has written to it by the time the response is finalized) is sent
// as a single chunk followed by the zero-length terminator. Response
// has no incremental streaming path: the whole body is buffered
// before anything is written, and a Transfer-Encoding header added by
// hand without this call is sent alongside Content-Length with the
// body unframed.
func (r *Response) EnableChunkedEncoding() {
	r.locked(func() { r.chunked = true })
}

// SendFile loads path's contents as the body. mimeType is supplied by
// the caller (MIME-type inference is an external collaborator per
// spec.md §1); attachment, if true, adds a Content-Disposition:
// attachment header with the file's base name. maxAge, if > 0, sets
// Cache-Control: max-age=N.
func (r *Response) SendFile(path string, mimeType string, attachment bool, maxAge int) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	r.SetStatus(status.OK, b, mimeType)
	r.locked(func() {
		if attachment {
			name := path
			if i := strings.LastIndexByte(path, '/'); i >= 0 {
				name = path[i+1:]
			}
			r.Header.Set(hdr.ContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))
		}
		if maxAge > 0 {
			r.Header.Set(hdr.CacheControl, fmt.Sprintf("max-age=%d", maxAge))
		}
	})
	return nil
}

// errorDocTemplate substitutes ${message}, ${statusCode}, ${statusStr}
// in an error-document template body.
func errorDocTemplate(tmpl string, code int, message string) string {
	r := strings.NewReplacer(
		"${message}", message,
		"${statusCode}", strconv.Itoa(code),
		"${statusStr}", status.Text(code),
	)
	return r.Replace(tmpl)
}

// withLock serializes access to r against any concurrently-running
// (and by now write-poisoned) handler goroutine, without itself
// checking guard.Finished() — the finalizer path runs exactly when
// that flag has just been set, so it must not defer to it.
func (r *Response) withLock(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

// SetError renders status code via the configured error-document map
// if one exists for code, otherwise a `{"message": "..."}` JSON body
// if a message was supplied, otherwise an empty body. closeConnection
// forces Connection: close; false leaves the request-implied value.
func (r *Response) SetError(code int, message string, closeConnection bool, errorDocs map[int]string) {
	r.withLock(func() {
		r.Status = code
		r.state = sendValid
		if tmplPath, ok := errorDocs[code]; ok {
			if raw, err := os.ReadFile(tmplPath); err == nil {
				r.Body = []byte(errorDocTemplate(string(raw), code, message))
				r.Header.Set(hdr.ContentType, "text/html; charset=UTF-8")
				if closeConnection {
					r.Header.Set(hdr.Connection, "close")
				}
				return
			}
		}
		if message != "" {
			r.Body = []byte(fmt.Sprintf(`{"message": %q}`, message))
			r.Header.Set(hdr.ContentType, "application/json")
		} else {
			r.Body = nil
		}
		if closeConnection {
			r.Header.Set(hdr.Connection, "close")
		}
	})
}

// setupFromRequest inherits the paired request's Connection header
// (defaulting to keep-alive) and, for a 405, populates Allow.
func (r *Response) setupFromRequest(req *Request) {
	if req == nil {
		return
	}
	r.withLock(func() {
		if _, ok := r.Header.Joined(hdr.Connection); !ok {
			conn, _ := req.Header.Joined(hdr.Connection)
			if conn == "" {
				conn = "keep-alive"
			}
			r.Header.Set(hdr.Connection, conn)
		}
		if r.Status == status.MethodNotAllowed {
			r.Header.Set(hdr.Allow, strings.Join(allowedMethods, ", "))
		}
	})
}

// wantsClose reports whether this response's Connection header asks
// to close the connection after it is sent.
func (r *Response) wantsClose() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wantsCloseLocked()
}

func (r *Response) wantsCloseLocked() bool {
	v, _ := r.Header.Joined(hdr.Connection)
	return strings.EqualFold(v, "close")
}

// prepareToSend finalizes the wire buffer: Content-Length, an
// optional Keep-Alive: timeout=N, then status line, headers, cookies,
// CRLF, body.
func (r *Response) prepareToSend(keepAliveTimeoutSeconds int) {
	r.withLock(func() {
		if r.state == sendSending || r.state == sendSent {
			return
		}
		if r.chunked {
			r.Header.Del(hdr.ContentLength)
			r.Header.Set(hdr.TransferEncoding, "chunked")
		} else {
			r.Header.Set(hdr.ContentLength, strconv.Itoa(len(r.Body)))
		}
		if !r.wantsCloseLocked() && keepAliveTimeoutSeconds > 0 {
			r.Header.Set(hdr.KeepAlive, fmt.Sprintf("timeout=%d", keepAliveTimeoutSeconds))
		}

		r.wire.Reset()
		reason := status.Text(r.Status)
		fmt.Fprintf(&r.wire, "%s %d %s\r\n", r.Version, r.Status, reason)
		r.Header.WriteSubset(&r.wire, nil)
		for _, c := range r.Cookies {
			if s := c.String(); s != "" {
				fmt.Fprintf(&r.wire, "%s: %s\r\n", hdr.SetCookie, s)
			}
		}
		r.wire.WriteString("\r\n")
		if r.chunked {
			writeChunkFrame(&r.wire, r.Body)
			r.wire.WriteString("0\r\n\r\n")
		} else {
			r.wire.Write(r.Body)
		}
		r.sent = 0
		r.state = sendSending
	})
}

// writeChunkFrame appends one Transfer-Encoding: chunked frame (hex
// length, CRLF, data, CRLF) to dst: "%x\r\n" followed by the raw
// bytes and a trailing CRLF. An empty body produces no frame (the
// terminator chunk is written separately by the caller).
func writeChunkFrame(dst *bytes.Buffer, body []byte) {
	if len(body) == 0 {
		return
	}
	fmt.Fprintf(dst, "%x\r\n", len(body))
	dst.Write(body)
	dst.WriteString("\r\n")
}

// writeChunk writes the unsent rest of the wire buffer to w in one
// Write call. It returns done=true once the cursor reaches the end of
// the buffer, or when the write fails.
func (r *Response) writeChunk(w interface {
	Write([]byte) (int, error)
}) (done bool, err error) {
	r.mu.Lock()
	data := r.wire.Bytes()[r.sent:]
	r.mu.Unlock()
	if len(data) == 0 {
		r.withLock(func() { r.state = sendSent })
		return true, nil
	}
	n, werr := w.Write(data)
	r.withLock(func() {
		r.sent += n
		if r.sent >= r.wire.Len() {
			r.state = sendSent
			done = true
		}
	})
	if werr != nil {
		return true, werr
	}
	return done, nil
}
