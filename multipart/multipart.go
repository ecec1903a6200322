// Package multipart implements the streaming boundary scanner the
// request parser drives while in its ReadMultipartHeaders/
// ReadMultipartData states: it never buffers a whole part in memory
// unless that part has no filename, and it keeps enough trailing
// bytes in its scan buffer that a delimiter split across TCP segments
// is never missed.
package multipart

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformed is wrapped by every error this package returns for a
// framing violation the parser must turn into a 400 + Abort.
var ErrMalformed = errors.New("multipart: malformed framing")

// dispositionRE matches "form-data; name=X[; filename=Y]" per the
// Content-Disposition grammar spec.md §4.1 names; quotes around the
// value are optional, same as multipartBoundaryRE and
// contentTypeCharsetRE.
var dispositionRE = regexp.MustCompile(`form-data;\s*name="?([^";]*)"?(?:;\s*filename="?([^";]*)"?)?`)

// Part is one decoded part of a multipart/form-data body. A Part with
// a non-empty Filename streamed its body to a temp file (File); a
// Part without one accumulated its body in Value.
type Part struct {
	Name     string
	Filename string
	Value    string
	File     *os.File
}

// Form is the aggregate result of parsing a whole multipart body:
// field parts collapsed into Value, file parts collapsed into File.
type Form struct {
	Value map[string]string
	File  map[string]*Part
}

func newForm() *Form {
	return &Form{Value: make(map[string]string), File: make(map[string]*Part)}
}

// Close releases every temp file a Form's file parts opened. Callers
// must invoke this when the owning Request is destroyed.
func (f *Form) Close() error {
	var firstErr error
	for _, p := range f.File {
		if p.File == nil {
			continue
		}
		name := p.File.Name()
		if err := p.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		os.Remove(name)
	}
	return firstErr
}

// delimiter returns the boundary's opening delimiter ("--boundary")
// and its length-plus-slack the scanner must hold back before
// flushing bytes to the current part's sink.
func delimiter(boundary string) (open string, holdback int) {
	open = "--" + boundary
	return open, len(open) + 2 // CRLF or "--" trailer
}

// Reader incrementally scans a multipart/form-data body. Feed returns
// (progress=true) when it needs more input and (progress=false, done)
// when the whole body (through the final boundary) has been consumed.
type Reader struct {
	boundary string
	open     string
	holdback int

	buf        bytes.Buffer
	form       *Form
	cur        *Part
	curBuf     bytes.Buffer
	sawOpening bool
	done       bool
	tempDir    string
}

// NewReader builds a Reader for the given boundary token. tempDir, if
// non-empty, is where file-backed parts are created (os.CreateTemp's
// default directory otherwise).
func NewReader(boundary, tempDir string) *Reader {
	open, holdback := delimiter(boundary)
	return &Reader{boundary: boundary, open: open, holdback: holdback, form: newForm(), tempDir: tempDir}
}

// Feed appends newly read bytes and drains as many complete parts as
// the buffer allows. It returns true while more input is needed.
func (r *Reader) Feed(b []byte) (progress bool, err error) {
	if r.done {
		return false, nil
	}
	r.buf.Write(b)
	for {
		advanced, err := r.step()
		if err != nil {
			return false, err
		}
		if !advanced {
			break
		}
		if r.done {
			return false, nil
		}
	}
	return true, nil
}

// Form returns the accumulated result. Valid only once Feed has
// returned done.
func (r *Reader) Form() *Form { return r.form }

func (r *Reader) step() (advanced bool, err error) {
	data := r.buf.Bytes()

	if !r.sawOpening {
		// The body must begin with the delimiter immediately (no
		// preamble); once enough bytes have arrived to tell, a
		// mismatch is a hard framing error, not "need more data".
		if len(data) < len(r.open) {
			return false, nil
		}
		if !bytes.HasPrefix(data, []byte(r.open)) {
			return false, errors.Wrap(ErrMalformed, "multipart: missing initial boundary")
		}
		idx := 0
		rest := data[idx+len(r.open):]
		if len(rest) < 2 {
			return false, nil
		}
		if rest[0] == '-' && rest[1] == '-' {
			r.buf.Next(idx + len(r.open) + 2)
			r.done = true
			return true, nil
		}
		if rest[0] != '\r' || rest[1] != '\n' {
			return false, errors.Wrap(ErrMalformed, "multipart: missing initial boundary")
		}
		r.buf.Next(idx + len(r.open) + 2)
		r.sawOpening = true
		return true, nil
	}

	if r.cur == nil {
		headerEnd := bytes.Index(r.buf.Bytes(), []byte("\r\n\r\n"))
		if headerEnd < 0 {
			if r.buf.Len() > 64<<10 {
				return false, errors.Wrap(ErrMalformed, "multipart: part headers too large")
			}
			return false, nil
		}
		raw := r.buf.Next(headerEnd + 4)
		headerBlock := string(raw[:len(raw)-4])
		p, err := parsePartHeaders(headerBlock)
		if err != nil {
			return false, err
		}
		if p.Filename != "" {
			f, err := os.CreateTemp(r.tempDir, "httpd-upload-*")
			if err != nil {
				return false, errors.Wrap(err, "multipart: creating temp file")
			}
			p.File = f
		}
		r.cur = p
		r.curBuf.Reset()
		return true, nil
	}

	// Accumulating the current part's body, holding back enough bytes
	// that a split delimiter is never flushed early.
	data = r.buf.Bytes()
	idx := bytes.Index(data, []byte("\r\n"+r.open))
	if idx < 0 {
		if len(data) > r.holdback {
			flush := data[:len(data)-r.holdback]
			if err := r.sink(flush); err != nil {
				return false, err
			}
			r.buf.Next(len(flush))
		}
		return false, nil
	}
	if err := r.sink(data[:idx]); err != nil {
		return false, err
	}
	r.buf.Next(idx + 2) // consume body + CRLF, leave the delimiter itself
	if err := r.finishPart(); err != nil {
		return false, err
	}
	r.sawOpening = false // re-enter opening-scan for the next delimiter occurrence
	return true, nil
}

func (r *Reader) sink(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if r.cur.File != nil {
		_, err := r.cur.File.Write(b)
		return errors.Wrap(err, "multipart: writing temp file")
	}
	r.curBuf.Write(b)
	return nil
}

func (r *Reader) finishPart() error {
	p := r.cur
	if p.File != nil {
		if _, err := p.File.Seek(0, io.SeekStart); err != nil {
			return errors.Wrap(err, "multipart: rewinding temp file")
		}
		r.form.File[p.Name] = p
	} else {
		p.Value = r.curBuf.String()
		r.form.Value[p.Name] = p.Value
	}
	r.cur = nil
	return nil
}

func parsePartHeaders(block string) (*Part, error) {
	for _, line := range strings.Split(block, "\r\n") {
		if !strings.HasPrefix(strings.ToLower(line), "content-disposition:") {
			continue
		}
		m := dispositionRE.FindStringSubmatch(line)
		if m == nil {
			return nil, errors.Wrap(ErrMalformed, "multipart: malformed content-disposition")
		}
		return &Part{Name: m[1], Filename: m[2]}, nil
	}
	return nil, errors.Wrap(ErrMalformed, "multipart: missing content-disposition")
}

// ParseFormURLEncoded decodes an application/x-www-form-urlencoded
// body into a Form with only Value entries populated.
func ParseFormURLEncoded(body []byte) (*Form, error) {
	form := newForm()
	raw := string(body)
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		var key, val string
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key, val = pair[:i], pair[i+1:]
		} else {
			key = pair
		}
		key = unescapeFormValue(key)
		val = unescapeFormValue(val)
		form.Value[key] = val
	}
	return form, nil
}

func unescapeFormValue(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			var code int
			if _, err := fmt.Sscanf(s[i+1:i+3], "%02X", &code); err == nil {
				b.WriteByte(byte(code))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
