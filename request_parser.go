package httpd

import (
	"bytes"
	"compress/gzip"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coreware/httpd/cookie"
	"github.com/coreware/httpd/hdr"
	"github.com/coreware/httpd/multipart"
	"github.com/coreware/httpd/status"
	"github.com/coreware/httpd/uri"
)

const maxRequestLineBytes = 4096

// multipartBoundaryRE and contentTypeCharsetRE implement the two
// Content-Type forms spec.md §4.1 tries before falling back to "the
// whole value is the MIME".
var (
	multipartBoundaryRE  = regexp.MustCompile(`(?i)^multipart/form-data\s*;\s*boundary="?([^";]+)"?`)
	contentTypeCharsetRE = regexp.MustCompile(`(?i)^([^;]+?)\s*;\s*charset="?([^"]+)"?`)
)

// requestParser drives the state machine spec.md §4.1 describes. One
// instance exists per in-flight request; the owning Connection feeds
// it bytes as they arrive on the socket.
type requestParser struct {
	state parseState
	buf   bytes.Buffer

	req *Request

	maxRequestSize   int64
	maxMultipartSize int64
	requestBytesSize int64
	multipartSize    int64
	started          bool

	defaultContentType string
	defaultCharset      string
	tempDir             string

	contentLength   int64
	sawContentLength bool
	formURLEncoded  bool

	mp *multipart.Reader

	log *zap.Logger
}

type requestParserConfig struct {
	MaxRequestSize     int64
	MaxMultipartSize   int64
	DefaultContentType string
	DefaultCharset     string
	TempDir            string
	Log                *zap.Logger
}

func newRequestParser(cfg requestParserConfig, remoteAddr string) *requestParser {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &requestParser{
		state:              stateReadRequestLine,
		req:                &Request{RemoteAddr: remoteAddr, Header: hdr.Header{}, Cookies: map[string]string{}},
		maxRequestSize:     cfg.MaxRequestSize,
		maxMultipartSize:   cfg.MaxMultipartSize,
		defaultContentType: cfg.DefaultContentType,
		defaultCharset:     cfg.DefaultCharset,
		tempDir:            cfg.TempDir,
		log:                log,
	}
}

// Feed appends newly read socket bytes and drives the state machine
// forward as far as it can go. It returns once the machine needs more
// bytes (state remains what it was), reaches Complete, or reaches
// Abort; entered body phase is reported via enteredBody so the
// Connection can restart the request timer for large uploads.
func (p *requestParser) Feed(b []byte) (enteredBody bool, err error) {
	if len(b) > 0 {
		if !p.started {
			p.req.CreatedAt = time.Now()
		}
		p.started = true
	}
	p.buf.Write(b)
	wasBody := p.state == stateReadBody || p.state == stateReadMultipartData
	for {
		advanced, stepErr := p.step()
		if stepErr != nil {
			p.abort(status.BadRequest, stepErr.Error())
			return p.enteredBodyNow(wasBody), nil
		}
		if p.state == stateComplete || p.state == stateAbort {
			return p.enteredBodyNow(wasBody), nil
		}
		if !advanced {
			return p.enteredBodyNow(wasBody), nil
		}
	}
}

func (p *requestParser) enteredBodyNow(wasBody bool) bool {
	isBody := p.state == stateReadBody || p.state == stateReadMultipartData
	return isBody && !wasBody
}

func (p *requestParser) abort(code int, message string) {
	p.state = stateAbort
	p.req.parseErr = &ParseError{Status: code, Message: message}
}

func (p *requestParser) step() (advanced bool, err error) {
	switch p.state {
	case stateReadRequestLine:
		return p.stepRequestLine()
	case stateReadHeader:
		return p.stepHeader()
	case stateReadBody:
		return p.stepBody()
	case stateReadMultipartHeaders, stateReadMultipartData:
		return p.stepMultipart()
	default:
		return false, nil
	}
}

func (p *requestParser) stepRequestLine() (bool, error) {
	for {
		data := p.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			if p.buf.Len() > maxRequestLineBytes {
				p.abort(status.RequestHeaderFieldsTooLarge, "request line too long")
				return true, nil
			}
			return false, nil
		}
		line := p.buf.Next(idx + 1)
		p.requestBytesSize += int64(len(line))
		if p.requestBytesSize > p.maxRequestSize {
			p.abort(status.RequestHeaderFieldsTooLarge, "request line too large")
			return true, nil
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			// RFC 2616 §4.1: tolerate empty leading lines before the
			// request line.
			continue
		}
		parts := strings.Split(string(line), " ")
		if len(parts) != 3 {
			p.abort(status.BadRequest, "malformed request line")
			return true, nil
		}
		method, target, version := parts[0], parts[1], parts[2]
		if !strings.HasPrefix(version, "HTTP") {
			p.abort(status.BadRequest, "malformed request line")
			return true, nil
		}
		if version == "HTTP/0.9" || version == "HTTP/1.0" {
			p.abort(status.HTTPVersionNotSupported, "unsupported HTTP version")
			return true, nil
		}
		if !isAllowedMethod(method) {
			p.abort(status.MethodNotAllowed, "method not allowed")
			return true, nil
		}
		u, uerr := uri.Parse(target)
		if uerr != nil {
			p.abort(status.BadRequest, "malformed request target")
			return true, nil
		}
		p.req.Method = method
		p.req.Target = target
		p.req.URI = u
		p.req.Version = version
		p.state = stateReadHeader
		return true, nil
	}
}

func isAllowedMethod(m string) bool {
	for _, a := range allowedMethods {
		if a == m {
			return true
		}
	}
	return false
}

func (p *requestParser) stepHeader() (bool, error) {
	for {
		data := p.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			return false, nil
		}
		line := p.buf.Next(idx + 1)
		p.requestBytesSize += int64(len(line))
		if p.requestBytesSize > p.maxRequestSize {
			p.abort(status.RequestHeaderFieldsTooLarge, "headers too large")
			return true, nil
		}
		trimmed := string(bytes.TrimRight(line, "\r\n"))
		if trimmed == "" {
			return true, p.finishHeaders()
		}
		i := strings.IndexByte(trimmed, ':')
		if i < 0 {
			p.abort(status.BadRequest, "malformed header line")
			return true, nil
		}
		name := trimmed[:i]
		value := strings.TrimSpace(trimmed[i+1:])
		if strings.EqualFold(name, hdr.Cookie) {
			for k, v := range cookie.ParseRequestHeader(value) {
				p.req.Cookies[k] = v
			}
			continue
		}
		if prev, ok := p.req.Header.Joined(name); ok {
			value = prev + ", " + value
		}
		p.req.Header.Set(name, value)
	}
}

func (p *requestParser) finishHeaders() error {
	if v, ok := p.req.Header.Joined(hdr.ContentLength); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return errBadContentLength
		}
		p.contentLength = n
		p.sawContentLength = true
	}
	p.req.ContentLength = p.contentLength

	ct, _ := p.req.Header.Joined(hdr.ContentType)
	switch {
	case multipartBoundaryRE.MatchString(ct):
		m := multipartBoundaryRE.FindStringSubmatch(ct)
		p.req.Boundary = m[1]
		p.req.MIMEType = "multipart/form-data"
		p.req.Charset = p.defaultCharset
	case contentTypeCharsetRE.MatchString(ct):
		m := contentTypeCharsetRE.FindStringSubmatch(ct)
		p.req.MIMEType = m[1]
		p.req.Charset = m[2]
	case ct != "":
		p.req.MIMEType = ct
		p.req.Charset = p.defaultCharset
	default:
		p.req.MIMEType = p.defaultContentType
		p.req.Charset = p.defaultCharset
	}

	if p.req.Boundary != "" {
		p.mp = multipart.NewReader(p.req.Boundary, p.tempDir)
		p.state = stateReadMultipartData
		return nil
	}
	p.formURLEncoded = strings.EqualFold(p.req.MIMEType, "application/x-www-form-urlencoded")
	if p.contentLength == 0 {
		p.state = stateComplete
		return nil
	}
	p.state = stateReadBody
	return nil
}

var errBadContentLength = &ParseError{Status: status.BadRequest, Message: "malformed Content-Length"}

func (p *requestParser) stepBody() (bool, error) {
	need := p.contentLength - int64(len(p.req.Body))
	if need <= 0 {
		return true, p.finishBody()
	}
	avail := int64(p.buf.Len())
	if avail == 0 {
		return false, nil
	}
	take := need
	if avail < take {
		take = avail
	}
	p.requestBytesSize += take
	if p.requestBytesSize > p.maxRequestSize {
		p.abort(status.RequestEntityTooLarge, "request body too large")
		return true, nil
	}
	chunk := make([]byte, take)
	p.buf.Read(chunk)
	p.req.Body = append(p.req.Body, chunk...)
	if int64(len(p.req.Body)) >= p.contentLength {
		return true, p.finishBody()
	}
	return true, nil
}

func (p *requestParser) finishBody() error {
	if enc, _ := p.req.Header.Joined(hdr.ContentEncoding); strings.EqualFold(enc, "gzip") && len(p.req.Body) > 0 {
		decoded, err := gunzip(p.req.Body)
		if err != nil {
			p.log.Warn("gzip decode failed, using empty body", zap.Error(err))
			p.req.Body = nil
		} else {
			p.req.Body = decoded
		}
	}
	if p.formURLEncoded {
		form, _ := multipart.ParseFormURLEncoded(p.req.Body)
		p.req.FormFields = form.Value
		p.req.Body = nil
	}
	p.state = stateComplete
	return nil
}

func gunzip(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (p *requestParser) stepMultipart() (bool, error) {
	chunk := p.buf.Bytes()
	p.buf.Next(len(chunk))
	// Everything fed to the multipart scanner, framing bytes included,
	// counts only against maxMultipartSize: the initial request-line
	// and header-block bytes already charged maxRequestSize in
	// stepHeader, and multipart bodies are routinely far larger than
	// a sane header cap. A body over maxMultipartSize (1 MiB by
	// default) aborts with 413.
	p.multipartSize += int64(len(chunk))
	if p.multipartSize > p.maxMultipartSize {
		p.abort(status.RequestEntityTooLarge, "multipart body too large")
		return true, nil
	}
	progress, err := p.mp.Feed(chunk)
	if err != nil {
		p.abort(status.BadRequest, err.Error())
		return true, nil
	}
	if !progress {
		form := p.mp.Form()
		p.req.FormFields, p.req.FormFiles = formFromMultipart(form)
		p.state = stateComplete
		return true, nil
	}
	return false, nil
}
