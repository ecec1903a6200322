package httpd

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coreware/httpd/scratch"
	"github.com/coreware/httpd/status"
)

// pendingExchange is one request/response pair in flight on a
// Connection: the parsed request, the response being built (by the
// parser directly, on a parse error, or by the handler), the scratch
// state shared between them, and the id assigned for correlation.
type pendingExchange struct {
	id    string
	req   *Request
	resp  *Response
	state *scratch.State
	// parseErr is set when the parser itself produced the response
	// (a 4xx/5xx before the handler ever ran); the handler is skipped.
	parseErr *ParseError
}

// handlerDone signals a dispatched handler goroutine has returned
// (normally or via panic, both recovered by dispatch).
type handlerDone struct{}

// Connection is the per-socket protocol engine spec.md §4.3
// describes: Go has no single-threaded event loop, so the concurrency
// model here is a read goroutine feeding the parser, one handler
// goroutine per in-flight request (a background-read-plus-channel
// shape), and whichever of those goroutines finalizes an exchange
// draining the pending FIFO to the socket (serialized by writeMu) in
// strict arrival order.
type Connection struct {
	id         string
	nc         net.Conn
	bw         *bufio.Writer
	cfg        *connConfig
	handler    Handler
	log        *zap.Logger
	remoteAddr string

	mu      sync.Mutex
	pending []*pendingExchange
	closing bool
	closed  chan struct{}

	// writeMu serializes drainPending: many handler goroutines can
	// finish concurrently and each nudges the writer, but only one at
	// a time may actually walk the FIFO and write to the socket.
	writeMu sync.Mutex
}

// connConfig is the subset of Config a Connection needs, copied out
// so Connection never holds a pointer back to the mutable owner.
type connConfig struct {
	MaxRequestSize     int64
	MaxMultipartSize   int64
	DefaultContentType string
	DefaultCharset     string
	TempDir            string

	RequestTimeout   time.Duration
	KeepAliveTimeout time.Duration
	ResponseTimeout  time.Duration

	ErrorDocumentMap map[int]string
}

// NewConnection wraps an accepted socket. Serve blocks until the
// socket disconnects or a fatal parse error ends the connection.
func NewConnection(nc net.Conn, cfg *connConfig, handler Handler, log *zap.Logger) *Connection {
	if log == nil {
		log = zap.NewNop()
	}
	return &Connection{
		id:         uuid.NewString(),
		nc:         nc,
		bw:         bufio.NewWriter(nc),
		cfg:        cfg,
		handler:    handler,
		log:        log,
		remoteAddr: nc.RemoteAddr().String(),
		closed:     make(chan struct{}),
	}
}

// Serve runs the read loop until the connection ends. It is meant to
// be invoked as `go conn.Serve()` by the Server's accept loop.
func (c *Connection) Serve() {
	defer c.disconnect()

	parser := c.newParser()
	if err := c.armIdleDeadline(); err != nil {
		return
	}

	buf := make([]byte, 16*1024)
	// carry holds bytes already read past the end of a completed
	// request (the start of the next pipelined request).
	var carry []byte
	for {
		var n int
		var err error
		chunk := carry
		carry = nil
		if len(chunk) == 0 {
			n, err = c.nc.Read(buf)
			chunk = buf[:n]
		}
		if len(chunk) > 0 {
			wasStarted := parser.started
			enteredBody, ferr := parser.Feed(chunk)
			if ferr != nil {
				c.log.Warn("parser error", zap.Error(ferr))
				return
			}
			if !wasStarted && parser.started {
				// First bytes of a new request: arm the single
				// absolute requestTimeout deadline from here. It is
				// not re-armed on every subsequent partial read, so a
				// client trickling bytes one at a time cannot reset
				// the clock forever, per spec.md §5 and §9.
				if derr := c.armRequestDeadline(); derr != nil {
					return
				}
			}
			if enteredBody {
				// Large uploads get one fresh window once the body
				// phase starts, per spec.md §5.
				c.armBodyDeadline()
			}
			if parser.state == stateComplete || parser.state == stateAbort {
				if parser.state == stateComplete {
					carry = append([]byte(nil), parser.buf.Bytes()...)
				}
				c.finishParsedRequest(parser)
				parser = c.newParser()
				if err := c.armIdleDeadline(); err != nil {
					return
				}
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() && parser.started {
				c.writeSynthesized408()
			}
			return
		}
	}
}

func (c *Connection) newParser() *requestParser {
	return newRequestParser(requestParserConfig{
		MaxRequestSize:     c.cfg.MaxRequestSize,
		MaxMultipartSize:   c.cfg.MaxMultipartSize,
		DefaultContentType: c.cfg.DefaultContentType,
		DefaultCharset:     c.cfg.DefaultCharset,
		TempDir:            c.cfg.TempDir,
		Log:                c.log,
	}, c.remoteAddr)
}

// writeSynthesized408 is the §4.3 "On timeout" branch for a read
// deadline that fires mid-request (a request line, headers, or body
// had already started arriving): the client gets a 408 rather than a
// silently dropped socket, which is reserved for the idle keep-alive
// wait.
func (c *Connection) writeSynthesized408() {
	resp := NewResponse(nil)
	resp.SetStatus(status.RequestTimeout, nil, "")
	resp.SetHeader("Connection", "close")
	resp.prepareToSend(0)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	resp.writeChunk(c.bw)
	c.bw.Flush()
}

// armIdleDeadline arms the keep-alive wait between requests: it runs
// exactly once per fresh parser, before any byte of the next request
// has arrived.
func (c *Connection) armIdleDeadline() error {
	if c.cfg.KeepAliveTimeout <= 0 {
		return c.nc.SetReadDeadline(time.Time{})
	}
	return c.nc.SetReadDeadline(time.Now().Add(c.cfg.KeepAliveTimeout))
}

// armRequestDeadline arms the one-shot requestTimeout bound at the
// moment the first byte of a request arrives. It must not be called
// again on every subsequent read, or a client could hold the
// connection open indefinitely by trickling bytes slower than the
// timeout.
func (c *Connection) armRequestDeadline() error {
	if c.cfg.RequestTimeout <= 0 {
		return c.nc.SetReadDeadline(time.Time{})
	}
	return c.nc.SetReadDeadline(time.Now().Add(c.cfg.RequestTimeout))
}

// armBodyDeadline extends the deadline once more at body-phase entry,
// giving a large upload its own requestTimeout window on top of the
// one already spent parsing the request line and headers.
func (c *Connection) armBodyDeadline() {
	if c.cfg.RequestTimeout <= 0 {
		return
	}
	c.nc.SetReadDeadline(time.Now().Add(c.cfg.RequestTimeout))
}

// finishParsedRequest takes a parser that just reached Complete or
// Abort, builds the pendingExchange, enqueues it in arrival order,
// and (if no parse error) dispatches the handler asynchronously.
func (c *Connection) finishParsedRequest(p *requestParser) {
	state := scratch.New()
	resp := NewResponse(state)
	pe := &pendingExchange{id: uuid.NewString(), req: p.req, resp: resp, state: state, parseErr: p.req.parseErr}
	state.Set(scratch.KeyRequestID, pe.id)

	c.mu.Lock()
	c.pending = append(c.pending, pe)
	c.mu.Unlock()

	if pe.parseErr != nil {
		resp.SetError(pe.parseErr.Status, pe.parseErr.Message, true, c.cfg.ErrorDocumentMap)
		resp.setupFromRequest(pe.req)
		c.finalize(pe)
		return
	}
	go c.dispatch(pe)
}

// dispatch runs the handler in its own goroutine, races it against
// responseTimeout, and applies the three failure branches spec.md
// §4.3 names before finalizing.
func (c *Connection) dispatch(pe *pendingExchange) {
	done := make(chan handlerDone, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				if pe.state.Finish() {
					if herr, ok := rec.(*status.HttpError); ok {
						pe.resp.SetError(herr.Status, herr.Message, false, c.cfg.ErrorDocumentMap)
					} else {
						pe.resp.SetError(status.InternalServerError, fmt.Sprint(rec), false, c.cfg.ErrorDocumentMap)
					}
				}
			}
			done <- handlerDone{}
		}()
		c.handler.Serve(pe.req, pe.resp, pe.state)
	}()

	var timeoutCh <-chan time.Time
	var timer *time.Timer
	if c.cfg.ResponseTimeout > 0 {
		timer = time.NewTimer(c.cfg.ResponseTimeout)
		timeoutCh = timer.C
	}

	select {
	case <-done:
		if timer != nil {
			timer.Stop()
		}
		if pe.state.Finish() && pe.resp.Status == status.None {
			c.log.Warn("handler left response unset, defaulting to 500")
			pe.resp.SetError(status.InternalServerError, "", false, c.cfg.ErrorDocumentMap)
		}
	case <-timeoutCh:
		if pe.state.Finish() {
			pe.resp.SetError(status.RequestTimeout, "", false, c.cfg.ErrorDocumentMap)
		}
		// The handler goroutine is abandoned; when it eventually
		// finishes its recover() block finds Finish() already false
		// and skips mutating the (already-queued) response.
		go func() { <-done }()
	}

	pe.resp.setupFromRequest(pe.req)
	c.finalize(pe)
}

// finalize prepares the wire buffer and nudges the writer if this
// exchange is at the head of the pending FIFO.
func (c *Connection) finalize(pe *pendingExchange) {
	pe.resp.prepareToSend(int(c.cfg.KeepAliveTimeout / time.Second))
	c.drainPending()
}

// drainPending walks the FIFO from the head, writing only while the
// head entry has finished serialization setup (sendSending/sendSent),
// which is how pipelining's strict in-order delivery is enforced: a
// response that resolved early still waits behind one still pending.
func (c *Connection) drainPending() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return
		}
		head := c.pending[0]
		c.mu.Unlock()

		head.resp.mu.Lock()
		ready := head.resp.state == sendSending || head.resp.state == sendSent
		head.resp.mu.Unlock()
		if !ready {
			return
		}

		done, err := head.resp.writeChunk(c.bw)
		if err != nil {
			c.bw.Flush()
			c.forceClose()
			return
		}
		if !done {
			c.bw.Flush()
			return
		}

		closeWanted := head.resp.wantsClose()
		c.mu.Lock()
		c.pending = c.pending[1:]
		c.mu.Unlock()
		head.req.Close()
		head.state.Finish()
		c.bw.Flush()

		if closeWanted {
			c.mu.Lock()
			c.closing = true
			c.mu.Unlock()
			c.forceClose()
			return
		}
	}
}

func (c *Connection) forceClose() {
	c.nc.Close()
}

// disconnect runs when the read loop exits: stop timers, mark every
// in-flight exchange finished so late handler resolutions are no-ops,
// release resources, close the socket.
func (c *Connection) disconnect() {
	c.mu.Lock()
	c.closing = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, pe := range pending {
		pe.state.Finish()
		pe.req.Close()
	}
	c.nc.Close()
	close(c.closed)
}
