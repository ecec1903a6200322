package httpd_test

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreware/httpd"
	"github.com/coreware/httpd/config"
	"github.com/coreware/httpd/internal/testserver"
	"github.com/coreware/httpd/scratch"
)

// readOneResponse reads a single HTTP/1.1 response (status line,
// headers, Content-Length-sized body) from r.
func readOneResponse(t *testing.T, r *bufio.Reader) (statusLine string, body string) {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	statusLine = strings.TrimRight(line, "\r\n")

	var contentLength int
	for {
		hline, err := r.ReadString('\n')
		require.NoError(t, err)
		trimmed := strings.TrimRight(hline, "\r\n")
		if trimmed == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(trimmed), "content-length:") {
			fmt.Sscanf(trimmed, "Content-Length: %d", &contentLength)
		}
	}
	buf := make([]byte, contentLength)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	return statusLine, string(buf)
}

// TestPipeliningPreservesArrivalOrder sends two pipelined requests on
// one connection where the first handler resolves slower than the
// second, and asserts the responses still arrive in request order.
func TestPipeliningPreservesArrivalOrder(t *testing.T) {
	cfg := config.New()
	handler := httpd.HandlerFunc(func(req *httpd.Request, resp *httpd.Response, state *scratch.State) {
		if req.URI.Path == "/slow" {
			time.Sleep(150 * time.Millisecond)
			resp.SetStatus(200, []byte("first"), "text/plain")
			return
		}
		resp.SetStatus(200, []byte("second"), "text/plain")
	})
	srv := testserver.Start(t, cfg, handler)
	conn := srv.Dial()
	defer conn.Close()

	raw := "GET /slow HTTP/1.1\r\nHost: h\r\n\r\n" + "GET /fast HTTP/1.1\r\nHost: h\r\n\r\n"
	_, err := conn.Write([]byte(raw))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	r := bufio.NewReader(conn)
	_, body1 := readOneResponse(t, r)
	_, body2 := readOneResponse(t, r)

	assert.Equal(t, "first", body1)
	assert.Equal(t, "second", body2)
}

// TestResponseTimeoutYields408AndIgnoresLateMutation covers the
// responseTimeout branch: a handler that outlives its budget gets
// its response forced to 408, and its eventual (late) attempt to
// mutate resp is a silent no-op rather than corrupting the already
// queued wire bytes.
func TestResponseTimeoutYields408AndIgnoresLateMutation(t *testing.T) {
	cfg := config.New()
	cfg.ResponseTimeout = 50 * time.Millisecond
	releaseHandler := make(chan struct{})
	srv := testserver.Start(t, cfg, httpd.HandlerFunc(func(req *httpd.Request, resp *httpd.Response, state *scratch.State) {
		time.Sleep(200 * time.Millisecond)
		resp.SetStatus(200, []byte("too-late"), "text/plain")
		close(releaseHandler)
	}))
	conn := srv.Dial()
	defer conn.Close()

	_, err := conn.Write([]byte("GET /x HTTP/1.1\r\nHost: h\r\n\r\n"))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	r := bufio.NewReader(conn)
	statusLine, body := readOneResponse(t, r)
	assert.Contains(t, statusLine, "408")
	assert.NotEqual(t, "too-late", body)

	select {
	case <-releaseHandler:
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned handler goroutine never completed")
	}
}

// TestRequestTimeoutCannotBeBypassedByTricklingBytes sends a request
// line one byte at a time, each well inside RequestTimeout, so the
// total time to finish the request line comfortably exceeds
// RequestTimeout. If the deadline were a sliding window refreshed on
// every read (instead of one absolute deadline from the start of the
// request) the connection would never time out; it must.
func TestRequestTimeoutCannotBeBypassedByTricklingBytes(t *testing.T) {
	cfg := config.New()
	cfg.RequestTimeout = 150 * time.Millisecond
	srv := testserver.Start(t, cfg, echoHandler("unused", 200))
	conn := srv.Dial()
	defer conn.Close()

	line := "GET /x HTTP/1.1\r\nHost: h\r\n\r\n"
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	start := time.Now()
	for i := 0; i < len(line); i++ {
		_, err := conn.Write([]byte{line[i]})
		if err != nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	buf := make([]byte, 512)
	n, _ := conn.Read(buf)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 3*time.Second, "connection should have ended before the client's read deadline")
	if n > 0 {
		assert.Contains(t, string(buf[:n]), "408")
	}
}
