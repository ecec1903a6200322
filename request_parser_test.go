package httpd

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreware/httpd/hdr"
	"github.com/coreware/httpd/status"
)

func testParserConfig() requestParserConfig {
	return requestParserConfig{
		MaxRequestSize:     16 << 10,
		MaxMultipartSize:   1 << 20,
		DefaultContentType: "text/plain",
		DefaultCharset:     "UTF-8",
	}
}

func feedAll(t *testing.T, p *requestParser, raw string) {
	t.Helper()
	_, err := p.Feed([]byte(raw))
	require.NoError(t, err)
}

func TestParserBasicGET(t *testing.T) {
	p := newRequestParser(testParserConfig(), "1.2.3.4:5")
	feedAll(t, p, "GET /foo HTTP/1.1\r\nHost: h\r\n\r\n")
	require.Equal(t, stateComplete, p.state)
	assert.Equal(t, "GET", p.req.Method)
	assert.Equal(t, "/foo", p.req.URI.Path)
	assert.Equal(t, "h", p.req.Header.Get(hdr.Host))
}

func TestParserFeedsAcrossMultipleReads(t *testing.T) {
	p := newRequestParser(testParserConfig(), "1.2.3.4:5")
	raw := "GET /foo HTTP/1.1\r\nHost: h\r\nX-A: 1\r\n\r\n"
	for i := 0; i < len(raw); i++ {
		_, err := p.Feed([]byte{raw[i]})
		require.NoError(t, err)
	}
	assert.Equal(t, stateComplete, p.state)
	assert.Equal(t, "1", p.req.Header.Get("X-A"))
}

func TestParserUnknownMethodIs405(t *testing.T) {
	p := newRequestParser(testParserConfig(), "1.2.3.4:5")
	feedAll(t, p, "PATCH /x HTTP/1.1\r\n\r\n")
	require.Equal(t, stateAbort, p.state)
	require.NotNil(t, p.req.parseErr)
	assert.Equal(t, status.MethodNotAllowed, p.req.parseErr.Status)
}

func TestParserOldVersionIs505(t *testing.T) {
	p := newRequestParser(testParserConfig(), "1.2.3.4:5")
	feedAll(t, p, "GET /x HTTP/1.0\r\n\r\n")
	require.Equal(t, stateAbort, p.state)
	assert.Equal(t, status.HTTPVersionNotSupported, p.req.parseErr.Status)
}

func TestParserDuplicateHeadersJoinWithCommaSpace(t *testing.T) {
	p := newRequestParser(testParserConfig(), "1.2.3.4:5")
	feedAll(t, p, "GET /x HTTP/1.1\r\nX-A: one\r\nX-A: two\r\n\r\n")
	assert.Equal(t, "one, two", p.req.Header.Get("X-A"))
}

func TestParserCookieHeaderSplitsOnSemicolonAndEquals(t *testing.T) {
	p := newRequestParser(testParserConfig(), "1.2.3.4:5")
	feedAll(t, p, "GET /x HTTP/1.1\r\nCookie: a=1; b=2\r\n\r\n")
	assert.Equal(t, "1", p.req.Cookies["a"])
	assert.Equal(t, "2", p.req.Cookies["b"])
}

func TestParserBodyByteForByteEqualsContentLength(t *testing.T) {
	p := newRequestParser(testParserConfig(), "1.2.3.4:5")
	body := "hello world"
	feedAll(t, p, "POST /x HTTP/1.1\r\nContent-Length: 11\r\n\r\n"+body)
	require.Equal(t, stateComplete, p.state)
	assert.Equal(t, []byte(body), p.req.Body)
}

func TestParserGzipBodyIsDecoded(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write([]byte("plain text"))
	gw.Close()

	p := newRequestParser(testParserConfig(), "1.2.3.4:5")
	raw := "POST /x HTTP/1.1\r\nContent-Length: " +
		itoaTest(buf.Len()) + "\r\nContent-Encoding: gzip\r\n\r\n"
	_, err := p.Feed([]byte(raw))
	require.NoError(t, err)
	_, err = p.Feed(buf.Bytes())
	require.NoError(t, err)

	require.Equal(t, stateComplete, p.state)
	assert.Equal(t, []byte("plain text"), p.req.Body)
}

func TestParserURLEncodedFormPopulatesFormFields(t *testing.T) {
	p := newRequestParser(testParserConfig(), "1.2.3.4:5")
	body := "a=1&b=hello+world"
	raw := "POST /x HTTP/1.1\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: " +
		itoaTest(len(body)) + "\r\n\r\n" + body
	feedAll(t, p, raw)
	require.Equal(t, stateComplete, p.state)
	assert.Equal(t, "1", p.req.FormFields["a"])
	assert.Equal(t, "hello world", p.req.FormFields["b"])
	assert.Nil(t, p.req.Body)
}

func TestParserOversizedHeadersIs431(t *testing.T) {
	cfg := testParserConfig()
	cfg.MaxRequestSize = 64
	p := newRequestParser(cfg, "1.2.3.4:5")
	feedAll(t, p, "GET /x HTTP/1.1\r\nX-Long: "+string(bytes.Repeat([]byte("a"), 200))+"\r\n\r\n")
	require.Equal(t, stateAbort, p.state)
	assert.Equal(t, status.RequestHeaderFieldsTooLarge, p.req.parseErr.Status)
}

func TestParserOversizedBodyIs413(t *testing.T) {
	cfg := testParserConfig()
	cfg.MaxRequestSize = 1 << 20
	p := newRequestParser(cfg, "1.2.3.4:5")
	big := bytes.Repeat([]byte("x"), 2<<20)
	raw := "POST /x HTTP/1.1\r\nContent-Length: " + itoaTest(len(big)) + "\r\n\r\n"
	_, err := p.Feed([]byte(raw))
	require.NoError(t, err)
	_, err = p.Feed(big)
	require.NoError(t, err)
	require.Equal(t, stateAbort, p.state)
	assert.Equal(t, status.RequestEntityTooLarge, p.req.parseErr.Status)
}

func TestParserMultipartBodyWithinLimitParses(t *testing.T) {
	const boundary = "XYZ"
	var buf bytes.Buffer
	buf.WriteString("--" + boundary + "\r\n")
	buf.WriteString(`Content-Disposition: form-data; name="title"` + "\r\n\r\nhello\r\n")
	buf.WriteString("--" + boundary + "\r\n")
	buf.WriteString(`Content-Disposition: form-data; name="photo"; filename="a.png"` + "\r\n\r\n")
	photo := bytes.Repeat([]byte("P"), 3<<20)
	buf.Write(photo)
	buf.WriteString("\r\n--" + boundary + "--")

	cfg := testParserConfig()
	cfg.MaxMultipartSize = 4 << 20
	p := newRequestParser(cfg, "1.2.3.4:5")
	p.tempDir = t.TempDir()
	headers := "POST /upload HTTP/1.1\r\nContent-Type: multipart/form-data; boundary=" + boundary + "\r\n\r\n"
	_, err := p.Feed([]byte(headers))
	require.NoError(t, err)
	_, err = p.Feed(buf.Bytes())
	require.NoError(t, err)

	require.Equal(t, stateComplete, p.state)
	assert.Equal(t, "hello", p.req.FormFields["title"])
	require.Contains(t, p.req.FormFiles, "photo")
	assert.Equal(t, "a.png", p.req.FormFiles["photo"].Filename)
}

func itoaTest(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
