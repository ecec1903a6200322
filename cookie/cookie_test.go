package cookie

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCookieString(t *testing.T) {
	c := New("session", "abc123")
	c.Path = "/"
	c.HttpOnly = true
	c.Secure = true
	c.MaxAge = 3600
	s := c.String()
	assert.Contains(t, s, "session=abc123")
	assert.Contains(t, s, "Path=/")
	assert.Contains(t, s, "HttpOnly")
	assert.Contains(t, s, "Secure")
	assert.Contains(t, s, "Max-Age=3600")
}

func TestCookieStringWithExpires(t *testing.T) {
	c := New("a", "b")
	c.Expires = time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Contains(t, c.String(), "Expires=Wed, 02 Jan 2030 03:04:05 GMT")
}

func TestParseRequestHeader(t *testing.T) {
	got := ParseRequestHeader("a=1; b=2; c=3")
	assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": "3"}, got)
}

func TestParseRequestHeaderOverwritesLater(t *testing.T) {
	got := ParseRequestHeader("a=1; a=2")
	assert.Equal(t, "2", got["a"])
}
