package hdr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaseInsensitiveLookup(t *testing.T) {
	h := Header{}
	h.Set("content-type", "text/plain")
	assert.Equal(t, "text/plain", h.Get("Content-Type"))
	assert.Equal(t, "text/plain", h.Get("CONTENT-TYPE"))
	assert.Equal(t, "text/plain", h.Get("cOnTeNt-TyPe"))
}

func TestDuplicateHeadersJoinWithComma(t *testing.T) {
	h := Header{}
	h.Add("X-Trace", "a")
	h.Add("x-trace", "b")
	h.Add("X-TRACE", "c")
	joined, ok := h.Joined("X-Trace")
	assert.True(t, ok)
	assert.Equal(t, "a, b, c", joined)
}

func TestWriteSubsetIsDeterministic(t *testing.T) {
	h := Header{}
	h.Set("Zebra", "1")
	h.Set("Apple", "2")
	var buf strings.Builder
	require := assert.New(t)
	require.NoError(h.Write(&buf))
	assert.Equal(t, "Apple: 2\r\nZebra: 1\r\n", buf.String())
}

func TestCanonicalHeaderKey(t *testing.T) {
	assert.Equal(t, "Content-Type", CanonicalHeaderKey("content-type"))
	assert.Equal(t, "X-Request-Id", CanonicalHeaderKey("x-request-id"))
}
