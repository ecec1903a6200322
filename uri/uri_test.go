package uri

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimplePath(t *testing.T) {
	target, err := Parse("/foo/bar")
	require.NoError(t, err)
	assert.Equal(t, "/foo/bar", target.Path)
	assert.Equal(t, "", target.RawQuery)
}

func TestParseWithQueryPreservesOrderAndRepeats(t *testing.T) {
	target, err := Parse("/search?a=1&b=2&a=3")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, target.Query.Keys())
	assert.Equal(t, []string{"1", "3"}, target.Query.All("a"))
	assert.Equal(t, "1", target.Query.Get("a"))
}

func TestParseRejectsNonOriginForm(t *testing.T) {
	_, err := Parse("http://example.com/foo")
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestParseDecodesPercentEscapes(t *testing.T) {
	target, err := Parse("/a%20b?x=hello%20world")
	require.NoError(t, err)
	assert.Equal(t, "/a b", target.Path)
	assert.Equal(t, "hello world", target.Query.Get("x"))
}
