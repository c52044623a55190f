package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExcludes_SegmentAware(t *testing.T) {
	ex := NewExcludes([]string{"bar"})

	assert.True(t, ex.Match("bar"))
	assert.True(t, ex.Match("bar/qux"))
	assert.True(t, ex.Match("bar/qux/deep.txt"))
	assert.False(t, ex.Match("barn"))
	assert.False(t, ex.Match("foo/bar"))
}

func TestExcludes_Normalization(t *testing.T) {
	ex := NewExcludes([]string{"/a/b/", " c ", "", ".", "/", "d/./e", "cafe\u0301"})

	assert.Equal(t, Excludes{"a/b", "c", "d/e", "caf\u00e9"}, ex)
	assert.True(t, ex.Match("a/b/x"))
	assert.False(t, ex.Match("a"))
	assert.True(t, ex.Match("caf\u00e9/menu"))
	assert.True(t, ex.Match("cafe\u0301"))
}

func TestExcludes_EmptyMatchesNothing(t *testing.T) {
	assert.False(t, NewExcludes(nil).Match("anything"))
}
