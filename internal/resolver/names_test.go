package resolver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	valid := []string{"a", "foo.txt", "résumé", "with space", strings.Repeat("x", 255)}
	for _, name := range valid {
		assert.NoError(t, ValidateName(name), "name %q", name)
	}

	invalid := []string{"", ".", "..", "a/b", `a\b`, " lead", "trail ", strings.Repeat("x", 256)}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateName(name), ErrInvalidName, "name %q", name)
	}
}

func TestSplitPath(t *testing.T) {
	segs, err := splitPath("a//b/./c/")
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, segs)

	segs, err = splitPath("")
	assert.NoError(t, err)
	assert.Empty(t, segs)

	_, err = splitPath("../x")
	assert.ErrorIs(t, err, ErrInvalidPath)
}
