package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment
CARP_TEST_A="quoted"
CARP_TEST_B = plain
not a pair
CARP_TEST_C=from-file
`), 0o600))

	t.Setenv("CARP_TEST_A", "")
	t.Setenv("CARP_TEST_B", "")
	t.Setenv("CARP_TEST_C", "from-env")

	LoadDotEnv(path)

	assert.Equal(t, "quoted", os.Getenv("CARP_TEST_A"))
	assert.Equal(t, "plain", os.Getenv("CARP_TEST_B"))
	assert.Equal(t, "from-env", os.Getenv("CARP_TEST_C"), "env wins over file")
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	LoadDotEnv(filepath.Join(t.TempDir(), "missing"))
}

func TestAllowed(t *testing.T) {
	assert.True(t, Allowed("123", "123"))
	assert.True(t, Allowed("456", "123, 456 ,789"))
	assert.False(t, Allowed("12", "123"))
	assert.False(t, Allowed("", ","))
	assert.False(t, Allowed("123", ""))
}

func TestFindModuleRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module x\n"), 0o644))

	t.Chdir(nested)

	got := FindModuleRoot("fallback")

	want, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	gotResolved, err := filepath.EvalSymlinks(got)
	require.NoError(t, err)
	assert.Equal(t, want, gotResolved)
}
