package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_InSection(t *testing.T) {
	path := writeTestConfig(t, "[sync]\nconcurency = 4\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "concurency" in [sync]`)
	assert.Contains(t, err.Error(), `did you mean "concurrency"`)
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, "[cache]\ncompletely_unrelated = true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_UnknownSection(t *testing.T) {
	path := writeTestConfig(t, "[retri]\nmax_attempts = 3\njitter = \"1s\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config section [retri]")
	assert.Contains(t, err.Error(), "did you mean [retry]")
	assert.Equal(t, 1, strings.Count(err.Error(), "[retri]"), "section reported once")
}

func TestLoad_TopLevelKeyBelongsInSection(t *testing.T) {
	path := writeTestConfig(t, "log_level = \"debug\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "log_level" in [logging]`)
}

func TestLoad_MultipleUnknownKeysReported(t *testing.T) {
	path := writeTestConfig(t, "[sync]\nconcurency = 4\n\n[upload]\nchunk_treshold = \"30MB\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency")
	assert.Contains(t, err.Error(), "chunk_threshold")
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 3, levenshtein("abc", ""))
	assert.Equal(t, 1, levenshtein("jitter", "jittr"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}
