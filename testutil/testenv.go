// Package testutil provides shared environment helpers for E2E tests and
// the credential bootstrap. It depends only on stdlib so that E2E tests,
// which drive the built binary, stay decoupled from internal/.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables read by the E2E suite.
const (
	EnvTestFolder     = "CARP_STREAMER_TEST_FOLDER"
	EnvAllowedFolders = "CARP_STREAMER_ALLOWED_TEST_FOLDERS"
)

// TokenFileName is the token file the bootstrap writes into .testdata/.
const TokenFileName = "token.json"

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// A missing file is not an error (CI sets env vars directly). Existing env
// vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// RequireTestFolder returns the remote folder id the suite may write into.
// It exits the process unless the id is listed in the allowlist, so a
// misconfigured run never uploads into a real folder.
func RequireTestFolder() string {
	folder := os.Getenv(EnvTestFolder)
	if folder == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", EnvTestFolder)
		os.Exit(1)
	}

	if !Allowed(folder, os.Getenv(EnvAllowedFolders)) {
		fmt.Fprintf(os.Stderr, "FATAL: %s=%q is not in %s\n", EnvTestFolder, folder, EnvAllowedFolders)
		os.Exit(1)
	}

	return folder
}

// Allowed reports whether id appears in the comma-separated allowlist.
func Allowed(id, allowlist string) bool {
	for _, a := range strings.Split(allowlist, ",") {
		if a = strings.TrimSpace(a); a != "" && a == id {
			return true
		}
	}

	return false
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// CredentialDir returns .testdata/ under the module root. It is where the
// bootstrap writes the token and where E2E runs read it from.
func CredentialDir(moduleRoot string) string {
	return filepath.Join(moduleRoot, ".testdata")
}
