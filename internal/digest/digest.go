// Package digest computes content-identity hashes of local files. The remote
// service reports a SHA-1 for every stored file, so that is the digest used
// to decide whether local content differs from the last uploaded version.
package digest

import (
	"crypto/sha1" //nolint:gosec // SHA-1 is the remote's content identity, not a security boundary
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// File streams the file at path through SHA-1 and returns the lower-case
// hex digest. Uses constant memory regardless of file size.
func File(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("digest: opening %s: %w", path, err)
	}
	defer f.Close()

	sum, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("digest: hashing %s: %w", path, err)
	}

	return sum, nil
}

// Reader hashes everything readable from r.
func Reader(r io.Reader) (string, error) {
	h := sha1.New() //nolint:gosec // see package doc
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
