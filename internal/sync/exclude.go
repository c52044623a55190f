package sync

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Excludes is a set of relative path prefixes. Matching is segment aware:
// "bar" excludes "bar" and "bar/qux" but not "barn".
type Excludes []string

// NewExcludes cleans and NFC-normalizes prefixes. Empty prefixes and the
// root itself are dropped; excluding everything is not a useful setting.
func NewExcludes(prefixes []string) Excludes {
	out := make(Excludes, 0, len(prefixes))

	for _, p := range prefixes {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}

		p = path.Clean(p)
		if p == "." {
			continue
		}

		out = append(out, norm.NFC.String(p))
	}

	return out
}

// Match reports whether rel falls under any prefix.
func (e Excludes) Match(rel string) bool {
	rel = norm.NFC.String(rel)

	for _, p := range e {
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}

	return false
}
