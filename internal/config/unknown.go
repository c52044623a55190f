package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each section.
var knownKeys = map[string][]string{
	"remote":  {"api_url", "upload_url", "token_file", "client_id", "client_secret", "timeout"},
	"sync":    {"concurrency", "excludes", "dry_run", "debounce"},
	"cache":   {"file", "max_entries", "max_age", "revalidate"},
	"retry":   {"max_attempts", "jitter"},
	"upload":  {"chunk_threshold"},
	"logging": {"log_level", "log_format"},
	"metrics": {"addr"},
}

// knownSections is the sorted list of section names.
var knownSections = func() []string {
	out := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		out = append(out, k)
	}

	slices.Sort(out)

	return out
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key. An
// unknown section is reported once, not once per key inside it.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	badSections := make(map[string]bool)

	for _, key := range md.Undecoded() {
		section := key[0]

		if _, ok := knownKeys[section]; !ok && (len(key) > 1 || md.Type(section) == "Hash") {
			if !badSections[section] {
				badSections[section] = true
				errs = append(errs, unknownSectionError(section))
			}

			continue
		}

		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

func unknownSectionError(section string) error {
	if s := closestMatch(section, knownSections); s != "" {
		return fmt.Errorf("unknown config section [%s]: did you mean [%s]?", section, s)
	}

	return fmt.Errorf("unknown config section [%s]", section)
}

func unknownKeyError(key toml.Key) error {
	if len(key) == 1 {
		// A bare top-level key, often one that belongs in a section.
		for _, section := range knownSections {
			if slices.Contains(knownKeys[section], key[0]) {
				return fmt.Errorf("unknown config key %q: did you mean %q in [%s]?", key[0], key[0], section)
			}
		}

		return fmt.Errorf("unknown config key %q", key[0])
	}

	section, field := key[0], key[1]

	if s := closestMatch(field, knownKeys[section]); s != "" {
		return fmt.Errorf("unknown config key %q in [%s]: did you mean %q?", field, section, s)
	}

	return fmt.Errorf("unknown config key %q in [%s]", strings.Join(key[1:], "."), section)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
