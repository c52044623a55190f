package resolver

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxNameLength is the longest item name the service accepts.
const maxNameLength = 255

// ErrInvalidName is returned for names the service would reject.
var ErrInvalidName = errors.New("resolver: invalid remote name")

// ValidateName reports whether name can be used for a remote file or
// folder. Checked before any create or upload call so a bad local name
// fails without a round trip.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.TrimSpace(name) != name:
		return fmt.Errorf("%w: %q has leading or trailing spaces", ErrInvalidName, name)
	case utf8.RuneCountInString(name) > maxNameLength:
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidName, maxNameLength)
	}

	return nil
}
