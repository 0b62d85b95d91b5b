// Package security validates the user-supplied names that end up in file
// paths, so a profile name cannot escape its directory.
package security

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidName is returned by ValidateName.
var ErrInvalidName = errors.New("invalid name")

// maxNameLen limits resulting filename length to avoid overly long paths.
const maxNameLen = 128

// ValidateName checks that name can be used as a single path element: it is
// non-empty, at most 128 bytes, contains only ASCII letters, digits, dot,
// underscore or dash, and is not "." or "..".
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if name == "." || name == ".." || strings.HasPrefix(name, "..") {
		return fmt.Errorf("%w: %q attempts to escape its directory", ErrInvalidName, name)
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, maxNameLen)
	}
	for _, r := range name {
		if !allowed(r) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, r)
		}
	}
	return nil
}

func allowed(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
		r == '.' || r == '_' || r == '-'
}

// SanitizeFilename makes a safe filename from an arbitrary string. It replaces
// any characters ValidateName rejects with an underscore, collapses repeated
// underscores and trims the result to a reasonable length. The result always
// passes ValidateName.
func SanitizeFilename(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		if allowed(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	// Trim leading/trailing underscores or dots
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
