// Package ptr helps with the optional fields of request bodies.
package ptr

import "strings"

// Deref returns *p, or the zero value for a nil p.
func Deref[T any](p *T) T {
	if p == nil {
		var zero T

		return zero
	}

	return *p
}

// Of returns a pointer to a copy of v.
func Of[T any](v T) *T { return &v }

// Trimmed returns a pointer to the trimmed *s, or nil when s is nil or blank.
func Trimmed(s *string) *string {
	if s == nil {
		return nil
	}

	if v := strings.TrimSpace(*s); v != "" {
		return &v
	}

	return nil
}
