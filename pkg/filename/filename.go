// Package filename turns free-text titles into names that are safe on every common filesystem.
package filename

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxBytes caps a sanitized name, leaving room for an extension and temp prefixes.
const MaxBytes = 200

const forbidden = `<>:"/\|?*`

// Sanitize replaces reserved and control characters with '_', collapses whitespace runs
// into one space and trims surrounding dots and spaces. The result is cut to MaxBytes
// on a rune boundary. An empty result yields fallback.
func Sanitize(title, fallback string) string {
	var b strings.Builder
	b.Grow(len(title))

	space := false

	for _, r := range title {
		switch {
		case r == utf8.RuneError:
			b.WriteByte('_')
			space = false
		case strings.ContainsRune(forbidden, r), unicode.IsControl(r) && !unicode.IsSpace(r):
			b.WriteByte('_')
			space = false
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
			}

			space = true
		default:
			b.WriteRune(r)
			space = false
		}
	}

	name := strings.Trim(b.String(), ". ")
	name = truncate(name, MaxBytes)
	name = strings.TrimRight(name, ". ")

	if name == "" {
		return fallback
	}

	return name
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut]
}
