// Package urls validates and canonicalizes page URLs.
package urls

import (
	"net/url"
	"strings"
)

// IsURLValid reports whether raw is an absolute http or https URL with a host.
func IsURLValid(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}

// Normalize trims raw and lowercases its scheme and host. The fragment is
// dropped since it never reaches the server. Unparsable input is only trimmed.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	return u.String()
}
