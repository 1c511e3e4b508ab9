package utils

import (
	"strings"

	"golang.org/x/net/idna"
)

// CanonicalHostname returns a hostname in canonical form:
// - Lowercased
// - Trimmed of surrounding whitespace
// - No trailing dot
// - Unicode labels converted to their ASCII (punycode) form, since blocklists
//   are authored against ASCII names
func CanonicalHostname(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ToLower(name)
	// remove all trailing dots
	for strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".")
	}
	if isASCII(name) {
		return name
	}
	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil {
		// keep the lowercased original; matching simply won't hit
		return name
	}
	return ascii
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
