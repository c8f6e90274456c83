package keyindex

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeDeviceName puts a device name or pattern in the form used for
// matching: Unicode NFC, case-folded, surrounding space trimmed.
//
// Device names come from kernel and USB descriptors and are not reliably
// composed or cased, so "Keychron K2" and "KEYCHRON K2" must match alike.
func NormalizeDeviceName(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	return cases.Fold().String(s)
}

// MatchDevicePattern reports whether name matches pattern.
//
// A pattern without '*' must equal the name. Otherwise the text before the
// first '*' must be a prefix, the text after the last '*' a suffix, and every
// part in between must occur in order without overlapping. "*" alone matches
// every device. Both arguments are expected to be normalized.
func MatchDevicePattern(pattern, name string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == name
	}

	parts := strings.Split(pattern, "*")
	first, last := parts[0], parts[len(parts)-1]
	if !strings.HasPrefix(name, first) {
		return false
	}
	rest := name[len(first):]
	if len(rest) < len(last) || !strings.HasSuffix(rest, last) {
		return false
	}
	rest = rest[:len(rest)-len(last)]

	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		i := strings.Index(rest, part)
		if i < 0 {
			return false
		}
		rest = rest[i+len(part):]
	}
	return true
}
