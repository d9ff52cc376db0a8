package discovery

import (
	"regexp"
	"strings"
)

// CompareMAC reports whether mac matches pattern. Separators are ignored and
// the comparison is case-insensitive. The pattern may use * (any run of
// characters) and ? (exactly one character).
func CompareMAC(mac, pattern string) bool {
	m := normalizeMAC(mac, false)
	p := normalizeMAC(pattern, true)
	if m == "" || p == "" {
		return false
	}
	return macPattern(p).MatchString(m)
}

// CompareMACList reports whether mac matches any of patterns.
func CompareMACList(mac string, patterns []string) bool {
	for _, p := range patterns {
		if CompareMAC(mac, p) {
			return true
		}
	}
	return false
}

func normalizeMAC(s string, wildcards bool) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case wildcards && (r == '*' || r == '?'):
			b.WriteRune(r)
		}
	}
	return b.String()
}

func macPattern(p string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range p {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
