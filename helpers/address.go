package helpers

import "strings"

// SplitEmailAddress splits an address at its last '@'. The case of both parts
// is preserved. When there is no '@' the whole input is returned as the local
// part and the domain is empty.
func SplitEmailAddress(email string) (string, string) {
	idx := strings.LastIndex(email, "@")
	if idx < 0 {
		return email, ""
	}
	return email[:idx], email[idx+1:]
}

// NormalizeDomain lower-cases a domain and strips surrounding whitespace,
// a leading '@' and a trailing root dot.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "@")
	return strings.TrimSuffix(d, ".")
}

// SecondLevelLabel returns the label directly left of the TLD, e.g. "amazon"
// for "mail.amazon.de". It returns "" for single-label domains.
func SecondLevelLabel(domain string) string {
	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}
