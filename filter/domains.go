package filter

import "strings"

// placeholderDomains are domains a model invents when it has no real sender
// to point at. A rule routing on one of these never matches real mail.
var placeholderDomains = map[string]struct{}{
	"example.com":     {},
	"example.org":     {},
	"example.net":     {},
	"test.com":        {},
	"test.org":        {},
	"test.net":        {},
	"test.de":         {},
	"unsorted.com":    {},
	"random.com":      {},
	"misc.com":        {},
	"placeholder.com": {},
	"dummy.com":       {},
	"localhost":       {},
	"127.0.0.1":       {},
}

// genericDomains are real but too broad to identify a single sender.
var genericDomains = map[string]struct{}{
	"email.com":    {},
	"mail.com":     {},
	"app.com":      {},
	"security.com": {},
	"bank.com":     {},
	"bank.de":      {},
	"shop.com":     {},
	"store.com":    {},
}

// IsPlaceholderDomain reports whether domain is in the closed placeholder set.
func IsPlaceholderDomain(domain string) bool {
	_, ok := placeholderDomains[strings.ToLower(domain)]
	return ok
}

// IsGenericDomain reports whether domain is in the closed overly-generic set.
func IsGenericDomain(domain string) bool {
	_, ok := genericDomains[strings.ToLower(domain)]
	return ok
}

// IsValidDomain reports whether domain is usable as a routing key: non-empty,
// at least one dot, and neither a placeholder nor a generic domain.
func IsValidDomain(domain string) bool {
	if domain == "" || !strings.Contains(domain, ".") {
		return false
	}
	return !IsPlaceholderDomain(domain) && !IsGenericDomain(domain)
}

// PlaceholderDomains returns the placeholder set in sorted order.
func PlaceholderDomains() []string {
	return sortedKeys(placeholderDomains)
}

// GenericDomains returns the generic set in sorted order.
func GenericDomains() []string {
	return sortedKeys(genericDomains)
}
