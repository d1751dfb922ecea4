package matcher

import (
	"regexp"
	"strings"

	"github.com/migadu/sieveforge/email"
	"github.com/migadu/sieveforge/filter"
)

// RuleMatches evaluates a single rule against a message, ignoring whether
// the rule is enabled.
func RuleMatches(r filter.Rule, e *email.Email) bool {
	conds := r.Conditions()
	if len(conds) == 0 {
		return false
	}
	switch r.Mode() {
	case filter.AllOf:
		for _, c := range conds {
			if !ConditionMatches(c, e) {
				return false
			}
		}
		return true
	case filter.AnyOf:
		for _, c := range conds {
			if ConditionMatches(c, e) {
				return true
			}
		}
		return false
	}
	return false
}

// ConditionMatches evaluates one condition. Fields that a message does not
// carry never match.
func ConditionMatches(c filter.Condition, e *email.Email) bool {
	switch c.Kind() {
	case filter.CondSizeOver, filter.CondSizeUnder:
		limit, err := filter.ParseSize(c.Value())
		if err != nil {
			return false
		}
		if c.Kind() == filter.CondSizeOver {
			return int64(e.Size()) > limit
		}
		return int64(e.Size()) < limit
	case filter.CondAddressDomain:
		v, ok := addressField(e, c.Field(), true)
		return ok && matchValue(c.Match(), v, c.Value())
	case filter.CondAddressIs:
		v, ok := addressField(e, c.Field(), false)
		return ok && matchValue(c.Match(), v, c.Value())
	case filter.CondBodyContains:
		return matchValue(c.Match(), e.Body, c.Value())
	case filter.CondHeaderContains, filter.CondHeaderIs:
		v, ok := headerField(e, c.Field())
		return ok && matchValue(c.Match(), v, c.Value())
	}
	return false
}

// headerField maps a field name to message text: from is the sender address,
// to is always empty since recipients are not matched, body is the body.
// Any other name is looked up in the message headers.
func headerField(e *email.Email, field string) (string, bool) {
	switch strings.ToLower(field) {
	case "from":
		return e.Sender.String(), true
	case "subject":
		return e.Subject, true
	case "to":
		return "", true
	case "body":
		return e.Body, true
	}
	return e.Header(field)
}

// addressField yields the sender address, or just its domain. Only the from
// field carries a parsed address.
func addressField(e *email.Email, field string, domainOnly bool) (string, bool) {
	if !strings.EqualFold(field, "from") {
		return "", false
	}
	if domainOnly {
		return e.Sender.Domain(), true
	}
	return e.Sender.String(), true
}

func matchValue(m filter.MatchKind, have, want string) bool {
	switch m {
	case filter.MatchIs:
		return strings.EqualFold(have, want)
	case filter.MatchContains:
		return strings.Contains(strings.ToLower(have), strings.ToLower(want))
	case filter.MatchMatches:
		re, err := regexp.Compile(wildcardPattern(want))
		return err == nil && re.MatchString(have)
	case filter.MatchRegex:
		re, err := regexp.Compile("(?i)" + want)
		return err == nil && re.MatchString(have)
	}
	return false
}

// wildcardPattern translates '*' and '?' into a case-insensitive regexp
// anchored at the start of the value.
func wildcardPattern(glob string) string {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}
