package filter

import (
	"fmt"
	"strings"

	"github.com/migadu/sieveforge/consts"
)

// Pattern-string grammar:
//
//	from:@DOMAIN       address :domain :is "from" DOMAIN
//	from:TEXT          header :contains "from" TEXT
//	subject:W1,W2,...  one header :contains "subject" per keyword
//	anything else      header :contains "subject" with the whole string
const (
	fromPrefix    = "from:"
	subjectPrefix = "subject:"
)

// ConditionFromPattern parses a pattern string into exactly one condition.
// Comma-separated subject keywords are kept together as a single value; use
// ConditionsFromPattern to expand them.
func ConditionFromPattern(pattern string) (Condition, error) {
	pattern = strings.TrimSpace(pattern)
	switch {
	case strings.HasPrefix(pattern, fromPrefix):
		return fromCondition(strings.TrimSpace(pattern[len(fromPrefix):]))
	case strings.HasPrefix(pattern, subjectPrefix):
		return HeaderContains("subject", strings.TrimSpace(pattern[len(subjectPrefix):]))
	default:
		return HeaderContains("subject", pattern)
	}
}

// ConditionsFromPattern parses a pattern string into one or more conditions.
// "subject:a,b" yields one condition per non-empty trimmed keyword; the
// caller is expected to OR them.
func ConditionsFromPattern(pattern string) ([]Condition, error) {
	pattern = strings.TrimSpace(pattern)
	if !strings.HasPrefix(pattern, subjectPrefix) {
		c, err := ConditionFromPattern(pattern)
		if err != nil {
			return nil, err
		}
		return []Condition{c}, nil
	}

	var conds []Condition
	for _, kw := range strings.Split(pattern[len(subjectPrefix):], ",") {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		c, err := HeaderContains("subject", kw)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	if len(conds) == 0 {
		return nil, fmt.Errorf("%w: pattern %q has no keywords", consts.ErrInvalidCondition, pattern)
	}
	return conds, nil
}

func fromCondition(value string) (Condition, error) {
	if domain, ok := strings.CutPrefix(value, "@"); ok {
		return AddressDomainIs("from", domain)
	}
	return HeaderContains("from", value)
}
