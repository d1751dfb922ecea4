package filter

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/migadu/sieveforge/consts"
)

// ConditionKind is the closed set of tests a condition can perform.
type ConditionKind int

const (
	CondHeaderContains ConditionKind = iota
	CondHeaderIs
	CondAddressDomain
	CondAddressIs
	CondBodyContains
	CondSizeOver
	CondSizeUnder
)

var conditionKindNames = [...]string{
	CondHeaderContains: "header_contains",
	CondHeaderIs:       "header_is",
	CondAddressDomain:  "address_domain",
	CondAddressIs:      "address_is",
	CondBodyContains:   "body_contains",
	CondSizeOver:       "size_over",
	CondSizeUnder:      "size_under",
}

func (k ConditionKind) String() string {
	if k < 0 || int(k) >= len(conditionKindNames) {
		return fmt.Sprintf("ConditionKind(%d)", int(k))
	}
	return conditionKindNames[k]
}

func (k ConditionKind) valid() bool {
	return k >= 0 && int(k) < len(conditionKindNames)
}

// IsSize reports whether the kind compares the message size.
func (k ConditionKind) IsSize() bool {
	return k == CondSizeOver || k == CondSizeUnder
}

func (k ConditionKind) MarshalText() ([]byte, error) {
	if !k.valid() {
		return nil, fmt.Errorf("%w: unknown condition kind %d", consts.ErrInvalidCondition, int(k))
	}
	return []byte(k.String()), nil
}

func (k *ConditionKind) UnmarshalText(b []byte) error {
	for i, name := range conditionKindNames {
		if name == string(b) {
			*k = ConditionKind(i)
			return nil
		}
	}
	return fmt.Errorf("%w: unknown condition kind %q", consts.ErrInvalidCondition, b)
}

// MatchKind is the closed set of Sieve match types.
type MatchKind int

const (
	MatchIs MatchKind = iota
	MatchContains
	MatchMatches
	MatchRegex
)

var matchKindNames = [...]string{
	MatchIs:       ":is",
	MatchContains: ":contains",
	MatchMatches:  ":matches",
	MatchRegex:    ":regex",
}

func (m MatchKind) String() string {
	if m < 0 || int(m) >= len(matchKindNames) {
		return fmt.Sprintf("MatchKind(%d)", int(m))
	}
	return matchKindNames[m]
}

func (m MatchKind) valid() bool {
	return m >= 0 && int(m) < len(matchKindNames)
}

func (m MatchKind) MarshalText() ([]byte, error) {
	if !m.valid() {
		return nil, fmt.Errorf("%w: unknown match kind %d", consts.ErrInvalidCondition, int(m))
	}
	return []byte(strings.TrimPrefix(m.String(), ":")), nil
}

func (m *MatchKind) UnmarshalText(b []byte) error {
	s := ":" + strings.TrimPrefix(string(b), ":")
	for i, name := range matchKindNames {
		if name == s {
			*m = MatchKind(i)
			return nil
		}
	}
	return fmt.Errorf("%w: unknown match kind %q", consts.ErrInvalidCondition, b)
}

// Condition is a single immutable predicate over one message field.
type Condition struct {
	kind  ConditionKind
	field string
	match MatchKind
	value string
}

// NewCondition validates its arguments. Field and value must be non-empty,
// address-domain values must pass IsValidDomain, size values must parse as
// N[K|M|G] and regex values must compile.
func NewCondition(kind ConditionKind, field string, match MatchKind, value string) (Condition, error) {
	if !kind.valid() {
		return Condition{}, fmt.Errorf("%w: unknown kind %d", consts.ErrInvalidCondition, int(kind))
	}
	if !match.valid() {
		return Condition{}, fmt.Errorf("%w: unknown match kind %d", consts.ErrInvalidCondition, int(match))
	}
	if field == "" {
		return Condition{}, fmt.Errorf("%w: field cannot be empty", consts.ErrInvalidCondition)
	}
	if value == "" {
		return Condition{}, fmt.Errorf("%w: value cannot be empty", consts.ErrInvalidCondition)
	}

	switch kind {
	case CondAddressDomain:
		if !IsValidDomain(value) {
			return Condition{}, fmt.Errorf("%w: domain %q is a placeholder, generic or malformed", consts.ErrInvalidCondition, value)
		}
	case CondSizeOver, CondSizeUnder:
		if _, err := ParseSize(value); err != nil {
			return Condition{}, err
		}
	case CondHeaderContains, CondHeaderIs, CondAddressIs, CondBodyContains:
	}

	if match == MatchRegex {
		if _, err := regexp.Compile(value); err != nil {
			return Condition{}, fmt.Errorf("%w: bad regex %q: %v", consts.ErrInvalidCondition, value, err)
		}
	}

	return Condition{kind: kind, field: field, match: match, value: value}, nil
}

func HeaderContains(field, value string) (Condition, error) {
	return NewCondition(CondHeaderContains, field, MatchContains, value)
}

func HeaderIs(field, value string) (Condition, error) {
	return NewCondition(CondHeaderIs, field, MatchIs, value)
}

func AddressDomainIs(field, domain string) (Condition, error) {
	return NewCondition(CondAddressDomain, field, MatchIs, domain)
}

func AddressIs(field, address string) (Condition, error) {
	return NewCondition(CondAddressIs, field, MatchIs, address)
}

func BodyContains(value string) (Condition, error) {
	return NewCondition(CondBodyContains, "body", MatchContains, value)
}

// SizeOver matches messages larger than size, e.g. "100K".
func SizeOver(size string) (Condition, error) {
	return NewCondition(CondSizeOver, "size", MatchIs, size)
}

// SizeUnder matches messages smaller than size.
func SizeUnder(size string) (Condition, error) {
	return NewCondition(CondSizeUnder, "size", MatchIs, size)
}

func (c Condition) Kind() ConditionKind { return c.kind }
func (c Condition) Field() string       { return c.field }
func (c Condition) Match() MatchKind    { return c.match }
func (c Condition) Value() string       { return c.value }

// Sieve renders the condition as a Sieve test.
func (c Condition) Sieve() string {
	switch c.kind {
	case CondHeaderContains, CondHeaderIs:
		return fmt.Sprintf("header %s %s %s", c.match, quote(c.field), quote(c.value))
	case CondAddressDomain:
		return fmt.Sprintf("address :domain %s %s %s", c.match, quote(c.field), quote(c.value))
	case CondAddressIs:
		return fmt.Sprintf("address :all %s %s %s", c.match, quote(c.field), quote(c.value))
	case CondBodyContains:
		return fmt.Sprintf("body :text %s %s", c.match, quote(c.value))
	case CondSizeOver:
		return "size :over " + strings.ToUpper(c.value)
	case CondSizeUnder:
		return "size :under " + strings.ToUpper(c.value)
	}
	return "false"
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.field, c.match, c.value)
}

// ParseSize parses a Sieve size literal: a decimal number with an optional
// K, M or G suffix (case-insensitive).
func ParseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty size", consts.ErrInvalidCondition)
	}
	mult := int64(1)
	digits := s
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1 << 10
		digits = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		digits = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		digits = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad size %q", consts.ErrInvalidCondition, s)
	}
	if n > math.MaxInt64/mult {
		return 0, fmt.Errorf("%w: size %q out of range", consts.ErrInvalidCondition, s)
	}
	return n * mult, nil
}
