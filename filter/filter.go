// Package filter models a Sieve filter: conditions, actions and rules, the
// pattern-string shorthand they are built from, and rendering to a Sieve
// script.
//
// Conditions, actions and rules are immutable values. SieveFilter is a
// mutable aggregate and is not safe for concurrent mutation; callers that
// share one must serialise access themselves.
package filter

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/migadu/sieveforge/consts"
)

// SieveFilter is a named, ordered list of rules.
type SieveFilter struct {
	ID          string
	Name        string
	Description string
	Rules       []Rule
	Enabled     bool
	Priority    int
	CreatedAt   time.Time
	UpdatedAt   time.Time

	now func() time.Time
}

// New creates an enabled filter. Rules may be empty; Validate reports that.
func New(name, description string, rules ...Rule) (*SieveFilter, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name cannot be empty", consts.ErrInvalidFilter)
	}
	now := time.Now()
	return &SieveFilter{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Rules:       append([]Rule(nil), rules...),
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (f *SieveFilter) touch() {
	if f.now != nil {
		f.UpdatedAt = f.now()
		return
	}
	f.UpdatedAt = time.Now()
}

// AddRule appends a rule.
func (f *SieveFilter) AddRule(r Rule) {
	f.Rules = append(f.Rules, r)
	f.touch()
}

// RemoveRule removes the rule at index i.
func (f *SieveFilter) RemoveRule(i int) error {
	if i < 0 || i >= len(f.Rules) {
		return fmt.Errorf("%w: rule index %d out of range [0,%d)", consts.ErrInvalidFilter, i, len(f.Rules))
	}
	f.Rules = append(f.Rules[:i:i], f.Rules[i+1:]...)
	f.touch()
	return nil
}

// RemoveRuleByName removes the first rule with the given name.
func (f *SieveFilter) RemoveRuleByName(name string) error {
	for i, r := range f.Rules {
		if r.Name() == name {
			return f.RemoveRule(i)
		}
	}
	return fmt.Errorf("%w: no rule named %q", consts.ErrInvalidFilter, name)
}

func (f *SieveFilter) Enable() {
	f.Enabled = true
	f.touch()
}

func (f *SieveFilter) Disable() {
	f.Enabled = false
	f.touch()
}

// Validate returns the structural problems of the filter. An empty slice
// means the filter is valid.
func (f *SieveFilter) Validate() []string {
	var errs []string
	if f.Name == "" {
		errs = append(errs, "Filter must have a name")
	}
	if len(f.Rules) == 0 {
		errs = append(errs, "Filter must have at least one rule")
	}
	for i, r := range f.Rules {
		if len(r.conditions) == 0 {
			errs = append(errs, fmt.Sprintf("Rule %d has no conditions", i+1))
		}
		if len(r.actions) == 0 {
			errs = append(errs, fmt.Sprintf("Rule %d has no actions", i+1))
		}
	}
	return errs
}

// EnabledRules returns the rules that evaluators consider, in order.
func (f *SieveFilter) EnabledRules() []Rule {
	rules := make([]Rule, 0, len(f.Rules))
	for _, r := range f.Rules {
		if r.Enabled() {
			rules = append(rules, r)
		}
	}
	return rules
}

func (f *SieveFilter) String() string {
	return fmt.Sprintf("SieveFilter(name=%q, rules=%d)", f.Name, len(f.Rules))
}
