package filter

import (
	"fmt"
	"strings"

	"github.com/migadu/sieveforge/consts"
)

// CombineMode decides how a rule's conditions are joined.
type CombineMode int

const (
	// AnyOf matches when at least one condition holds.
	AnyOf CombineMode = iota
	// AllOf matches when every condition holds.
	AllOf
)

func (m CombineMode) String() string {
	switch m {
	case AnyOf:
		return "anyof"
	case AllOf:
		return "allof"
	}
	return fmt.Sprintf("CombineMode(%d)", int(m))
}

func (m CombineMode) MarshalText() ([]byte, error) {
	switch m {
	case AnyOf, AllOf:
		return []byte(m.String()), nil
	}
	return nil, fmt.Errorf("%w: unknown combine mode %d", consts.ErrInvalidRule, int(m))
}

func (m *CombineMode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "anyof", "any":
		*m = AnyOf
	case "allof", "all":
		*m = AllOf
	default:
		return fmt.Errorf("%w: unknown combine mode %q", consts.ErrInvalidRule, b)
	}
	return nil
}

// Rule is an immutable, named bundle of conditions and actions.
type Rule struct {
	name        string
	description string
	conditions  []Condition
	actions     []Action
	mode        CombineMode
	disabled    bool
}

// NewRule requires at least one condition and one action. The slices are
// copied.
func NewRule(name, description string, mode CombineMode, conditions []Condition, actions []Action) (Rule, error) {
	if len(conditions) == 0 {
		return Rule{}, fmt.Errorf("%w: rule %q must have at least one condition", consts.ErrInvalidRule, name)
	}
	if len(actions) == 0 {
		return Rule{}, fmt.Errorf("%w: rule %q must have at least one action", consts.ErrInvalidRule, name)
	}
	if mode != AnyOf && mode != AllOf {
		return Rule{}, fmt.Errorf("%w: invalid combine mode %d", consts.ErrInvalidRule, int(mode))
	}
	return Rule{
		name:        name,
		description: description,
		conditions:  append([]Condition(nil), conditions...),
		actions:     append([]Action(nil), actions...),
		mode:        mode,
	}, nil
}

func (r Rule) Name() string        { return r.name }
func (r Rule) Description() string { return r.description }
func (r Rule) Mode() CombineMode   { return r.mode }
func (r Rule) Enabled() bool       { return !r.disabled }

// Conditions returns a copy of the rule's conditions.
func (r Rule) Conditions() []Condition {
	return append([]Condition(nil), r.conditions...)
}

// Actions returns a copy of the rule's actions.
func (r Rule) Actions() []Action {
	return append([]Action(nil), r.actions...)
}

// Disabled returns a copy of the rule that evaluators skip.
func (r Rule) Disabled() Rule {
	c := r.clone()
	c.disabled = true
	return c
}

// WithEnabled returns a copy with the given enabled state.
func (r Rule) WithEnabled(enabled bool) Rule {
	c := r.clone()
	c.disabled = !enabled
	return c
}

func (r Rule) clone() Rule {
	c := r
	c.conditions = append([]Condition(nil), r.conditions...)
	c.actions = append([]Action(nil), r.actions...)
	return c
}

// HasStop reports whether any action is stop.
func (r Rule) HasStop() bool {
	for _, a := range r.actions {
		if a.kind == ActStop {
			return true
		}
	}
	return false
}

// TargetFolder returns the folder of the last fileinto action, or "".
func (r Rule) TargetFolder() string {
	folder := ""
	for _, a := range r.actions {
		if a.kind == ActFileInto {
			folder = a.param
		}
	}
	return folder
}

// Sieve renders the rule block, preceded by its name and description
// comments. A single condition is inlined after "if".
func (r Rule) Sieve() string {
	var b strings.Builder
	if r.name != "" {
		fmt.Fprintf(&b, "# Rule: %s\n", commentSafe(r.name))
	}
	if r.description != "" {
		fmt.Fprintf(&b, "# Description: %s\n", commentSafe(r.description))
	}

	if len(r.conditions) == 1 {
		fmt.Fprintf(&b, "if %s {\n", r.conditions[0].Sieve())
	} else {
		fmt.Fprintf(&b, "if %s (\n", r.mode)
		for i, c := range r.conditions {
			b.WriteString("  ")
			b.WriteString(c.Sieve())
			if i < len(r.conditions)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString(") {\n")
	}

	for _, a := range r.actions {
		b.WriteString("  ")
		b.WriteString(a.Sieve())
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String()
}

func (r Rule) String() string {
	conds := make([]string, len(r.conditions))
	for i, c := range r.conditions {
		conds[i] = c.String()
	}
	acts := make([]string, len(r.actions))
	for i, a := range r.actions {
		acts[i] = a.String()
	}
	return fmt.Sprintf("IF %s THEN %s", strings.Join(conds, " "+r.mode.String()+" "), strings.Join(acts, ", "))
}
