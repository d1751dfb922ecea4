package generator

import (
	"strings"
)

// CategoryPattern is one externally suggested grouping of similar mail. It
// may carry nested subcategories.
type CategoryPattern struct {
	Name            string            `json:"name" yaml:"name"`
	Description     string            `json:"description" yaml:"description"`
	Patterns        []string          `json:"patterns" yaml:"patterns"`
	SuggestedFolder string            `json:"suggested_folder" yaml:"suggested_folder"`
	Confidence      float64           `json:"confidence" yaml:"confidence"`
	ExampleSubjects []string          `json:"example_subjects" yaml:"example_subjects"`
	Subcategories   []CategoryPattern `json:"subcategories,omitempty" yaml:"subcategories,omitempty"`
}

// Folder returns the suggested folder, falling back to the category name.
func (c CategoryPattern) Folder() string {
	if f := strings.TrimSpace(c.SuggestedFolder); f != "" {
		return f
	}
	return c.Name
}

// SkipReason says why an item was left out of the generated filter.
type SkipReason string

const (
	SkipLowConfidence   SkipReason = "below_min_confidence"
	SkipInvalidPattern  SkipReason = "invalid_pattern"
	SkipNoValidPatterns SkipReason = "no_valid_patterns"
	SkipInvalidRule     SkipReason = "invalid_rule"
	SkipTooDeep         SkipReason = "too_deep"
	SkipMalformed       SkipReason = "malformed_entry"
)

// Skip records a dropped category, pattern or raw entry. Skips are not
// errors: one bad suggestion never blocks the others.
type Skip struct {
	// Path is the chain of category names from the top level down.
	Path    []string   `json:"path"`
	Pattern string     `json:"pattern,omitempty"`
	Reason  SkipReason `json:"reason"`
	Err     error      `json:"-"`
}

// Category returns the path rendered as "Parent/Child".
func (s Skip) Category() string {
	return strings.Join(s.Path, "/")
}

func (s Skip) String() string {
	var b strings.Builder
	b.WriteString(string(s.Reason))
	if len(s.Path) > 0 {
		b.WriteString(" [")
		b.WriteString(s.Category())
		b.WriteString("]")
	}
	if s.Pattern != "" {
		b.WriteString(" pattern=")
		b.WriteString(s.Pattern)
	}
	if s.Err != nil {
		b.WriteString(": ")
		b.WriteString(s.Err.Error())
	}
	return b.String()
}

func childPath(path []string, name string) []string {
	p := make([]string, len(path), len(path)+1)
	copy(p, path)
	return append(p, name)
}
