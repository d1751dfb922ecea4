// Package generator turns machine-suggested email categories into an
// ordered, validated Sieve filter.
//
// Categories are filtered by confidence, ordered by a fixed priority bucket
// (security first, everything unrecognised last) and walked depth-first so
// every subcategory's rule follows its parent's. Each category with at least
// one parseable pattern becomes one rule: fileinto its folder, then stop.
//
// Failures come back on two channels. Rejecting the whole input is an error
// (consts.ErrInvalidInput, consts.ErrEmptyResult); dropping a single
// category or pattern is a Skip in the Result.
package generator

import (
	"fmt"
	"sort"

	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/filter"
	"github.com/migadu/sieveforge/logger"
)

const (
	// MaxCategoryDepth bounds subcategory nesting. Top-level categories are
	// at depth 1; anything nested deeper is skipped.
	MaxCategoryDepth = 8

	DefaultMinConfidence = 0.5
	DefaultFilterName    = "AI-Generated Email Filters"
)

// FilterGenerator holds only its threshold and is safe for concurrent use.
type FilterGenerator struct {
	MinConfidence float64
}

func New(minConfidence float64) *FilterGenerator {
	return &FilterGenerator{MinConfidence: minConfidence}
}

// Result is a generated filter plus everything dropped on the way.
type Result struct {
	Filter  *filter.SieveFilter
	Skipped []Skip
}

// GenerateFilterFromCategories builds a filter from a category tree.
func (g *FilterGenerator) GenerateFilterFromCategories(categories []CategoryPattern) (*Result, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("%w: no categories provided for filter generation", consts.ErrInvalidInput)
	}

	w := &walker{gen: g}
	top := w.eligible(categories, nil)
	if len(top) == 0 {
		return nil, fmt.Errorf("%w: no categories meet minimum confidence threshold of %v", consts.ErrInvalidInput, g.MinConfidence)
	}

	w.walk(top, nil, 1)

	if len(w.rules) == 0 {
		return nil, fmt.Errorf("%w: failed to generate any valid rules from %d categories", consts.ErrEmptyResult, len(top))
	}

	f, err := filter.New(DefaultFilterName,
		fmt.Sprintf("Automatically generated filters for %d categories", len(w.rules)),
		w.rules...)
	if err != nil {
		return nil, err
	}

	logger.Info("Generated filter", "rules", len(w.rules), "skipped", len(w.skipped))
	return &Result{Filter: f, Skipped: w.skipped}, nil
}

// ValidatePatterns returns the pattern strings that parse into at least one
// condition, in input order.
func (g *FilterGenerator) ValidatePatterns(patterns []string) []string {
	valid := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if _, err := filter.ConditionsFromPattern(p); err == nil {
			valid = append(valid, p)
		}
	}
	return valid
}

type walker struct {
	gen     *FilterGenerator
	rules   []filter.Rule
	skipped []Skip
}

func (w *walker) skip(s Skip) {
	logger.Debug("Skipping category item", "category", s.Category(), "pattern", s.Pattern, "reason", s.Reason, "error", s.Err)
	w.skipped = append(w.skipped, s)
}

// eligible drops categories under the confidence threshold and stable-sorts
// the rest by priority bucket.
func (w *walker) eligible(categories []CategoryPattern, path []string) []CategoryPattern {
	kept := make([]CategoryPattern, 0, len(categories))
	for _, c := range categories {
		if c.Confidence < w.gen.MinConfidence {
			w.skip(Skip{
				Path:   childPath(path, c.Name),
				Reason: SkipLowConfidence,
				Err:    fmt.Errorf("confidence %v below %v", c.Confidence, w.gen.MinConfidence),
			})
			continue
		}
		kept = append(kept, c)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return PriorityOf(kept[i]) < PriorityOf(kept[j])
	})
	return kept
}

func (w *walker) walk(categories []CategoryPattern, path []string, depth int) {
	for _, c := range categories {
		p := childPath(path, c.Name)
		if depth > MaxCategoryDepth {
			w.skip(Skip{Path: p, Reason: SkipTooDeep, Err: fmt.Errorf("nesting deeper than %d", MaxCategoryDepth)})
			continue
		}

		if rule, ok := w.ruleFor(c, p); ok {
			w.rules = append(w.rules, rule)
		}

		if len(c.Subcategories) > 0 {
			w.walk(w.eligible(c.Subcategories, p), p, depth+1)
		}
	}
}

// ruleFor builds the rule of a single category, ignoring its children.
func (w *walker) ruleFor(c CategoryPattern, path []string) (filter.Rule, bool) {
	if len(c.Patterns) == 0 {
		return filter.Rule{}, false
	}

	var conds []filter.Condition
	for _, p := range c.Patterns {
		cs, err := filter.ConditionsFromPattern(p)
		if err != nil {
			w.skip(Skip{Path: path, Pattern: p, Reason: SkipInvalidPattern, Err: err})
			continue
		}
		conds = append(conds, cs...)
	}
	if len(conds) == 0 {
		w.skip(Skip{Path: path, Reason: SkipNoValidPatterns, Err: fmt.Errorf("none of %d patterns parsed", len(c.Patterns))})
		return filter.Rule{}, false
	}

	fileInto, err := filter.FileInto(c.Folder())
	if err != nil {
		w.skip(Skip{Path: path, Reason: SkipInvalidRule, Err: err})
		return filter.Rule{}, false
	}

	// Generated rules are always OR-combined, even with a single condition.
	rule, err := filter.NewRule(c.Name, c.Description, filter.AnyOf, conds, []filter.Action{fileInto, filter.Stop()})
	if err != nil {
		w.skip(Skip{Path: path, Reason: SkipInvalidRule, Err: err})
		return filter.Rule{}, false
	}
	return rule, true
}
