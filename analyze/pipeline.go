// Package analyze wires the core packages into the steps every front end
// runs: detect patterns, generate a filter, lint and syntax-check it, dry-run
// it against mail, then store and install the result.
//
// The core packages stay free of metrics; the counters are recorded here.
package analyze

import (
	"context"
	"fmt"

	"github.com/migadu/sieveforge/config"
	"github.com/migadu/sieveforge/detector"
	"github.com/migadu/sieveforge/email"
	"github.com/migadu/sieveforge/filter"
	"github.com/migadu/sieveforge/generator"
	"github.com/migadu/sieveforge/lint"
	"github.com/migadu/sieveforge/matcher"
	"github.com/migadu/sieveforge/pkg/metrics"
	"github.com/migadu/sieveforge/sieveengine"
)

// Pipeline holds the configured core components. It has no mutable state
// and is safe for concurrent use.
type Pipeline struct {
	Detector   *detector.PatternDetector
	Generator  *generator.FilterGenerator
	Validator  *lint.FilterValidator
	Matcher    *matcher.FilterMatcher
	FilterName string
	Extensions []string
}

func NewPipeline(cfg config.Config) *Pipeline {
	d := detector.New()
	d.MinFrequency = cfg.Detector.MinFrequency
	d.MinConfidence = cfg.Detector.MinConfidence
	d.MaxExamples = cfg.Detector.MaxExamples

	return &Pipeline{
		Detector:   d,
		Generator:  generator.New(cfg.Generator.MinConfidence),
		Validator:  lint.New(),
		Matcher:    matcher.New(),
		FilterName: cfg.Generator.FilterName,
		Extensions: cfg.Generator.Extensions,
	}
}

// Generated is a filter ready to be stored or installed.
type Generated struct {
	Filter  *filter.SieveFilter    `json:"-"`
	Script  string                 `json:"script"`
	Skipped []generator.Skip       `json:"skipped,omitempty"`
	Issues  []lint.ValidationIssue `json:"issues,omitempty"`
	Counts  map[lint.Severity]int  `json:"counts"`
}

// HasErrors reports whether lint found anything of error severity.
func (g *Generated) HasErrors() bool {
	return lint.HasErrors(g.Issues)
}

// Generate builds a filter from categories. source labels the metrics.
func (p *Pipeline) Generate(source string, categories []generator.CategoryPattern) (*Generated, error) {
	res, err := p.Generator.GenerateFilterFromCategories(categories)
	if err != nil {
		metrics.GenerationSkips.WithLabelValues("failed").Inc()
		return nil, err
	}
	return p.finish(source, res)
}

// GenerateFromDocument builds a filter from a decoded JSON or YAML category
// document. Malformed entries become skips.
func (p *Pipeline) GenerateFromDocument(source string, data []byte) (*Generated, error) {
	raw, err := generator.DecodeRawResponse(data)
	if err != nil {
		return nil, err
	}
	res, err := p.Generator.GenerateFilterFromRawResponse(raw)
	if err != nil {
		metrics.GenerationSkips.WithLabelValues("failed").Inc()
		return nil, err
	}
	return p.finish(source, res)
}

func (p *Pipeline) finish(source string, res *generator.Result) (*Generated, error) {
	f := res.Filter
	if p.FilterName != "" {
		f.Name = p.FilterName
	}
	script := f.ToSieveScript()
	if err := sieveengine.CheckScript(script, p.Extensions); err != nil {
		return nil, fmt.Errorf("generated script: %w", err)
	}

	issues := p.Lint(f)
	metrics.FiltersGenerated.WithLabelValues(source).Inc()
	metrics.RulesGenerated.Add(float64(len(f.Rules)))
	for _, s := range res.Skipped {
		metrics.GenerationSkips.WithLabelValues(string(s.Reason)).Inc()
	}
	return &Generated{
		Filter:  f,
		Script:  script,
		Skipped: res.Skipped,
		Issues:  issues,
		Counts:  lint.Counts(issues),
	}, nil
}

// Lint validates f and counts the findings.
func (p *Pipeline) Lint(f *filter.SieveFilter) []lint.ValidationIssue {
	issues := p.Validator.ValidateFilter(f)
	for _, i := range issues {
		metrics.LintIssues.WithLabelValues(string(i.Severity)).Inc()
	}
	return issues
}

// LintScript parses an installed or hand-edited script and lints it. A
// script go-sieve rejects is reported as an error issue rather than a
// failure.
func (p *Pipeline) LintScript(script string) ([]lint.ValidationIssue, error) {
	var issues []lint.ValidationIssue
	if err := sieveengine.CheckScript(script, p.Extensions); err != nil {
		issues = append(issues, lint.ValidationIssue{
			Severity:   lint.SeverityError,
			RuleName:   lint.FilterRuleName,
			Message:    err.Error(),
			Suggestion: "Fix the script so a Sieve interpreter accepts it",
		})
	}
	f, err := filter.ParseScript(script)
	if err != nil {
		return nil, err
	}
	return append(issues, p.Lint(f)...), nil
}

// Detection is the detector's view of a mailbox.
type Detection struct {
	Patterns     []detector.DetectedPattern  `json:"patterns"`
	Categories   []generator.CategoryPattern `json:"categories"`
	Distribution []detector.FolderCount      `json:"distribution"`
}

func (p *Pipeline) Detect(emails []*email.Email) *Detection {
	patterns := p.Detector.DetectPatterns(emails)
	for _, pat := range patterns {
		metrics.PatternsDetected.WithLabelValues(string(pat.Kind)).Inc()
	}
	return &Detection{
		Patterns:     patterns,
		Categories:   p.Detector.SuggestCategories(emails),
		Distribution: p.Detector.AnalyzeEmailDistribution(emails),
	}
}

// DryRun is a filter evaluated against real mail by the in-process matcher
// and by go-sieve.
type DryRun struct {
	Test       *matcher.FilterTestResult     `json:"-"`
	CrossCheck *sieveengine.CrossCheckResult `json:"-"`
	Report     string                        `json:"report"`
}

func (p *Pipeline) DryRun(ctx context.Context, f *filter.SieveFilter, emails []*email.Email) (*DryRun, error) {
	test := p.Matcher.TestFilter(f, emails)
	metrics.DryRunEmails.WithLabelValues("matched").Add(float64(test.MatchedEmails))
	metrics.DryRunEmails.WithLabelValues("unmatched").Add(float64(test.TotalEmails - test.MatchedEmails))

	cross, err := sieveengine.CrossCheck(ctx, f, emails, p.Extensions)
	if err != nil {
		return nil, err
	}
	metrics.CrossCheckMismatches.Add(float64(len(cross.Mismatches)))

	return &DryRun{Test: test, CrossCheck: cross, Report: p.Matcher.GenerateTestReport(test)}, nil
}
