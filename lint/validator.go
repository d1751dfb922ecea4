// Package lint finds mistakes in filters before they are installed:
// placeholder and generic domains, comma-joined keywords left over from
// older generators, empty rules and domains that feed more than one folder.
package lint

import (
	"fmt"
	"slices"
	"strings"

	"github.com/migadu/sieveforge/filter"
	"github.com/migadu/sieveforge/helpers"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Rule names used for issues that do not belong to a single named rule.
const (
	FilterRuleName   = "Filter"
	MultipleRules    = "Multiple Rules"
	UnnamedRuleLabel = "Unnamed"
)

// ValidationIssue is one finding. Suggestion may be empty.
type ValidationIssue struct {
	Severity   Severity `json:"severity"`
	RuleName   string   `json:"rule_name"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s [%s] %s", i.Severity, i.RuleName, i.Message)
}

// FilterValidator holds no state; the zero value is ready to use.
type FilterValidator struct{}

func New() *FilterValidator {
	return &FilterValidator{}
}

// ValidateFilter lints every rule, then checks domains across rules. A
// filter without rules yields a single error.
func (v *FilterValidator) ValidateFilter(f *filter.SieveFilter) []ValidationIssue {
	if f == nil || len(f.Rules) == 0 {
		return []ValidationIssue{{
			Severity:   SeverityError,
			RuleName:   FilterRuleName,
			Message:    "Filter has no rules",
			Suggestion: "Add at least one filter rule",
		}}
	}

	var issues []ValidationIssue
	for _, r := range f.Rules {
		issues = append(issues, v.ValidateRule(r)...)
	}
	return append(issues, checkDomainOverlap(f.Rules)...)
}

// ValidateRule runs every per-rule check.
func (v *FilterValidator) ValidateRule(r filter.Rule) []ValidationIssue {
	name := r.Name()
	if name == "" {
		name = UnnamedRuleLabel
	}
	conds := r.Conditions()

	var issues []ValidationIssue
	for _, c := range conds {
		if c.Kind() != filter.CondAddressDomain {
			continue
		}
		domain := helpers.NormalizeDomain(c.Value())
		if filter.IsPlaceholderDomain(domain) {
			issues = append(issues, ValidationIssue{
				Severity:   SeverityError,
				RuleName:   name,
				Message:    "Placeholder domain detected: " + domain,
				Suggestion: fmt.Sprintf("Replace '%s' with a real domain from your emails", domain),
			})
		}
	}
	for _, c := range conds {
		if c.Kind() != filter.CondAddressDomain {
			continue
		}
		domain := helpers.NormalizeDomain(c.Value())
		if filter.IsGenericDomain(domain) {
			issues = append(issues, ValidationIssue{
				Severity:   SeverityWarning,
				RuleName:   name,
				Message:    "Overly generic domain: " + domain,
				Suggestion: fmt.Sprintf("Domain '%s' is too generic and may match unintended emails", domain),
			})
		}
	}
	for _, c := range conds {
		if strings.Contains(c.Value(), ",") {
			issues = append(issues, ValidationIssue{
				Severity: SeverityError,
				RuleName: name,
				Message:  fmt.Sprintf("Comma found in condition value: '%s'", c.Value()),
				Suggestion: fmt.Sprintf("Split '%s' into multiple conditions. "+
					"Use anyof logic to match ANY of the keywords.", c.Value()),
			})
		}
	}

	if len(conds) == 0 {
		issues = append(issues, ValidationIssue{
			Severity:   SeverityError,
			RuleName:   name,
			Message:    "Rule has no conditions",
			Suggestion: "Add at least one condition to match emails",
		})
	}
	if len(r.Actions()) == 0 {
		issues = append(issues, ValidationIssue{
			Severity:   SeverityError,
			RuleName:   name,
			Message:    "Rule has no actions",
			Suggestion: "Add at least one action (e.g., fileinto)",
		})
	}
	return issues
}

// checkDomainOverlap warns about every address-domain value that leads to
// more than one fileinto folder. Rules without fileinto are ignored.
// Domains and folders are reported in first-seen order.
func checkDomainOverlap(rules []filter.Rule) []ValidationIssue {
	var order []string
	folders := make(map[string][]string)

	for _, r := range rules {
		folder := firstFolder(r)
		if folder == "" {
			continue
		}
		for _, c := range r.Conditions() {
			if c.Kind() != filter.CondAddressDomain {
				continue
			}
			domain := helpers.NormalizeDomain(c.Value())
			seen, ok := folders[domain]
			if !ok {
				order = append(order, domain)
			}
			if !slices.Contains(seen, folder) {
				folders[domain] = append(seen, folder)
			}
		}
	}

	var issues []ValidationIssue
	for _, domain := range order {
		if fs := folders[domain]; len(fs) > 1 {
			issues = append(issues, ValidationIssue{
				Severity:   SeverityWarning,
				RuleName:   MultipleRules,
				Message:    fmt.Sprintf("Domain '%s' used in multiple folders: %s", domain, strings.Join(fs, ", ")),
				Suggestion: "This may cause emails to be sorted into the first matching folder only",
			})
		}
	}
	return issues
}

func firstFolder(r filter.Rule) string {
	for _, a := range r.Actions() {
		if a.Kind() == filter.ActFileInto {
			return a.Param()
		}
	}
	return ""
}
