package lint

import (
	"fmt"
	"strings"
)

// NoIssuesMessage is the whole report when there is nothing to say.
const NoIssuesMessage = "✅ No validation issues found!"

var sections = []struct {
	severity Severity
	heading  string
}{
	{SeverityError, "❌ ERRORS"},
	{SeverityWarning, "⚠️  WARNINGS"},
	{SeverityInfo, "ℹ️  INFO"},
}

// Counts tallies issues per severity.
func Counts(issues []ValidationIssue) map[Severity]int {
	counts := map[Severity]int{SeverityError: 0, SeverityWarning: 0, SeverityInfo: 0}
	for _, i := range issues {
		counts[i.Severity]++
	}
	return counts
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []ValidationIssue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// FormatIssuesReport renders issues grouped by severity, numbered within
// each group in their original order.
func FormatIssuesReport(issues []ValidationIssue) string {
	if len(issues) == 0 {
		return NoIssuesMessage
	}

	rule := strings.Repeat("=", 60)
	lines := []string{rule, "SIEVE FILTER VALIDATION REPORT", rule, ""}

	for _, s := range sections {
		var group []ValidationIssue
		for _, i := range issues {
			if i.Severity == s.severity {
				group = append(group, i)
			}
		}
		if len(group) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s (%d):", s.heading, len(group)), "")
		for n, i := range group {
			lines = append(lines, fmt.Sprintf("%d. [%s] %s", n+1, i.RuleName, i.Message))
			if i.Suggestion != "" {
				lines = append(lines, "   💡 "+i.Suggestion)
			}
			lines = append(lines, "")
		}
	}

	c := Counts(issues)
	lines = append(lines,
		rule,
		fmt.Sprintf("Total: %d errors, %d warnings, %d info", c[SeverityError], c[SeverityWarning], c[SeverityInfo]),
		rule,
	)
	return strings.Join(lines, "\n")
}
