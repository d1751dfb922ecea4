package lint

import (
	"strings"
	"testing"

	"github.com/migadu/sieveforge/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, script string) *filter.SieveFilter {
	t.Helper()
	f, err := filter.ParseScript(script)
	require.NoError(t, err)
	return f
}

func TestValidateFilterEmpty(t *testing.T) {
	f, err := filter.New("Empty", "")
	require.NoError(t, err)

	issues := New().ValidateFilter(f)
	require.Len(t, issues, 1)
	assert.Equal(t, ValidationIssue{
		Severity:   SeverityError,
		RuleName:   "Filter",
		Message:    "Filter has no rules",
		Suggestion: "Add at least one filter rule",
	}, issues[0])
}

func TestValidateFilterCleanGeneratedRules(t *testing.T) {
	cond, err := filter.AddressDomainIs("from", "github.com")
	require.NoError(t, err)
	act, err := filter.FileInto("Dev")
	require.NoError(t, err)
	r, err := filter.NewRule("GitHub", "", filter.AnyOf, []filter.Condition{cond}, []filter.Action{act, filter.Stop()})
	require.NoError(t, err)
	f, err := filter.New("F", "", r)
	require.NoError(t, err)

	issues := New().ValidateFilter(f)
	assert.Empty(t, issues)
	assert.Equal(t, NoIssuesMessage, FormatIssuesReport(issues))
}

func TestValidateRuleFindings(t *testing.T) {
	f := parse(t, `require ["fileinto"];

# Rule: Mixed
if anyof (
  address :domain :is "from" "Example.com",
  address :domain :is "from" "mail.com",
  header :contains "subject" "invoice, receipt"
) {
  fileinto "Junk";
}

if anyof (
) {
}
`)
	require.Len(t, f.Rules, 2)
	v := New()

	issues := v.ValidateRule(f.Rules[0])
	require.Len(t, issues, 3)
	assert.Equal(t, SeverityError, issues[0].Severity)
	assert.Equal(t, "Mixed", issues[0].RuleName)
	assert.Equal(t, "Placeholder domain detected: example.com", issues[0].Message)
	assert.Equal(t, "Replace 'example.com' with a real domain from your emails", issues[0].Suggestion)

	assert.Equal(t, SeverityWarning, issues[1].Severity)
	assert.Equal(t, "Overly generic domain: mail.com", issues[1].Message)

	assert.Equal(t, SeverityError, issues[2].Severity)
	assert.Equal(t, "Comma found in condition value: 'invoice, receipt'", issues[2].Message)
	assert.Equal(t, "Split 'invoice, receipt' into multiple conditions. Use anyof logic to match ANY of the keywords.", issues[2].Suggestion)

	hollow := v.ValidateRule(f.Rules[1])
	require.Len(t, hollow, 2)
	assert.Equal(t, "Unnamed", hollow[0].RuleName)
	assert.Equal(t, "Rule has no conditions", hollow[0].Message)
	assert.Equal(t, "Rule has no actions", hollow[1].Message)
}

func TestValidateFilterDomainOverlap(t *testing.T) {
	f := parse(t, `require ["fileinto"];

# Rule: A
if address :domain :is "from" "vendor.io" {
  fileinto "Bills";
}

# Rule: B
if address :domain :is "from" "VENDOR.io" {
  fileinto "Shop";
}

# Rule: C
if address :domain :is "from" "vendor.io" {
  fileinto "Bills";
}

# Rule: D
if address :domain :is "from" "vendor.io" {
  discard;
}

# Rule: E
if address :domain :is "from" "other.io" {
  fileinto "Bills";
}
`)
	issues := New().ValidateFilter(f)
	require.Len(t, issues, 1)
	assert.Equal(t, ValidationIssue{
		Severity:   SeverityWarning,
		RuleName:   "Multiple Rules",
		Message:    "Domain 'vendor.io' used in multiple folders: Bills, Shop",
		Suggestion: "This may cause emails to be sorted into the first matching folder only",
	}, issues[0])
}

func TestFormatIssuesReport(t *testing.T) {
	issues := []ValidationIssue{
		{Severity: SeverityWarning, RuleName: "W", Message: "warn one"},
		{Severity: SeverityError, RuleName: "E1", Message: "err one", Suggestion: "fix it"},
		{Severity: SeverityInfo, RuleName: "I", Message: "fyi"},
		{Severity: SeverityError, RuleName: "E2", Message: "err two"},
	}

	report := FormatIssuesReport(issues)
	bar := strings.Repeat("=", 60)
	expected := strings.Join([]string{
		bar,
		"SIEVE FILTER VALIDATION REPORT",
		bar,
		"",
		"❌ ERRORS (2):",
		"",
		"1. [E1] err one",
		"   💡 fix it",
		"",
		"2. [E2] err two",
		"",
		"⚠️  WARNINGS (1):",
		"",
		"1. [W] warn one",
		"",
		"ℹ️  INFO (1):",
		"",
		"1. [I] fyi",
		"",
		bar,
		"Total: 2 errors, 1 warnings, 1 info",
		bar,
	}, "\n")
	assert.Equal(t, expected, report)

	c := Counts(issues)
	assert.Equal(t, 2, c[SeverityError])
	assert.Equal(t, 1, c[SeverityWarning])
	assert.Equal(t, 1, c[SeverityInfo])
	assert.True(t, HasErrors(issues))
	assert.False(t, HasErrors(issues[2:3]))
}
