package matcher

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/migadu/sieveforge/email"
	"github.com/migadu/sieveforge/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func newEmail(t testing.TB, sender, subject, body string) *email.Email {
	t.Helper()
	e, err := email.New(email.Params{
		Sender:  sender,
		Subject: subject,
		Body:    body,
		Headers: map[string]string{"List-Id": "<news.vendor.io>"},
	})
	require.NoError(t, err)
	return e
}

func rule(name string, mode filter.CombineMode, conds []filter.Condition, acts ...filter.Action) filter.Rule {
	return must(filter.NewRule(name, "", mode, conds, acts))
}

func fileStop(folder string) []filter.Action {
	return []filter.Action{must(filter.FileInto(folder)), filter.Stop()}
}

func TestTestFilterEmpty(t *testing.T) {
	f := must(filter.New("Empty run", "",
		rule("a", filter.AnyOf, []filter.Condition{must(filter.HeaderContains("subject", "x"))}, fileStop("A")...)))

	res := New().TestFilter(f, nil)
	assert.Equal(t, 0, res.TotalEmails)
	assert.Equal(t, 0, res.MatchedEmails)
	assert.Equal(t, 0.0, res.MatchRate)
	assert.Empty(t, res.MatchResults)
}

func TestTestFilterStopAndMultiMatch(t *testing.T) {
	flag := rule("flag", filter.AnyOf,
		[]filter.Condition{must(filter.HeaderContains("subject", "invoice"))},
		filter.MarkAsRead())
	bills := rule("bills", filter.AnyOf,
		[]filter.Condition{must(filter.AddressDomainIs("from", "vendor.io"))},
		fileStop("Bills")...)
	late := rule("late", filter.AnyOf,
		[]filter.Condition{must(filter.HeaderContains("subject", "invoice"))},
		fileStop("Never")...)
	off := rule("off", filter.AnyOf,
		[]filter.Condition{must(filter.HeaderContains("subject", "hello"))},
		fileStop("Off")...).Disabled()

	f := must(filter.New("Bills", "", flag, bills, late, off))
	emails := []*email.Email{
		newEmail(t, "billing@vendor.io", "Invoice 42", ""),
		newEmail(t, "friend@home.net", "hello there", ""),
		newEmail(t, "shop@other.com", "Your invoice", ""),
	}
	before := emails[0].Folder

	m := New()
	res := m.TestFilter(f, emails)

	assert.Equal(t, 3, res.TotalEmails)
	assert.Equal(t, 2, res.MatchedEmails)
	assert.InDelta(t, 2.0/3.0, res.MatchRate, 1e-9)
	assert.Equal(t, []RuleMatchCount{{"flag", 2}, {"bills", 1}, {"late", 1}, {"off", 0}}, res.MatchesByRule)

	require.Len(t, res.MatchResults, 4)
	assert.Equal(t, "flag", res.MatchResults[0].Rule.Name())
	assert.Equal(t, "bills", res.MatchResults[1].Rule.Name())
	assert.Equal(t, "flag", res.MatchResults[2].Rule.Name())
	assert.Equal(t, "late", res.MatchResults[3].Rule.Name())
	assert.Equal(t, before, emails[0].Folder)

	unmatched := m.FindUnmatchedEmails(f, emails)
	require.Len(t, unmatched, 1)
	assert.Equal(t, "friend@home.net", unmatched[0].Sender.String())
}

func TestConditionMatches(t *testing.T) {
	e := newEmail(t, "Alerts@GitHub.com", "[repo] Build FAILED on main", "See https://ci.example/log 42")

	tests := []struct {
		name string
		cond filter.Condition
		want bool
	}{
		{"domain is", must(filter.AddressDomainIs("from", "github.com")), true},
		{"domain is other", must(filter.AddressDomainIs("from", "gitlab.com")), false},
		{"domain on to", must(filter.AddressDomainIs("to", "github.com")), false},
		{"address is", must(filter.AddressIs("From", "alerts@github.com")), true},
		{"header from contains", must(filter.HeaderContains("from", "@github")), true},
		{"subject contains", must(filter.HeaderContains("Subject", "build failed")), true},
		{"subject is", must(filter.HeaderIs("subject", "[repo] build failed on main")), true},
		{"subject is partial", must(filter.HeaderIs("subject", "build failed")), false},
		{"to is empty", must(filter.HeaderContains("to", "someone")), false},
		{"header lookup", must(filter.HeaderContains("list-id", "vendor.io")), true},
		{"unknown field", must(filter.HeaderContains("X-Nope", "x")), false},
		{"present header wildcard", must(filter.NewCondition(filter.CondHeaderContains, "List-Id", filter.MatchMatches, "*")), true},
		{"absent header wildcard", must(filter.NewCondition(filter.CondHeaderContains, "reply-to", filter.MatchMatches, "*")), false},
		{"body", must(filter.BodyContains("CI.EXAMPLE")), true},
		{"body field", must(filter.HeaderContains("body", "log 42")), true},
		{"wildcard", must(filter.NewCondition(filter.CondHeaderContains, "subject", filter.MatchMatches, "[repo] * failed")), true},
		{"wildcard prefix", must(filter.NewCondition(filter.CondHeaderContains, "subject", filter.MatchMatches, "[repo]?build")), true},
		{"wildcard not anchored later", must(filter.NewCondition(filter.CondHeaderContains, "subject", filter.MatchMatches, "build*")), false},
		{"wildcard dot literal", must(filter.NewCondition(filter.CondHeaderContains, "from", filter.MatchMatches, "alerts@github?com")), true},
		{"regex", must(filter.NewCondition(filter.CondHeaderContains, "subject", filter.MatchRegex, `failed\s+on`)), true},
		{"size over", must(filter.SizeOver("10")), true},
		{"size under", must(filter.SizeUnder("1K")), true},
		{"size over large", must(filter.SizeOver("1M")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConditionMatches(tt.cond, e))
		})
	}
}

func TestRuleMatchesCombineModes(t *testing.T) {
	e := newEmail(t, "bot@ci.dev", "Deploy finished", "")
	hit := must(filter.HeaderContains("subject", "deploy"))
	miss := must(filter.HeaderContains("subject", "rollback"))

	assert.True(t, RuleMatches(rule("any", filter.AnyOf, []filter.Condition{miss, hit}, filter.Keep()), e))
	assert.False(t, RuleMatches(rule("all", filter.AllOf, []filter.Condition{miss, hit}, filter.Keep()), e))
	assert.True(t, RuleMatches(rule("all", filter.AllOf, []filter.Condition{hit, hit}, filter.Keep()), e))
	assert.False(t, RuleMatches(filter.Rule{}, e))
}

func TestSimulateActions(t *testing.T) {
	e := newEmail(t, "a@b.com", "s", "")
	m := New()

	out := m.SimulateActions(MatchResult{Email: e, Actions: []filter.Action{
		must(filter.FileInto("Work")),
		filter.MarkAsRead(),
		must(filter.AddFlag("$Label1")),
		must(filter.AddFlag(`\seen`)),
		must(filter.Redirect("me@home.net")),
		filter.Stop(),
	}})
	assert.Equal(t, SimulatedOutcome{
		OriginalFolder: "INBOX",
		NewFolder:      "Work",
		MarkedAsRead:   true,
		Flags:          []string{`\Seen`, "$Label1"},
		RedirectedTo:   []string{"me@home.net"},
		Stopped:        true,
	}, out)
	assert.Equal(t, "INBOX", e.Folder)

	out = m.SimulateActions(MatchResult{Email: e, Actions: []filter.Action{filter.Discard()}})
	assert.True(t, out.Discarded)
	assert.Equal(t, "INBOX", out.NewFolder)
	assert.False(t, out.MarkedAsRead)

	out = m.SimulateActions(MatchResult{Email: e, Actions: []filter.Action{filter.MarkAsRead(), must(filter.SetFlag("$Todo")), filter.Keep()}})
	assert.False(t, out.MarkedAsRead)
	assert.True(t, out.Kept)
	assert.Equal(t, []string{"$Todo"}, out.Flags)
}

func TestGenerateTestReport(t *testing.T) {
	r := rule("Receipts", filter.AnyOf, []filter.Condition{must(filter.HeaderContains("subject", "receipt"))}, fileStop("Receipts")...)
	f := must(filter.New("Report", "", r))

	var emails []*email.Email
	for i := 0; i < 7; i++ {
		emails = append(emails, newEmail(t, "shop@store.io", fmt.Sprintf("Receipt %d %s", i, strings.Repeat("x", 60)), ""))
	}
	emails = append(emails, newEmail(t, "x@y.io", "other", ""))

	m := New()
	report := m.GenerateTestReport(m.TestFilter(f, emails))
	lines := strings.Split(report, "\n")

	assert.Equal(t, strings.Repeat("=", 60), lines[0])
	assert.Equal(t, "FILTER TEST REPORT", lines[1])
	assert.Contains(t, report, "Filter: Report\n")
	assert.Contains(t, report, "Total Emails: 8\n")
	assert.Contains(t, report, "Matched Emails: 7\n")
	assert.Contains(t, report, "Match Rate: 87.5%\n")
	assert.Contains(t, report, "  Receipts: 7 emails\n")
	assert.Contains(t, report, "  5. [Receipts] Receipt 4 ")
	assert.NotContains(t, report, "  6. ")
	assert.Contains(t, report, "  1. [Receipts] Receipt 0 "+strings.Repeat("x", 40)+"\n")
	assert.Equal(t, strings.Repeat("=", 60), lines[len(lines)-1])

	empty := m.GenerateTestReport(m.TestFilter(f, nil))
	assert.Contains(t, empty, "Match Rate: 0.0%")
	assert.NotContains(t, empty, "Sample Matches:")
}

// sieveTest recognises the condition forms produced by filter rendering.
var sieveTest = regexp.MustCompile(`^(address :domain|header) :(is|contains) "((?:[^"\\]|\\.)*)" "((?:[^"\\]|\\.)*)"$`)

func unquote(s string) string {
	return strings.NewReplacer(`\\`, `\`, `\"`, `"`).Replace(s)
}

// parseRule reads back the condition lines of one rendered rule block.
func parseRule(t *rapid.T, block string, actions []filter.Action) filter.Rule {
	var conds []filter.Condition
	mode := filter.AnyOf
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "if allof") {
			mode = filter.AllOf
		}
		line = strings.TrimPrefix(line, "if ")
		line = strings.TrimSuffix(strings.TrimSuffix(line, " {"), ",")
		m := sieveTest.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		var c filter.Condition
		var err error
		if m[1] == "header" {
			c, err = filter.HeaderContains(unquote(m[3]), unquote(m[4]))
		} else {
			c, err = filter.AddressDomainIs(unquote(m[3]), unquote(m[4]))
		}
		if err != nil {
			t.Fatalf("rendered condition %q does not parse back: %v", line, err)
		}
		conds = append(conds, c)
	}
	r, err := filter.NewRule("parsed", "", mode, conds, actions)
	if err != nil {
		t.Fatalf("parsed rule: %v", err)
	}
	return r
}

func TestRenderedRulesMatchLikeDirectEvaluation(t *testing.T) {
	domains := []string{"amazon.de", "github.com", "vendor.io"}
	words := []string{"order", "invoice", "build", `say "hi"`, `back\slash`}

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 4).Draw(rt, "conds")
		var conds []filter.Condition
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(rt, "isDomain") {
				conds = append(conds, must(filter.AddressDomainIs("from", rapid.SampledFrom(domains).Draw(rt, "domain"))))
			} else {
				field := rapid.SampledFrom([]string{"subject", "from"}).Draw(rt, "field")
				conds = append(conds, must(filter.HeaderContains(field, rapid.SampledFrom(words).Draw(rt, "word"))))
			}
		}
		mode := filter.CombineMode(rapid.IntRange(0, 1).Draw(rt, "mode"))
		original := must(filter.NewRule("r", "", mode, conds, fileStop("X")))
		parsed := parseRule(rt, original.Sieve(), fileStop("X"))

		for i := 0; i < 10; i++ {
			sender := rapid.SampledFrom([]string{"a", "order", "build"}).Draw(rt, "local") + "@" + rapid.SampledFrom(domains).Draw(rt, "senderDomain")
			subject := rapid.SampledFrom(words).Draw(rt, "s1") + " " + rapid.SampledFrom(words).Draw(rt, "s2")
			e := newEmail(t, sender, subject, "")
			if RuleMatches(original, e) != RuleMatches(parsed, e) {
				rt.Fatalf("rendered rule disagrees on %s / %q:\n%s", sender, subject, original.Sieve())
			}
		}
	})
}
