// Package matcher dry-runs a filter against a message collection. Nothing is
// moved, flagged or mutated; the outcome is reported as data.
package matcher

import (
	"fmt"
	"strings"

	"github.com/migadu/sieveforge/email"
	"github.com/migadu/sieveforge/filter"
)

// MatchResult records one message matching one rule.
type MatchResult struct {
	Email     *email.Email
	RuleIndex int
	Rule      filter.Rule
	Actions   []filter.Action
}

// RuleMatchCount is the number of messages attributed to a rule.
type RuleMatchCount struct {
	Name  string
	Count int
}

// FilterTestResult summarises a dry run.
type FilterTestResult struct {
	Filter      *filter.SieveFilter
	TotalEmails int
	// MatchedEmails counts distinct messages that matched at least one rule.
	MatchedEmails int
	MatchRate     float64
	// MatchesByRule has one entry per rule, in filter order.
	MatchesByRule []RuleMatchCount
	MatchResults  []MatchResult
}

// FilterMatcher is stateless and safe for concurrent use.
type FilterMatcher struct{}

func New() *FilterMatcher {
	return &FilterMatcher{}
}

// TestFilter evaluates every enabled rule, in order, against every message.
// A message can match several rules; evaluation for that message ends at the
// first matching rule that contains stop.
func (m *FilterMatcher) TestFilter(f *filter.SieveFilter, emails []*email.Email) *FilterTestResult {
	res := &FilterTestResult{Filter: f, TotalEmails: len(emails)}
	if len(emails) == 0 {
		return res
	}

	res.MatchesByRule = make([]RuleMatchCount, len(f.Rules))
	for i, r := range f.Rules {
		res.MatchesByRule[i].Name = r.Name()
	}

	for _, e := range emails {
		matched := false
		for i, r := range f.Rules {
			if !r.Enabled() || !RuleMatches(r, e) {
				continue
			}
			matched = true
			res.MatchesByRule[i].Count++
			res.MatchResults = append(res.MatchResults, MatchResult{
				Email:     e,
				RuleIndex: i,
				Rule:      r,
				Actions:   r.Actions(),
			})
			if r.HasStop() {
				break
			}
		}
		if matched {
			res.MatchedEmails++
		}
	}

	res.MatchRate = float64(res.MatchedEmails) / float64(res.TotalEmails)
	return res
}

// FindUnmatchedEmails returns the messages no enabled rule matches.
func (m *FilterMatcher) FindUnmatchedEmails(f *filter.SieveFilter, emails []*email.Email) []*email.Email {
	var out []*email.Email
	for _, e := range emails {
		if !anyRuleMatches(f, e) {
			out = append(out, e)
		}
	}
	return out
}

func anyRuleMatches(f *filter.SieveFilter, e *email.Email) bool {
	for _, r := range f.Rules {
		if r.Enabled() && RuleMatches(r, e) {
			return true
		}
	}
	return false
}

// SimulatedOutcome is the flat effect of a match's actions.
type SimulatedOutcome struct {
	OriginalFolder string
	NewFolder      string
	MarkedAsRead   bool
	Flags          []string
	Discarded      bool
	Kept           bool
	RedirectedTo   []string
	Stopped        bool
}

// SimulateActions projects the actions of a match onto its message without
// touching the message.
func (m *FilterMatcher) SimulateActions(mr MatchResult) SimulatedOutcome {
	out := SimulatedOutcome{
		OriginalFolder: mr.Email.Folder,
		NewFolder:      mr.Email.Folder,
	}
	for _, a := range mr.Actions {
		switch a.Kind() {
		case filter.ActFileInto:
			out.NewFolder = a.Param()
		case filter.ActRedirect:
			out.RedirectedTo = append(out.RedirectedTo, a.Param())
		case filter.ActDiscard:
			out.Discarded = true
		case filter.ActKeep:
			out.Kept = true
		case filter.ActStop:
			out.Stopped = true
		case filter.ActSetFlag:
			out.Flags = []string{a.Param()}
		case filter.ActAddFlag:
			if !hasFlag(out.Flags, a.Param()) {
				out.Flags = append(out.Flags, a.Param())
			}
		}
	}
	out.MarkedAsRead = hasFlag(out.Flags, filter.SeenFlag)
	return out
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

const (
	reportWidth   = 60
	reportSamples = 5
	sampleSubject = 50
)

// GenerateTestReport renders a dry run as plain text.
func (m *FilterMatcher) GenerateTestReport(res *FilterTestResult) string {
	rule := strings.Repeat("=", reportWidth)
	sep := strings.Repeat("-", reportWidth)

	lines := []string{
		rule,
		"FILTER TEST REPORT",
		rule,
		"Filter: " + res.Filter.Name,
		fmt.Sprintf("Total Emails: %d", res.TotalEmails),
		fmt.Sprintf("Matched Emails: %d", res.MatchedEmails),
		fmt.Sprintf("Match Rate: %.1f%%", res.MatchRate*100),
		"",
		"Matches by Rule:",
		sep,
	}
	for _, rc := range res.MatchesByRule {
		lines = append(lines, fmt.Sprintf("  %s: %d emails", rc.Name, rc.Count))
	}

	if len(res.MatchResults) > 0 {
		lines = append(lines, "", "Sample Matches:", sep)
		for i, mr := range res.MatchResults {
			if i == reportSamples {
				break
			}
			subject := mr.Email.Subject
			if r := []rune(subject); len(r) > sampleSubject {
				subject = string(r[:sampleSubject])
			}
			lines = append(lines, fmt.Sprintf("  %d. [%s] %s", i+1, mr.Rule.Name(), subject))
		}
	}

	lines = append(lines, rule)
	return strings.Join(lines, "\n")
}
