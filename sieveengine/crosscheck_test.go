package sieveengine

import (
	"context"
	"testing"

	"github.com/migadu/sieveforge/email"
	"github.com/migadu/sieveforge/filter"
	"github.com/migadu/sieveforge/generator"
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

type tb interface {
	Helper()
	require.TestingT
}

func mail(t tb, sender, subject string) *email.Email {
	t.Helper()
	e, err := email.New(email.Params{Sender: sender, Subject: subject, Body: "body"})
	require.NoError(t, err)
	return e
}

func TestCrossCheckGeneratedFilter(t *testing.T) {
	res, err := generator.New(0.5).GenerateFilterFromCategories([]generator.CategoryPattern{
		{Name: "Security", Patterns: []string{"from:@github.com", "subject:password, login"}, SuggestedFolder: "Security", Confidence: 0.9},
		{Name: "Shopping", Patterns: []string{"from:@amazon.de", "subject:order"}, SuggestedFolder: "Shopping", Confidence: 0.8},
	})
	require.NoError(t, err)

	emails := []*email.Email{
		mail(t, "noreply@github.com", "New sign-in"),
		mail(t, "shop@amazon.de", "Your order"),
		mail(t, "friend@home.io", "Password reset for your order"),
		mail(t, "friend@home.io", "Lunch?"),
	}

	got, err := CrossCheck(context.Background(), res.Filter, emails, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Checked)
	assert.Equal(t, 4, got.Agreed)
	assert.Empty(t, got.Mismatches)

	assert.Equal(t, []string{"Security", "Shopping", "Security", "INBOX"}, PredictDestinations(res.Filter, emails))
}

func TestCrossCheckReportsDisagreement(t *testing.T) {
	// The matcher anchors wildcards at the start only; go-sieve matches the
	// whole value.
	r := must(filter.NewRule("Builds", "", filter.AnyOf,
		[]filter.Condition{must(filter.NewCondition(filter.CondHeaderContains, "subject", filter.MatchMatches, "Build"))},
		[]filter.Action{must(filter.FileInto("Builds")), filter.Stop()}))
	f := must(filter.New("F", "", r))

	got, err := CrossCheck(context.Background(), f, []*email.Email{mail(t, "a@b.io", "Build failed")}, nil)
	require.NoError(t, err)
	require.Len(t, got.Mismatches, 1)
	assert.Equal(t, "Builds", got.Mismatches[0].Matcher)
	assert.Equal(t, "INBOX", got.Mismatches[0].Sieve)
}

func TestCrossCheckIgnoresRecipientHeader(t *testing.T) {
	r := must(filter.NewRule("ToBob", "", filter.AnyOf,
		[]filter.Condition{must(filter.HeaderContains("to", "bob"))},
		[]filter.Action{must(filter.FileInto("Bob")), filter.Stop()}))
	f := must(filter.New("F", "", r))

	e, err := email.New(email.Params{
		Sender:     "a@b.io",
		Recipients: []string{"bob@b.io"},
		Subject:    "x",
		Headers:    map[string]string{"To": "bob@b.io"},
	})
	require.NoError(t, err)

	got, err := CrossCheck(context.Background(), f, []*email.Email{e}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Agreed)
	assert.Empty(t, got.Mismatches)
}

func TestCrossCheckAgreesOnRandomFilters(t *testing.T) {
	domains := []string{"github.com", "amazon.de", "vendor.io"}
	words := []string{"order", "invoice", "alert", "sale"}
	folders := []string{"A", "B", "C"}
	people := []string{"bob", "carol"}

	rapid.Check(t, func(t *rapid.T) {
		var rules []filter.Rule
		n := rapid.IntRange(1, 4).Draw(t, "rules")
		for i := 0; i < n; i++ {
			var conds []filter.Condition
			for j := rapid.IntRange(1, 3).Draw(t, "conds"); j > 0; j-- {
				switch rapid.IntRange(0, 2).Draw(t, "kind") {
				case 0:
					conds = append(conds, must(filter.AddressDomainIs("from", rapid.SampledFrom(domains).Draw(t, "d"))))
				case 1:
					conds = append(conds, must(filter.HeaderContains("subject", rapid.SampledFrom(words).Draw(t, "w"))))
				default:
					conds = append(conds, must(filter.HeaderContains("to", rapid.SampledFrom(people).Draw(t, "p"))))
				}
			}
			mode := filter.AnyOf
			if rapid.Bool().Draw(t, "allof") {
				mode = filter.AllOf
			}
			acts := []filter.Action{must(filter.FileInto(rapid.SampledFrom(folders).Draw(t, "folder")))}
			if rapid.Bool().Draw(t, "stop") {
				acts = append(acts, filter.Stop())
			}
			rules = append(rules, must(filter.NewRule("r", "", mode, conds, acts)))
		}
		f := must(filter.New("F", "", rules...))

		var emails []*email.Email
		for i := rapid.IntRange(1, 6).Draw(t, "emails"); i > 0; i-- {
			sender := "x@" + rapid.SampledFrom(append(domains, "home.io")).Draw(t, "sender")
			subject := rapid.SampledFrom(words).Draw(t, "s1") + " " + rapid.SampledFrom(words).Draw(t, "s2")
			rcpt := rapid.SampledFrom(people).Draw(t, "rcpt") + "@home.io"
			e, err := email.New(email.Params{
				Sender:     sender,
				Recipients: []string{rcpt},
				Subject:    subject,
				Body:       "body",
				Headers:    map[string]string{"To": rcpt},
			})
			if err != nil {
				t.Fatal(err)
			}
			emails = append(emails, e)
		}

		got, err := CrossCheck(context.Background(), f, emails, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Mismatches) > 0 {
			t.Fatalf("disagreement: %v", got.Mismatches)
		}
	})
}
