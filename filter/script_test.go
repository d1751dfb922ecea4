package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSieveScriptAt(t *testing.T) {
	amazon, err := NewRule("Amazon", "Order confirmations", AnyOf,
		[]Condition{
			must(AddressDomainIs("from", "amazon.de")),
			must(HeaderContains("subject", "order")),
		},
		[]Action{must(FileInto("Shopping")), Stop()})
	require.NoError(t, err)

	alerts, err := NewRule("Alerts", "", AnyOf,
		[]Condition{must(HeaderContains("subject", "alert"))},
		[]Action{must(FileInto("Security")), MarkAsRead(), Stop()})
	require.NoError(t, err)

	f, err := New("Test", "Demo filter", amazon, alerts)
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	expected := `# Sieve Filter Rules
# Generated: 2024-05-01 12:30:00
# Filter: Test
# Description: Demo filter
#
# IMPORTANT: Review these rules before activating!

require ["fileinto", "envelope", "imap4flags"];

# Rule: Amazon
# Description: Order confirmations
if anyof (
  address :domain :is "from" "amazon.de",
  header :contains "subject" "order"
) {
  fileinto "Shopping";
  stop;
}

# Rule: Alerts
if header :contains "subject" "alert" {
  fileinto "Security";
  setflag "\\Seen";
  stop;
}

# End of AI-generated rules
# All other mail goes to Inbox (default)`

	assert.Equal(t, expected, f.ToSieveScriptAt(at))
}

func TestToSieveScriptOmitsEmptyDescriptionAndDisabledRules(t *testing.T) {
	r := fileRule(t, "Hidden", "X", must(HeaderContains("subject", "x")))
	f, err := New("Only", "", r.Disabled())
	require.NoError(t, err)

	script := f.ToSieveScriptAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.NotContains(t, script, "# Description:")
	assert.NotContains(t, script, "Hidden")
}

func TestToSieveScriptAllOfAndMultiLineNames(t *testing.T) {
	r, err := NewRule("Two\nlines", "", AllOf,
		[]Condition{
			must(AddressDomainIs("from", "github.com")),
			must(HeaderContains("subject", "failed")),
		},
		[]Action{must(FileInto("CI"))})
	require.NoError(t, err)

	f, err := New("F", "", r)
	require.NoError(t, err)
	script := f.ToSieveScript()
	assert.Contains(t, script, "# Rule: Two lines\nif allof (\n")
}

func TestRequirements(t *testing.T) {
	plain := fileRule(t, "p", "P", must(HeaderContains("subject", "a")))
	assert.Equal(t, []string{"fileinto", "envelope", "imap4flags"}, Requirements([]Rule{plain}))

	re := fileRule(t, "r", "R", must(NewCondition(CondHeaderContains, "subject", MatchRegex, "^a")))
	body := fileRule(t, "b", "B", must(BodyContains("unsubscribe")))
	assert.Equal(t,
		[]string{"fileinto", "envelope", "imap4flags", "regex", "body"},
		Requirements([]Rule{plain, body, re}))
}
