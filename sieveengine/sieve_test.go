package sieveengine

import (
	"context"
	"errors"
	"testing"

	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plainContext(subject string) Context {
	return Context{
		EnvelopeFrom: "sender@example.com",
		EnvelopeTo:   "recipient@example.com",
		Header: map[string][]string{
			"Subject": {subject},
			"From":    {"sender@example.com"},
			"To":      {"recipient@example.com"},
		},
		Body: "Test message body",
	}
}

func TestRedirectWithExplicitKeep(t *testing.T) {
	script := `
if header :contains "Subject" "Security code" {
	keep;
	stop;
}

redirect "another@email.com";
keep;
stop;
`
	executor, err := NewSieveExecutor(script, nil)
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}

	tests := []struct {
		name             string
		subject          string
		expectedAction   Action
		expectedCopy     bool
		expectedRedirect string
		expectedDest     string
	}{
		{
			name:           "Security code match - should keep only",
			subject:        "Your Security code is 12345",
			expectedAction: ActionKeep,
			expectedDest:   "INBOX",
		},
		{
			name:             "No match - should redirect with keep",
			subject:          "Regular email",
			expectedAction:   ActionRedirect,
			expectedCopy:     true,
			expectedRedirect: "another@email.com",
			expectedDest:     "INBOX",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := executor.Evaluate(context.Background(), plainContext(tt.subject))
			if err != nil {
				t.Fatalf("Failed to evaluate script: %v", err)
			}
			if result.Action != tt.expectedAction {
				t.Errorf("Expected action %s, got %s", tt.expectedAction, result.Action)
			}
			if result.Copy != tt.expectedCopy {
				t.Errorf("Expected Copy=%v, got %v", tt.expectedCopy, result.Copy)
			}
			if result.RedirectTo != tt.expectedRedirect {
				t.Errorf("Expected RedirectTo=%s, got %s", tt.expectedRedirect, result.RedirectTo)
			}
			if result.Destination() != tt.expectedDest {
				t.Errorf("Expected destination %s, got %s", tt.expectedDest, result.Destination())
			}
		})
	}
}

func TestRedirectWithoutExplicitKeep(t *testing.T) {
	executor, err := NewSieveExecutor(`redirect "another@email.com";`, nil)
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}

	result, err := executor.Evaluate(context.Background(), plainContext("Test"))
	if err != nil {
		t.Fatalf("Failed to evaluate script: %v", err)
	}
	if result.Action != ActionRedirect {
		t.Errorf("Expected action %s, got %s", ActionRedirect, result.Action)
	}
	if result.Copy {
		t.Errorf("Expected Copy=false (no explicit keep), got true")
	}
	if result.Destination() != DestinationRedirected {
		t.Errorf("Expected destination %s, got %s", DestinationRedirected, result.Destination())
	}
}

func TestFileIntoFlagsAndDiscard(t *testing.T) {
	script := `require ["fileinto", "imap4flags"];
if header :contains "subject" "invoice" {
  fileinto "Bills";
  setflag "\\Seen";
  stop;
}
if header :is "x-spam" "yes" {
  discard;
  stop;
}
`
	executor, err := NewSieveExecutor(script, nil)
	require.NoError(t, err)

	res, err := executor.Evaluate(context.Background(), plainContext("Your INVOICE #4"))
	require.NoError(t, err)
	assert.Equal(t, ActionFileInto, res.Action)
	assert.Equal(t, "Bills", res.Mailbox)
	assert.Equal(t, []string{"Bills"}, res.Mailboxes)
	assert.False(t, res.Copy)
	assert.Equal(t, []string{`\Seen`}, res.Flags)
	assert.Equal(t, "Bills", res.Destination())

	spam := plainContext("Hello")
	spam.Header["x-spam"] = []string{"yes"}
	res, err = executor.Evaluate(context.Background(), spam)
	require.NoError(t, err)
	assert.Equal(t, ActionDiscard, res.Action)
	assert.Equal(t, DestinationDiscarded, res.Destination())

	res, err = executor.Evaluate(context.Background(), plainContext("Hello"))
	require.NoError(t, err)
	assert.Equal(t, ActionKeep, res.Action)
	assert.Empty(t, res.Flags)
}

func TestVacationIsRefusedInDryRun(t *testing.T) {
	script := `require ["vacation"];
vacation :days 7 :subject "Away" "I am away.";
`
	executor, err := NewSieveExecutor(script, nil)
	require.NoError(t, err)

	res, err := executor.Evaluate(context.Background(), plainContext("Hi"))
	require.NoError(t, err)
	assert.Equal(t, ActionKeep, res.Action)
}

func TestCheckScript(t *testing.T) {
	assert.NoError(t, CheckScript(`require ["fileinto"]; fileinto "X";`, nil))

	cases := map[string]struct {
		script string
		exts   []string
	}{
		"syntax":             {script: `if header :contains "subject" {`},
		"undeclared":         {script: `fileinto "X";`},
		"body not supported": {script: `require ["body"]; if body :text :contains "x" { stop; }`},
		"disabled extension": {script: `require ["regex"]; stop;`, exts: []string{"fileinto"}},
		"unknown extension":  {script: `stop;`, exts: []string{"editheader"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := CheckScript(tc.script, tc.exts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, consts.ErrScriptRejected))
		})
	}
}

func TestValidateExtensions(t *testing.T) {
	assert.NoError(t, ValidateExtensions(nil))
	assert.NoError(t, ValidateExtensions(DefaultExtensions))
	err := ValidateExtensions([]string{"fileinto", "body", "reject"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "body, reject")
}

func TestContextFromEmail(t *testing.T) {
	e, err := email.New(email.Params{
		Sender:     "Alerts@GitHub.com",
		Recipients: []string{"me@home.io", "you@home.io"},
		Subject:    "Build failed",
		Body:       "12345",
		Headers: map[string]string{
			"list-id": "<ci.github.com>",
			"from":    "GitHub <alerts@github.com>",
			"to":      "stale@home.io",
		},
	})
	require.NoError(t, err)

	ctx := ContextFromEmail(e)
	assert.Equal(t, "Alerts@GitHub.com", ctx.EnvelopeFrom)
	assert.Equal(t, "me@home.io", ctx.EnvelopeTo)
	assert.Equal(t, []string{"Alerts@GitHub.com"}, ctx.Header["From"])
	assert.NotContains(t, ctx.Header, "To")
	assert.Equal(t, []string{"Build failed"}, ctx.Header["Subject"])
	assert.Equal(t, []string{"<ci.github.com>"}, ctx.Header["List-Id"])

	msg := NewSieveMessage(ctx.Header, ctx.Body)
	got, err := msg.HeaderGet("list-id")
	require.NoError(t, err)
	assert.Equal(t, []string{"<ci.github.com>"}, got)
	assert.Equal(t, 5, msg.MessageSize())
}
