package sieveengine

import (
	"context"
	"fmt"
	"net/textproto"
	"strings"
	"time"

	"github.com/foxcpp/go-sieve"
	"github.com/foxcpp/go-sieve/interp"
	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/email"
)

type Action string

const (
	ActionKeep     Action = "keep"
	ActionDiscard  Action = "discard"
	ActionFileInto Action = "fileinto"
	ActionRedirect Action = "redirect"
)

type Result struct {
	Action     Action
	Mailbox    string   // used for fileinto
	Mailboxes  []string // every fileinto target, in order
	RedirectTo string   // used for redirect
	Flags      []string // flags set on the kept or filed copy
	Copy       bool     // a copy stays in INBOX besides fileinto or redirect
}

// Destination names where the message ends up: the first fileinto mailbox,
// INBOX when it is kept, or DestinationDiscarded / DestinationRedirected.
func (r Result) Destination() string {
	switch r.Action {
	case ActionFileInto:
		return r.Mailbox
	case ActionRedirect:
		if r.Copy {
			return consts.DefaultFolder
		}
		return DestinationRedirected
	case ActionDiscard:
		return DestinationDiscarded
	case ActionKeep:
	}
	return consts.DefaultFolder
}

const (
	DestinationDiscarded  = "(discarded)"
	DestinationRedirected = "(redirected)"
)

type Context struct {
	EnvelopeFrom string
	EnvelopeTo   string
	Header       map[string][]string
	Body         string
}

// ContextFromEmail builds the evaluation context for e. Headers from
// e.Headers are kept, then From and Subject are set from the parsed sender
// and subject so both evaluators see the same values. The To header is left
// out since the matcher never matches recipients; the first recipient is
// still used as envelope recipient.
func ContextFromEmail(e *email.Email) Context {
	header := make(map[string][]string, len(e.Headers)+2)
	for k, v := range e.Headers {
		header[textproto.CanonicalMIMEHeaderKey(k)] = []string{v}
	}
	header["From"] = []string{e.Sender.String()}
	header["Subject"] = []string{e.Subject}
	delete(header, "To")

	ctx := Context{
		EnvelopeFrom: e.Sender.String(),
		Header:       header,
		Body:         e.Body,
	}
	if len(e.Recipients) > 0 {
		ctx.EnvelopeTo = e.Recipients[0].String()
	}
	return ctx
}

type Executor interface {
	Evaluate(evalCtx context.Context, ctx Context) (Result, error)
}

// SieveExecutor implements the Executor interface using the go-sieve library
type SieveExecutor struct {
	script *sieve.Script
}

// CheckScript loads the script with the given extensions enabled and
// discards it. A nil list enables DefaultExtensions. Failures wrap
// consts.ErrScriptRejected.
func CheckScript(scriptContent string, enabledExtensions []string) error {
	_, err := load(scriptContent, enabledExtensions)
	return err
}

// NewSieveExecutor loads the script once. The executor is safe for
// concurrent use; every evaluation gets its own runtime state.
func NewSieveExecutor(scriptContent string, enabledExtensions []string) (*SieveExecutor, error) {
	script, err := load(scriptContent, enabledExtensions)
	if err != nil {
		return nil, err
	}
	return &SieveExecutor{script: script}, nil
}

func load(scriptContent string, enabledExtensions []string) (*sieve.Script, error) {
	exts := extensionsOrDefault(enabledExtensions)
	if err := ValidateExtensions(exts); err != nil {
		return nil, fmt.Errorf("%w: %v", consts.ErrScriptRejected, err)
	}
	options := sieve.DefaultOptions()
	options.EnabledExtensions = exts
	script, err := sieve.Load(strings.NewReader(scriptContent), options)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", consts.ErrScriptRejected, err)
	}
	return script, nil
}

// Evaluate evaluates the Sieve script with the given context
func (e *SieveExecutor) Evaluate(evalCtx context.Context, ctx Context) (Result, error) {
	envelope := &SieveEnvelope{
		From: ctx.EnvelopeFrom,
		To:   ctx.EnvelopeTo,
	}
	message := NewSieveMessage(ctx.Header, ctx.Body)

	data := sieve.NewRuntimeData(e.script, &SievePolicy{}, envelope, message)
	if err := e.script.Execute(evalCtx, data); err != nil {
		return Result{Action: ActionKeep}, err
	}

	result := Result{
		Action: ActionKeep,
		Flags:  make([]string, 0),
	}

	if len(data.Mailboxes) > 0 {
		result.Action = ActionFileInto
		result.Mailbox = data.Mailboxes[0]
		result.Mailboxes = append([]string(nil), data.Mailboxes...)
		// An explicit keep after fileinto still leaves a copy in INBOX.
		result.Copy = data.ImplicitKeep || data.Keep
	} else if len(data.RedirectAddr) > 0 {
		result.Action = ActionRedirect
		result.RedirectTo = data.RedirectAddr[0]
		result.Copy = data.ImplicitKeep || data.Keep
	} else if !data.Keep && !data.ImplicitKeep {
		result.Action = ActionDiscard
	}

	if len(data.Flags) > 0 {
		result.Flags = append(result.Flags, data.Flags...)
	}
	return result, nil
}

// SievePolicy implements the PolicyReader interface for dry runs.
type SievePolicy struct{}

func (p *SievePolicy) RedirectAllowed(ctx context.Context, d *interp.RuntimeData, addr string) (bool, error) {
	return true, nil
}

func (p *SievePolicy) VacationResponseAllowed(ctx context.Context, d *interp.RuntimeData,
	originalSender, handle string, duration time.Duration) (bool, error) {
	return false, nil
}

func (p *SievePolicy) SendVacationResponse(ctx context.Context, d *interp.RuntimeData,
	recipient, from, subject, body string, isMime bool) error {
	return nil
}

// SieveEnvelope implements the Envelope interface
type SieveEnvelope struct {
	From string
	To   string
	Auth string
}

func (e *SieveEnvelope) EnvelopeFrom() string {
	return e.From
}

func (e *SieveEnvelope) EnvelopeTo() string {
	return e.To
}

func (e *SieveEnvelope) AuthUsername() string {
	return e.Auth
}

// SieveMessage implements the Message interface. Header names are
// canonicalised, so scripts can test "subject" or "Subject" alike.
type SieveMessage struct {
	headers map[string][]string
	size    int
}

// NewSieveMessage reports the body length as the message size, the same
// measure the in-process matcher uses for size tests.
func NewSieveMessage(header map[string][]string, body string) *SieveMessage {
	h := make(map[string][]string, len(header))
	for k, v := range header {
		key := textproto.CanonicalMIMEHeaderKey(k)
		h[key] = append(h[key], v...)
	}
	return &SieveMessage{headers: h, size: len(body)}
}

func (m *SieveMessage) HeaderGet(key string) ([]string, error) {
	return m.headers[textproto.CanonicalMIMEHeaderKey(key)], nil
}

func (m *SieveMessage) MessageSize() int {
	return m.size
}
