// Package email holds the message model the rule engine operates on: validated
// addresses, messages materialised from a mailbox or a corpus on disk, and the
// recurring patterns mined from them.
package email

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/migadu/sieveforge/consts"
)

// Email is a single message. Everything except Folder is fixed at creation;
// Folder is only changed by the fetch layer.
type Email struct {
	ID             string
	Sender         Address
	Recipients     []Address
	Subject        string
	Body           string
	Headers        map[string]string
	ReceivedAt     time.Time
	Folder         string
	MessageID      string
	HasAttachments bool
}

// Params carries the raw, unvalidated fields for New.
type Params struct {
	Sender         string
	Recipients     []string
	Subject        string
	Body           string
	Headers        map[string]string
	ReceivedAt     time.Time
	Folder         string
	MessageID      string
	HasAttachments bool
}

// New validates the sender and every recipient and assigns a fresh id.
// Folder defaults to INBOX and ReceivedAt to now.
func New(p Params) (*Email, error) {
	sender, err := NewAddress(p.Sender)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}

	recipients := make([]Address, 0, len(p.Recipients))
	for _, r := range p.Recipients {
		addr, err := NewAddress(r)
		if err != nil {
			return nil, fmt.Errorf("recipient: %w", err)
		}
		recipients = append(recipients, addr)
	}

	headers := make(map[string]string, len(p.Headers))
	for k, v := range p.Headers {
		headers[k] = v
	}

	folder := p.Folder
	if folder == "" {
		folder = consts.DefaultFolder
	}
	receivedAt := p.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	return &Email{
		ID:             uuid.NewString(),
		Sender:         sender,
		Recipients:     recipients,
		Subject:        p.Subject,
		Body:           p.Body,
		Headers:        headers,
		ReceivedAt:     receivedAt,
		Folder:         folder,
		MessageID:      p.MessageID,
		HasAttachments: p.HasAttachments,
	}, nil
}

// MatchesPattern reports whether the message carries the given pattern.
// Domain patterns compare the sender domain exactly (ignoring case); subject
// and sender patterns are case-insensitive substring tests.
func (e *Email) MatchesPattern(p Pattern) bool {
	switch p.Kind {
	case PatternDomain:
		return e.Sender.MatchesDomain(p.Value)
	case PatternSubject:
		return containsFold(e.Subject, p.Value)
	case PatternSender:
		return containsFold(e.Sender.String(), p.Value)
	}
	return false
}

func (e *Email) IsFromDomain(domain string) bool {
	return e.Sender.MatchesDomain(domain)
}

func (e *Email) SubjectContains(keyword string) bool {
	return containsFold(e.Subject, keyword)
}

func (e *Email) BodyContains(keyword string) bool {
	return containsFold(e.Body, keyword)
}

// Size is the body length in bytes. It stands in for the message size in
// size tests.
func (e *Email) Size() int {
	return len(e.Body)
}

// Header looks up a header value ignoring the case of the name.
func (e *Email) Header(name string) (string, bool) {
	if v, ok := e.Headers[name]; ok {
		return v, true
	}
	for k, v := range e.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func (e *Email) String() string {
	subject := e.Subject
	if r := []rune(subject); len(r) > 50 {
		subject = string(r[:50]) + "..."
	}
	return fmt.Sprintf("Email(from=%s, subject=%q)", e.Sender, subject)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
