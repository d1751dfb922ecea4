// Package corpus turns RFC 5322 messages on disk (single .eml files, plain
// directories of them, or Maildir trees) into email.Email values.
package corpus

import (
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"
	"github.com/migadu/sieveforge/email"
	"github.com/migadu/sieveforge/helpers"
	"github.com/migadu/sieveforge/logger"
)

// maxHeaderValue bounds the length of a single header kept on the email.
const maxHeaderValue = 4096

// ParseMessage reads one message. The first text/plain part becomes the
// body; without one, the first text/html part is converted to text.
// Recipients that are not plain addresses are dropped. A missing or
// malformed From fails with consts.ErrInvalidAddress.
func ParseMessage(r io.Reader, folder string) (*email.Email, error) {
	mr, err := mail.CreateReader(r)
	if message.IsUnknownCharset(err) {
		logger.Debug("Unknown charset", "error", err)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	p := email.Params{
		Folder:  folder,
		Headers: make(map[string]string),
	}

	fields := h.Fields()
	for fields.Next() {
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		if _, seen := p.Headers[key]; seen {
			continue
		}
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		if len(value) > maxHeaderValue {
			value = value[:maxHeaderValue]
		}
		p.Headers[key] = value
	}

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		p.Sender = from[0].Address
	} else {
		p.Sender = strings.TrimSpace(h.Get("From"))
	}
	p.Recipients = recipients(h)
	if subject, err := h.Subject(); err == nil {
		p.Subject = helpers.CollapseWhitespace(helpers.SanitizeUTF8(subject))
	}
	p.MessageID, _ = h.MessageID()
	if date, err := h.Date(); err == nil {
		p.ReceivedAt = date
	}

	var plain, html string
	var havePlain, haveHTML bool
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			logger.Debug("Stopped reading message parts", "error", err)
			break
		}
		if part == nil {
			continue
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := ph.ContentType()
			if ct != "text/plain" && ct != "text/html" {
				continue
			}
			if (ct == "text/plain" && havePlain) || (ct == "text/html" && haveHTML) {
				continue
			}
			data, err := io.ReadAll(part.Body)
			if err != nil {
				logger.Debug("Failed to read body part", "content_type", ct, "error", err)
				continue
			}
			if ct == "text/plain" {
				plain, havePlain = string(data), true
			} else {
				html, haveHTML = string(data), true
			}
		case *mail.AttachmentHeader:
			p.HasAttachments = true
		}
	}

	switch {
	case havePlain:
		p.Body = plain
	case haveHTML:
		p.Body = html2text.HTML2Text(html)
	}
	p.Body = strings.TrimSpace(helpers.SanitizeUTF8(p.Body))

	return email.New(p)
}

// recipients collects To and Cc, keeping only addresses email accepts.
func recipients(h mail.Header) []string {
	var out []string
	for _, field := range []string{"To", "Cc"} {
		list, err := h.AddressList(field)
		if err != nil {
			continue
		}
		for _, a := range list {
			if _, err := email.NewAddress(a.Address); err == nil {
				out = append(out, a.Address)
			}
		}
	}
	return out
}
