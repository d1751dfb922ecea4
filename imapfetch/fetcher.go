// Package imapfetch reads mail from an IMAP account for pattern detection:
// folder listing, per-folder counts and bounded fetches across folders.
package imapfetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/migadu/sieveforge/config"
	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/corpus"
	"github.com/migadu/sieveforge/email"
	"github.com/migadu/sieveforge/logger"
	"github.com/migadu/sieveforge/pkg/metrics"
	"github.com/migadu/sieveforge/pkg/retry"
)

// Fetcher opens a new session for every call. It is safe for concurrent
// use.
type Fetcher struct {
	cfg     config.IMAPConfig
	dial    Dialer
	backoff retry.BackoffConfig
	now     func() time.Time
}

func New(cfg config.IMAPConfig, backoff retry.BackoffConfig) (*Fetcher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: imap.addr is not set", consts.ErrInvalidInput)
	}
	return NewWithDialer(cfg, DialIMAP(cfg), backoff), nil
}

// NewWithDialer uses dial instead of a network connection.
func NewWithDialer(cfg config.IMAPConfig, dial Dialer, backoff retry.BackoffConfig) *Fetcher {
	return &Fetcher{cfg: cfg, dial: dial, backoff: backoff, now: time.Now}
}

func (f *Fetcher) connect(ctx context.Context) (Session, error) {
	var s Session
	err := retry.WithRetry(ctx, "imap_connect", f.backoff, func() error {
		var err error
		s, err = f.dial(ctx)
		var loginErr *LoginError
		if errors.As(err, &loginErr) {
			return retry.Stop(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListFolders returns the selectable folders with INBOX first and the rest
// sorted by name.
func (f *Fetcher) ListFolders(ctx context.Context) ([]string, error) {
	s, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer f.close(s)
	return f.listFolders(ctx, s)
}

func (f *Fetcher) listFolders(ctx context.Context, s Session) ([]string, error) {
	folders, err := s.ListFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	sort.Slice(folders, func(i, j int) bool {
		a, b := folders[i], folders[j]
		if strings.EqualFold(a, consts.DefaultFolder) != strings.EqualFold(b, consts.DefaultFolder) {
			return strings.EqualFold(a, consts.DefaultFolder)
		}
		return a < b
	})
	return folders, nil
}

// FolderCounts returns the number of messages in every folder.
func (f *Fetcher) FolderCounts(ctx context.Context) (map[string]int, error) {
	s, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer f.close(s)

	folders, err := f.listFolders(ctx, s)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(folders))
	for _, folder := range folders {
		n, err := s.Count(ctx, folder)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", folder, err)
		}
		counts[folder] = n
	}
	return counts, nil
}

// Fetch reads the newest messages of every folder not excluded by
// configuration, up to imap.max_emails in total and no older than
// imap.since. Messages that do not parse are skipped.
func (f *Fetcher) Fetch(ctx context.Context) ([]*email.Email, error) {
	since, err := f.cfg.GetSince()
	if err != nil {
		return nil, fmt.Errorf("imap.since: %w", err)
	}
	var after time.Time
	if since > 0 {
		after = f.now().Add(-since)
	}

	s, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer f.close(s)

	folders, err := f.listFolders(ctx, s)
	if err != nil {
		return nil, err
	}

	var emails []*email.Email
	skipped := 0
	for _, folder := range folders {
		if f.excluded(folder) {
			logger.Debug("Skipping excluded folder", "folder", folder)
			continue
		}
		remaining := 0
		if f.cfg.MaxEmails > 0 {
			remaining = f.cfg.MaxEmails - len(emails)
			if remaining <= 0 {
				break
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := s.FetchRaw(ctx, folder, after, remaining)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", folder, err)
		}
		for _, msg := range raw {
			e, err := corpus.ParseMessage(bytes.NewReader(msg), folder)
			if err != nil {
				skipped++
				logger.Debug("Skipping unparsable message", "folder", folder, "error", err)
				continue
			}
			emails = append(emails, e)
		}
	}

	metrics.EmailsFetched.WithLabelValues("imap").Add(float64(len(emails)))
	logger.Info("Fetched mail over IMAP", "messages", len(emails), "skipped", skipped, "folders", len(folders))
	return emails, nil
}

func (f *Fetcher) excluded(folder string) bool {
	for _, x := range f.cfg.ExcludeFolders {
		if strings.EqualFold(x, folder) {
			return true
		}
	}
	return false
}

func (f *Fetcher) close(s Session) {
	if err := s.Close(); err != nil {
		logger.Debug("IMAP logout failed", "error", err)
	}
}
