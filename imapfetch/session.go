package imapfetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/migadu/sieveforge/config"
)

// Session is one logged-in IMAP connection, read-only as far as the
// fetcher is concerned.
type Session interface {
	ListFolders(ctx context.Context) ([]string, error)
	Count(ctx context.Context, folder string) (int, error)
	// FetchRaw returns up to limit raw messages from folder, newest first.
	// A zero since disables the date filter; limit <= 0 means all.
	FetchRaw(ctx context.Context, folder string, since time.Time, limit int) ([][]byte, error)
	Close() error
}

// Dialer opens a Session.
type Dialer func(ctx context.Context) (Session, error)

type clientSession struct {
	conn    net.Conn
	client  *imapclient.Client
	timeout time.Duration
}

// DialIMAP connects and logs in with the account in cfg.
func DialIMAP(cfg config.IMAPConfig) Dialer {
	return func(ctx context.Context) (Session, error) {
		timeout, err := cfg.GetTimeout()
		if err != nil {
			return nil, fmt.Errorf("imap.timeout: %w", err)
		}

		d := &net.Dialer{Timeout: timeout}
		var conn net.Conn
		if cfg.TLS {
			host, _, _ := net.SplitHostPort(cfg.Addr)
			td := &tls.Dialer{NetDialer: d, Config: &tls.Config{
				ServerName:         host,
				InsecureSkipVerify: cfg.InsecureSkipVerify,
			}}
			conn, err = td.DialContext(ctx, "tcp", cfg.Addr)
		} else {
			conn, err = d.DialContext(ctx, "tcp", cfg.Addr)
		}
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", cfg.Addr, err)
		}

		s := &clientSession{conn: conn, client: imapclient.New(conn, nil), timeout: timeout}
		s.deadline(ctx)
		if err := s.client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
			s.client.Close()
			return nil, &LoginError{Err: err}
		}
		return s, nil
	}
}

// LoginError means the server rejected the credentials.
type LoginError struct {
	Err error
}

func (e *LoginError) Error() string { return "imap login failed: " + e.Err.Error() }
func (e *LoginError) Unwrap() error { return e.Err }

func (s *clientSession) deadline(ctx context.Context) {
	dl := time.Now().Add(s.timeout)
	if ctxDL, ok := ctx.Deadline(); ok && ctxDL.Before(dl) {
		dl = ctxDL
	}
	s.conn.SetDeadline(dl)
}

func (s *clientSession) ListFolders(ctx context.Context) ([]string, error) {
	s.deadline(ctx)
	list, err := s.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, err
	}
	folders := make([]string, 0, len(list))
	for _, mb := range list {
		if slices.Contains(mb.Attrs, imap.MailboxAttrNoSelect) || slices.Contains(mb.Attrs, imap.MailboxAttrNonExistent) {
			continue
		}
		folders = append(folders, mb.Mailbox)
	}
	return folders, nil
}

func (s *clientSession) Count(ctx context.Context, folder string) (int, error) {
	s.deadline(ctx)
	data, err := s.client.Status(folder, &imap.StatusOptions{NumMessages: true}).Wait()
	if err != nil {
		return 0, err
	}
	if data.NumMessages == nil {
		return 0, nil
	}
	return int(*data.NumMessages), nil
}

func (s *clientSession) FetchRaw(ctx context.Context, folder string, since time.Time, limit int) ([][]byte, error) {
	s.deadline(ctx)
	if _, err := s.client.Select(folder, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{}
	if !since.IsZero() {
		criteria.Since = since
	}
	found, err := s.client.Search(criteria, nil).Wait()
	if err != nil {
		return nil, err
	}
	nums := found.AllSeqNums()
	if len(nums) == 0 {
		return nil, nil
	}
	// Higher sequence numbers are newer.
	slices.Sort(nums)
	slices.Reverse(nums)
	if limit > 0 && len(nums) > limit {
		nums = nums[:limit]
	}

	section := &imap.FetchItemBodySection{Peek: true}
	s.deadline(ctx)
	msgs, err := s.client.Fetch(imap.SeqSetNum(nums...), &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, err
	}
	slices.SortFunc(msgs, func(a, b *imapclient.FetchMessageBuffer) int {
		return int(b.SeqNum) - int(a.SeqNum)
	})

	raw := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		if body := m.FindBodySection(section); body != nil {
			raw = append(raw, body)
		}
	}
	return raw, nil
}

func (s *clientSession) Close() error {
	s.deadline(context.Background())
	if err := s.client.Logout().Wait(); err != nil {
		s.client.Close()
		return err
	}
	return s.client.Close()
}
