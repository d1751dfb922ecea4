package imapfetch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/migadu/sieveforge/config"
	"github.com/migadu/sieveforge/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	folders map[string][]string // folder -> senders, oldest first
	since   []time.Time
	limits  []int
	closed  bool
}

func (s *fakeSession) ListFolders(ctx context.Context) ([]string, error) {
	var out []string
	for f := range s.folders {
		out = append(out, f)
	}
	return out, nil
}

func (s *fakeSession) Count(ctx context.Context, folder string) (int, error) {
	return len(s.folders[folder]), nil
}

func (s *fakeSession) FetchRaw(ctx context.Context, folder string, since time.Time, limit int) ([][]byte, error) {
	s.since = append(s.since, since)
	s.limits = append(s.limits, limit)
	senders := s.folders[folder]
	var raw [][]byte
	for i := len(senders) - 1; i >= 0; i-- {
		if limit > 0 && len(raw) == limit {
			break
		}
		raw = append(raw, []byte(fmt.Sprintf("From: %s\r\nSubject: %s %d\r\n\r\nbody\r\n", senders[i], folder, i)))
	}
	return raw, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

var quick = retry.BackoffConfig{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1, MaxRetries: 2}

func dialer(s *fakeSession) Dialer {
	return func(ctx context.Context) (Session, error) { return s, nil }
}

func TestListFoldersInboxFirst(t *testing.T) {
	s := &fakeSession{folders: map[string][]string{"Work": nil, "INBOX": nil, "Archive": nil}}
	f := NewWithDialer(config.IMAPConfig{}, dialer(s), quick)

	folders, err := f.ListFolders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX", "Archive", "Work"}, folders)
	assert.True(t, s.closed)
}

func TestFolderCounts(t *testing.T) {
	s := &fakeSession{folders: map[string][]string{"INBOX": {"a@x.io", "b@x.io"}, "Work": {"c@y.io"}}}
	f := NewWithDialer(config.IMAPConfig{}, dialer(s), quick)

	counts, err := f.FolderCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"INBOX": 2, "Work": 1}, counts)
}

func TestFetchHonoursLimitsAndExclusions(t *testing.T) {
	s := &fakeSession{folders: map[string][]string{
		"INBOX": {"a@x.io", "b@x.io", "not-an-address"},
		"Trash": {"t@x.io"},
		"Work":  {"c@y.io", "d@y.io", "e@y.io"},
	}}
	cfg := config.IMAPConfig{MaxEmails: 4, Since: "7d", ExcludeFolders: []string{"trash"}}
	f := NewWithDialer(cfg, dialer(s), quick)
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	emails, err := f.Fetch(context.Background())
	require.NoError(t, err)

	// INBOX yields two valid messages out of three, Work fills the remaining budget.
	require.Len(t, emails, 4)
	assert.Equal(t, "b@x.io", emails[0].Sender.String())
	assert.Equal(t, "a@x.io", emails[1].Sender.String())
	assert.Equal(t, "INBOX", emails[0].Folder)
	assert.Equal(t, "e@y.io", emails[2].Sender.String())
	assert.Equal(t, "Work", emails[2].Folder)
	assert.Equal(t, "d@y.io", emails[3].Sender.String())

	assert.Equal(t, []int{4, 2}, s.limits)
	assert.Equal(t, now.Add(-7*24*time.Hour), s.since[0])
}

func TestFetchRetriesDialButNotLogin(t *testing.T) {
	s := &fakeSession{folders: map[string][]string{"INBOX": {"a@x.io"}}}
	attempts := 0
	flaky := func(ctx context.Context) (Session, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("connection refused")
		}
		return s, nil
	}
	emails, err := NewWithDialer(config.IMAPConfig{}, flaky, quick).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, emails, 1)
	assert.Equal(t, 2, attempts)

	attempts = 0
	rejected := func(ctx context.Context) (Session, error) {
		attempts++
		return nil, &LoginError{Err: errors.New("NO bad credentials")}
	}
	_, err = NewWithDialer(config.IMAPConfig{}, rejected, quick).Fetch(context.Background())
	var loginErr *LoginError
	assert.ErrorAs(t, err, &loginErr)
	assert.Equal(t, 1, attempts)
}

func TestNewNeedsAddress(t *testing.T) {
	_, err := New(config.IMAPConfig{}, quick)
	assert.Error(t, err)
}
