package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/migadu/sieveforge/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyslog struct {
	lines []string
}

func (f *fakeSyslog) Debug(m string) error   { f.lines = append(f.lines, "debug: "+m); return nil }
func (f *fakeSyslog) Info(m string) error    { f.lines = append(f.lines, "info: "+m); return nil }
func (f *fakeSyslog) Warning(m string) error { f.lines = append(f.lines, "warning: "+m); return nil }
func (f *fakeSyslog) Err(m string) error     { f.lines = append(f.lines, "err: "+m); return nil }

func restoreLogger(t *testing.T) {
	prev := Get()
	t.Cleanup(func() { SetLogger(prev) })
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestInitializeFileJSON(t *testing.T) {
	restoreLogger(t)
	path := filepath.Join(t.TempDir(), "sieveforge.log")

	f, err := Initialize(config.LoggingConfig{Output: path, Format: "json", Level: "debug"})
	require.NoError(t, err)
	require.NotNil(t, f)

	Debug("Generated filter", "rules", 3)
	Infof("skipped %d categories", 2)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Equal(t, "Generated filter", rec["msg"])
	assert.EqualValues(t, 3, rec["rules"])

	require.NoError(t, json.Unmarshal(lines[1], &rec))
	assert.Equal(t, "skipped 2 categories", rec["msg"])
}

func TestInitializeLevelFilters(t *testing.T) {
	restoreLogger(t)
	path := filepath.Join(t.TempDir(), "warn.log")

	f, err := Initialize(config.LoggingConfig{Output: path, Level: "warn"})
	require.NoError(t, err)
	Info("hidden")
	With("component", "imap").Warn("shown")
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "msg=shown component=imap")
}

func TestInitializeConsoleReturnsNoFile(t *testing.T) {
	restoreLogger(t)
	f, err := Initialize(config.LoggingConfig{Output: "stderr"})
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestSyslogHandler(t *testing.T) {
	w := &fakeSyslog{}
	l := slog.New(newSyslogHandler(w, slog.LevelInfo))

	l.Debug("dropped")
	l.Info("fetched", "folder", "INBOX")
	l.With("host", "imap.example.org").WithGroup("tls").Warn("handshake", "version", "1.3")
	l.ErrorContext(context.Background(), "failed", "count", 2)

	assert.Equal(t, []string{
		"info: fetched folder=INBOX",
		"warning: handshake host=imap.example.org tls.version=1.3",
		"err: failed count=2",
	}, w.lines)
}
