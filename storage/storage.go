// Package storage keeps generated Sieve scripts, either as files in a
// directory or as objects in an S3-compatible bucket.
//
// Scripts are addressed by name. Every stored script carries the BLAKE3
// digest of its text, so callers can tell whether a regenerated filter
// actually changed before uploading it anywhere.
//
// # Layout
//
// The file backend writes <dir>/<name>.sieve. The S3 backend writes one
// object per revision at <prefix>/<name>/<digest>.sieve; Load returns the
// newest revision and Delete removes them all.
package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/migadu/sieveforge/config"
	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/pkg/metrics"
	"github.com/migadu/sieveforge/pkg/retry"
	"lukechampine.com/blake3"
)

// ScriptExt is the file extension of stored scripts.
const ScriptExt = ".sieve"

const maxNameLength = 128

// Metadata describes one stored script.
type Metadata struct {
	Name       string    `json:"name"`
	Digest     string    `json:"digest"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// StoredScript is a script with its metadata.
type StoredScript struct {
	Metadata
	Script string `json:"script"`
}

// Repository persists scripts by name. Load and Delete fail with
// consts.ErrScriptNotFound for unknown names; invalid names fail with
// consts.ErrInvalidInput.
type Repository interface {
	Save(ctx context.Context, name, script string) (Metadata, error)
	Load(ctx context.Context, name string) (*StoredScript, error)
	Exists(ctx context.Context, name string) (bool, error)
	// List returns the scripts sorted by name.
	List(ctx context.Context) ([]Metadata, error)
	Delete(ctx context.Context, name string) error
	Count(ctx context.Context) (int, error)
}

// New builds the repository selected by cfg.Backend.
func New(cfg config.StorageConfig, backoff retry.BackoffConfig) (Repository, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileRepository(cfg.Path)
	case "s3":
		if cfg.S3 == nil {
			return nil, fmt.Errorf("storage backend s3 needs a [storage.s3] section")
		}
		return NewS3Repository(*cfg.S3, backoff)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// Digest returns the hex BLAKE3-256 digest of a script.
func Digest(script string) string {
	sum := blake3.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}

// ValidateName rejects names that could escape the storage directory or
// prefix.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: script name cannot be empty", consts.ErrInvalidInput)
	case len(name) > maxNameLength:
		return fmt.Errorf("%w: script name longer than %d bytes", consts.ErrInvalidInput, maxNameLength)
	case strings.ContainsAny(name, `/\`), name == ".", name == "..", strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: invalid script name %q", consts.ErrInvalidInput, name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: script name contains control characters", consts.ErrInvalidInput)
		}
	}
	return nil
}

// track starts timing one repository operation. Call the returned func
// deferred with the address of the named error result.
func track(backend, op string) func(*error) {
	start := time.Now()
	return func(err *error) {
		metrics.StorageOperationsTotal.WithLabelValues(backend, op, metrics.Status(*err)).Inc()
		metrics.StorageOperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	}
}
