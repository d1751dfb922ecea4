package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/email"
	"github.com/migadu/sieveforge/logger"
	"github.com/migadu/sieveforge/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// MessageExt is the extension of single-message files outside a Maildir.
const MessageExt = ".eml"

// Options control Load. The zero value loads everything.
type Options struct {
	// Folder overrides the folder derived from the file layout.
	Folder string
	// MaxEmails stops discovery after this many messages; 0 means no limit.
	MaxEmails int
	// Concurrency bounds parallel parsing; 0 means runtime.NumCPU().
	Concurrency int
	// Strict fails the load on the first unparsable message instead of
	// skipping it.
	Strict bool
}

// Source is one message file and the folder it belongs to.
type Source struct {
	Path   string
	Folder string
}

// Load parses every message under paths. Each path may be a message file,
// a directory of .eml files or a Maildir. Emails come back in the order
// Discover lists them, whatever order they were parsed in.
func Load(ctx context.Context, paths []string, opts Options) ([]*email.Email, error) {
	sources, err := Discover(paths, opts)
	if err != nil {
		return nil, err
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	parsed := make([]*email.Email, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e, err := LoadFile(src.Path, src.Folder)
			if err != nil {
				if opts.Strict {
					return err
				}
				logger.Warn("Skipping unparsable message", "path", src.Path, "error", err)
				return nil
			}
			parsed[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	emails := make([]*email.Email, 0, len(parsed))
	for _, e := range parsed {
		if e != nil {
			emails = append(emails, e)
		}
	}
	metrics.EmailsFetched.WithLabelValues("corpus").Add(float64(len(emails)))
	logger.Info("Loaded corpus", "messages", len(emails), "skipped", len(sources)-len(emails))
	return emails, nil
}

// LoadFile parses a single message file.
func LoadFile(path, folder string) (*email.Email, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	e, err := ParseMessage(f, folder)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return e, nil
}

// Discover lists message files under paths, sorted by path within each
// argument. Folders follow Maildir++ naming: the Maildir root is INBOX and a
// ".Work.Clients" subfolder is "Work/Clients". A plain directory maps to its
// path relative to the argument, with files at the top level in INBOX.
func Discover(paths []string, opts Options) ([]Source, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no corpus paths given", consts.ErrInvalidInput)
	}

	var out []Source
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, Source{Path: root, Folder: folderOr(opts.Folder, consts.DefaultFolder)})
			continue
		}

		var found []Source
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == "tmp" && isMaildir(filepath.Dir(path)) {
					return filepath.SkipDir
				}
				return nil
			}
			folder, ok := folderFor(root, path)
			if !ok {
				return nil
			}
			found = append(found, Source{Path: path, Folder: folderOr(opts.Folder, folder)})
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
		out = append(out, found...)
	}

	if opts.MaxEmails > 0 && len(out) > opts.MaxEmails {
		out = out[:opts.MaxEmails]
	}
	return out, nil
}

// folderFor decides whether path is a message and which folder holds it.
func folderFor(root, path string) (string, bool) {
	dir := filepath.Dir(path)
	base := filepath.Base(dir)

	if (base == "cur" || base == "new") && isMaildir(filepath.Dir(dir)) {
		if strings.HasPrefix(filepath.Base(path), ".") {
			return "", false
		}
		return maildirFolder(root, filepath.Dir(dir)), true
	}
	if !strings.EqualFold(filepath.Ext(path), MessageExt) {
		return "", false
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		return consts.DefaultFolder, true
	}
	return filepath.ToSlash(rel), true
}

func maildirFolder(root, dir string) string {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		return consts.DefaultFolder
	}
	name := filepath.Base(rel)
	if strings.HasPrefix(name, ".") {
		return strings.ReplaceAll(strings.TrimPrefix(name, "."), ".", string(consts.MailboxDelimiter))
	}
	return filepath.ToSlash(rel)
}

func isMaildir(dir string) bool {
	for _, sub := range []string{"cur", "new"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}

func folderOr(override, folder string) string {
	if override != "" {
		return override
	}
	return folder
}
