package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/logger"
)

const fileBackend = "file"

// FileRepository stores each script as <dir>/<name>.sieve.
type FileRepository struct {
	dir string
}

// NewFileRepository creates dir if needed.
func NewFileRepository(dir string) (*FileRepository, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: storage path cannot be empty", consts.ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &FileRepository{dir: dir}, nil
}

func (r *FileRepository) path(name string) string {
	return filepath.Join(r.dir, name+ScriptExt)
}

// Save writes through a temporary file and a rename, so readers never see
// a partial script.
func (r *FileRepository) Save(ctx context.Context, name, script string) (md Metadata, err error) {
	defer track(fileBackend, "save")(&err)
	if err = ValidateName(name); err != nil {
		return Metadata{}, err
	}

	tmp, err := os.CreateTemp(r.dir, ".tmp-*")
	if err != nil {
		return Metadata{}, fmt.Errorf("creating temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.WriteString(script); err != nil {
		tmp.Close()
		return Metadata{}, fmt.Errorf("writing script: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return Metadata{}, fmt.Errorf("writing script: %w", err)
	}
	if err = os.Rename(tmp.Name(), r.path(name)); err != nil {
		return Metadata{}, fmt.Errorf("storing script: %w", err)
	}

	info, err := os.Stat(r.path(name))
	if err != nil {
		return Metadata{}, err
	}
	md = Metadata{Name: name, Digest: Digest(script), Size: info.Size(), ModifiedAt: info.ModTime()}
	logger.Info("Stored script", "backend", fileBackend, "name", name, "digest", md.Digest)
	return md, nil
}

func (r *FileRepository) Load(ctx context.Context, name string) (s *StoredScript, err error) {
	defer track(fileBackend, "load")(&err)
	if err = ValidateName(name); err != nil {
		return nil, err
	}

	p := r.path(name)
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", consts.ErrScriptNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	script := string(data)
	return &StoredScript{
		Metadata: Metadata{Name: name, Digest: Digest(script), Size: info.Size(), ModifiedAt: info.ModTime()},
		Script:   script,
	}, nil
}

func (r *FileRepository) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(r.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (r *FileRepository) List(ctx context.Context) (out []Metadata, err error) {
	defer track(fileBackend, "list")(&err)

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ScriptExt)
		if !ok || e.IsDir() || ValidateName(name) != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, Metadata{Name: name, Digest: Digest(string(data)), Size: info.Size(), ModifiedAt: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *FileRepository) Delete(ctx context.Context, name string) (err error) {
	defer track(fileBackend, "delete")(&err)
	if err = ValidateName(name); err != nil {
		return err
	}
	err = os.Remove(r.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", consts.ErrScriptNotFound, name)
	}
	return err
}

func (r *FileRepository) Count(ctx context.Context) (int, error) {
	list, err := r.List(ctx)
	return len(list), err
}
