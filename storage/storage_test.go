package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/migadu/sieveforge/config"
	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const sampleScript = "require [\"fileinto\"];\n\nif header :contains \"subject\" \"invoice\" {\n  fileinto \"Finance\";\n}\n"

var noRetry = retry.BackoffConfig{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"sieveforge", "my filter", "Work-2024"} {
		assert.NoError(t, ValidateName(name), name)
	}
	for _, name := range []string{"", "  ", "a/b", `a\b`, "..", ".hidden", "bad\x00name", strings.Repeat("x", 129)} {
		err := ValidateName(name)
		assert.ErrorIs(t, err, consts.ErrInvalidInput, "%q", name)
	}
}

func TestValidateNameRejectsSeparatorsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[a-z]{0,5}[/\\][a-z]{0,5}`).Draw(t, "name")
		if ValidateName(name) == nil {
			t.Fatalf("%q accepted", name)
		}
	})
}

func TestDigest(t *testing.T) {
	d := Digest(sampleScript)
	assert.Len(t, d, 64)
	assert.Equal(t, d, Digest(sampleScript))
	assert.NotEqual(t, d, Digest(sampleScript+" "))
}

func TestFileRepository(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "filters")
	repo, err := NewFileRepository(dir)
	require.NoError(t, err)

	ok, err := repo.Exists(ctx, "main")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.Load(ctx, "main")
	assert.ErrorIs(t, err, consts.ErrScriptNotFound)

	md, err := repo.Save(ctx, "main", sampleScript)
	require.NoError(t, err)
	assert.Equal(t, "main", md.Name)
	assert.Equal(t, Digest(sampleScript), md.Digest)
	assert.Equal(t, int64(len(sampleScript)), md.Size)
	assert.FileExists(t, filepath.Join(dir, "main.sieve"))

	_, err = repo.Save(ctx, "archive", "keep;\n")
	require.NoError(t, err)
	// Stray files are not scripts.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	got, err := repo.Load(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, sampleScript, got.Script)
	assert.Equal(t, md.Digest, got.Digest)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "archive", list[0].Name)
	assert.Equal(t, "main", list[1].Name)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, repo.Delete(ctx, "main"))
	assert.ErrorIs(t, repo.Delete(ctx, "main"), consts.ErrScriptNotFound)

	_, err = repo.Save(ctx, "../escape", sampleScript)
	assert.ErrorIs(t, err, consts.ErrInvalidInput)
}

func TestFileRepositoryOverwrite(t *testing.T) {
	ctx := context.Background()
	repo, err := NewFileRepository(t.TempDir())
	require.NoError(t, err)

	_, err = repo.Save(ctx, "main", "keep;\n")
	require.NoError(t, err)
	_, err = repo.Save(ctx, "main", sampleScript)
	require.NoError(t, err)

	got, err := repo.Load(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, sampleScript, got.Script)

	entries, err := os.ReadDir(repo.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

type fakeStore struct {
	mu      sync.Mutex
	now     time.Time
	objects map[string]fakeObject
	failPut int
}

type fakeObject struct {
	data     []byte
	modified time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), objects: map[string]fakeObject{}}
}

func (f *fakeStore) put(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut > 0 {
		f.failPut--
		return errors.New("connection reset")
	}
	f.now = f.now.Add(time.Minute)
	f.objects[key] = fakeObject{data: append([]byte(nil), data...), modified: f.now}
	return nil
}

func (f *fakeStore) get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[key]
	if !ok {
		return nil, errObjectNotFound
	}
	return o.data, nil
}

func (f *fakeStore) list(ctx context.Context, prefix string) ([]objectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []objectInfo
	for k, o := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, objectInfo{Key: k, Size: int64(len(o.data)), LastModified: o.modified})
		}
	}
	return out, nil
}

func (f *fakeStore) remove(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; !ok {
		return errObjectNotFound
	}
	delete(f.objects, key)
	return nil
}

func TestS3RepositoryRevisions(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	repo := newS3Repository(store, "/users/alice/", noRetry)

	first, err := repo.Save(ctx, "main", "keep;\n")
	require.NoError(t, err)
	second, err := repo.Save(ctx, "main", sampleScript)
	require.NoError(t, err)
	_, err = repo.Save(ctx, "other", "discard;\n")
	require.NoError(t, err)

	assert.Contains(t, store.objects, "users/alice/main/"+first.Digest+".sieve")
	assert.Contains(t, store.objects, "users/alice/main/"+second.Digest+".sieve")

	revs, err := repo.Revisions(ctx, "main")
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, second.Digest, revs[0].Digest)

	got, err := repo.Load(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, sampleScript, got.Script)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "main", list[0].Name)
	assert.Equal(t, second.Digest, list[0].Digest)
	assert.Equal(t, "other", list[1].Name)

	require.NoError(t, repo.Delete(ctx, "main"))
	ok, err := repo.Exists(ctx, "main")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, store.objects, 1)

	_, err = repo.Load(ctx, "main")
	assert.ErrorIs(t, err, consts.ErrScriptNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "main"), consts.ErrScriptNotFound)
}

func TestS3RepositoryRetriesPut(t *testing.T) {
	store := newFakeStore()
	store.failPut = 2
	backoff := noRetry
	backoff.MaxRetries = 2
	repo := newS3Repository(store, "", backoff)

	_, err := repo.Save(context.Background(), "main", sampleScript)
	require.NoError(t, err)
	assert.Contains(t, store.objects, "main/"+Digest(sampleScript)+".sieve")

	store.failPut = 5
	_, err = repo.Save(context.Background(), "main", "keep;\n")
	assert.Error(t, err)
}

func TestS3RepositoryIgnoresForeignKeys(t *testing.T) {
	store := newFakeStore()
	store.objects["stray.txt"] = fakeObject{data: []byte("x")}
	store.objects["main/nested/deep.sieve"] = fakeObject{data: []byte("x")}
	repo := newS3Repository(store, "", noRetry)

	list, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNew(t *testing.T) {
	repo, err := New(config.StorageConfig{Backend: "file", Path: t.TempDir()}, noRetry)
	require.NoError(t, err)
	assert.IsType(t, &FileRepository{}, repo)

	_, err = New(config.StorageConfig{Backend: "s3"}, noRetry)
	assert.Error(t, err)

	_, err = New(config.StorageConfig{Backend: "tape"}, noRetry)
	assert.Error(t, err)
}
