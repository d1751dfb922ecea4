package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/migadu/sieveforge/config"
	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/helpers"
	"github.com/migadu/sieveforge/logger"
	"github.com/migadu/sieveforge/pkg/retry"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const s3Backend = "s3"

var errObjectNotFound = errors.New("object not found")

type objectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// objectStore is the subset of bucket operations the repository needs.
type objectStore interface {
	put(ctx context.Context, key string, data []byte) error
	get(ctx context.Context, key string) ([]byte, error)
	list(ctx context.Context, prefix string) ([]objectInfo, error)
	remove(ctx context.Context, key string) error
}

// S3Repository keeps every saved revision as its own object and serves the
// newest one.
type S3Repository struct {
	store   objectStore
	prefix  string
	backoff retry.BackoffConfig
}

func NewS3Repository(cfg config.S3Config, backoff retry.BackoffConfig) (*S3Repository, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: !cfg.DisableTLS,
	})
	if err != nil {
		logger.Error("Storage: failed to initialize MinIO client", "error", err)
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	if cfg.Debug {
		client.TraceOn(os.Stdout)
	}
	return newS3Repository(&minioStore{client: client, bucket: cfg.Bucket}, cfg.Prefix, backoff), nil
}

func newS3Repository(store objectStore, prefix string, backoff retry.BackoffConfig) *S3Repository {
	return &S3Repository{store: store, prefix: strings.Trim(prefix, "/"), backoff: backoff}
}

func (r *S3Repository) base() string {
	if r.prefix == "" {
		return ""
	}
	return r.prefix + "/"
}

func (r *S3Repository) do(ctx context.Context, op string, fn func() error) error {
	return retry.WithRetry(ctx, "s3_"+op, r.backoff, func() error {
		err := fn()
		if errors.Is(err, errObjectNotFound) || errors.Is(err, context.Canceled) {
			return retry.Stop(err)
		}
		return err
	})
}

func (r *S3Repository) Save(ctx context.Context, name, script string) (md Metadata, err error) {
	defer track(s3Backend, "save")(&err)
	if err = ValidateName(name); err != nil {
		return Metadata{}, err
	}

	digest := Digest(script)
	key := helpers.NewScriptKey(r.prefix, name, digest)
	err = r.do(ctx, "put", func() error {
		return r.store.put(ctx, key, []byte(script))
	})
	if err != nil {
		return Metadata{}, fmt.Errorf("storing %s: %w", key, err)
	}
	logger.Info("Stored script", "backend", s3Backend, "name", name, "key", key)
	return Metadata{Name: name, Digest: digest, Size: int64(len(script)), ModifiedAt: time.Now()}, nil
}

// Revisions returns every stored revision of a script, newest first.
func (r *S3Repository) Revisions(ctx context.Context, name string) ([]Metadata, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	objects, err := r.listObjects(ctx, r.base()+name+"/")
	if err != nil {
		return nil, err
	}
	var out []Metadata
	for _, o := range objects {
		if md, ok := r.parseKey(o); ok && md.Name == name {
			out = append(out, md)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ModifiedAt.After(out[j].ModifiedAt) })
	return out, nil
}

func (r *S3Repository) Load(ctx context.Context, name string) (s *StoredScript, err error) {
	defer track(s3Backend, "load")(&err)

	revs, err := r.Revisions(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, fmt.Errorf("%w: %s", consts.ErrScriptNotFound, name)
	}
	latest := revs[0]
	key := helpers.NewScriptKey(r.prefix, name, latest.Digest)

	var data []byte
	err = r.do(ctx, "get", func() error {
		var gerr error
		data, gerr = r.store.get(ctx, key)
		return gerr
	})
	if errors.Is(err, errObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", consts.ErrScriptNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return &StoredScript{Metadata: latest, Script: string(data)}, nil
}

func (r *S3Repository) Exists(ctx context.Context, name string) (bool, error) {
	revs, err := r.Revisions(ctx, name)
	return len(revs) > 0, err
}

func (r *S3Repository) List(ctx context.Context) (out []Metadata, err error) {
	defer track(s3Backend, "list")(&err)

	objects, err := r.listObjects(ctx, r.base())
	if err != nil {
		return nil, err
	}
	latest := make(map[string]Metadata)
	for _, o := range objects {
		md, ok := r.parseKey(o)
		if !ok {
			continue
		}
		if cur, seen := latest[md.Name]; !seen || md.ModifiedAt.After(cur.ModifiedAt) {
			latest[md.Name] = md
		}
	}
	for _, md := range latest {
		out = append(out, md)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes every revision of the script.
func (r *S3Repository) Delete(ctx context.Context, name string) (err error) {
	defer track(s3Backend, "delete")(&err)

	revs, err := r.Revisions(ctx, name)
	if err != nil {
		return err
	}
	if len(revs) == 0 {
		return fmt.Errorf("%w: %s", consts.ErrScriptNotFound, name)
	}
	for _, md := range revs {
		key := helpers.NewScriptKey(r.prefix, name, md.Digest)
		err = r.do(ctx, "delete", func() error {
			return r.store.remove(ctx, key)
		})
		if err != nil && !errors.Is(err, errObjectNotFound) {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
	}
	logger.Info("Deleted script", "backend", s3Backend, "name", name, "revisions", len(revs))
	return nil
}

func (r *S3Repository) Count(ctx context.Context) (int, error) {
	list, err := r.List(ctx)
	return len(list), err
}

func (r *S3Repository) listObjects(ctx context.Context, prefix string) ([]objectInfo, error) {
	var objects []objectInfo
	err := r.do(ctx, "list", func() error {
		var lerr error
		objects, lerr = r.store.list(ctx, prefix)
		return lerr
	})
	return objects, err
}

// parseKey splits <prefix>/<name>/<digest>.sieve.
func (r *S3Repository) parseKey(o objectInfo) (Metadata, bool) {
	rel, ok := strings.CutPrefix(o.Key, r.base())
	if !ok {
		return Metadata{}, false
	}
	name, file, ok := strings.Cut(rel, "/")
	if !ok || strings.Contains(file, "/") || path.Ext(file) != ScriptExt || ValidateName(name) != nil {
		return Metadata{}, false
	}
	return Metadata{
		Name:       name,
		Digest:     strings.TrimSuffix(file, ScriptExt),
		Size:       o.Size,
		ModifiedAt: o.LastModified,
	}, true
}

type minioStore struct {
	client *minio.Client
	bucket string
}

func (m *minioStore) put(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/sieve", SendContentMd5: true})
	return err
}

func (m *minioStore) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, notFound(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, notFound(err)
	}
	return data, nil
}

func (m *minioStore) list(ctx context.Context, prefix string) ([]objectInfo, error) {
	var out []objectInfo
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		out = append(out, objectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	return out, nil
}

func (m *minioStore) remove(ctx context.Context, key string) error {
	return notFound(m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}))
}

// notFound maps a 404 from the server to errObjectNotFound.
func notFound(err error) error {
	if err == nil {
		return nil
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.StatusCode == 404 {
		return fmt.Errorf("%w: %s", errObjectNotFound, resp.Key)
	}
	return err
}
