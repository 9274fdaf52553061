// Package objstore resolves dataset and metrics locations that may live in a
// remote bucket (s3://, minio://) and keeps a local cache of fetched objects.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Supported URI schemes.
const (
	SchemeS3    = "s3"
	SchemeMinIO = "minio"
)

var (
	// ErrNotFound is returned when the remote object does not exist.
	ErrNotFound = errors.New("objstore: object not found")
	// ErrNoStore is returned when no store is registered for a scheme.
	ErrNoStore = errors.New("objstore: no store for scheme")
)

// Store moves whole objects between a bucket and local storage.
type Store interface {
	Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error)
	Upload(ctx context.Context, bucket, key string, r io.Reader) error
}

// Location is a parsed remote object address.
type Location struct {
	Scheme string
	Bucket string
	Key    string
}

func (l Location) String() string {
	return l.Scheme + "://" + l.Bucket + "/" + l.Key
}

// IsRemote reports whether uri names a bucket object rather than a local path.
func IsRemote(uri string) bool {
	return strings.HasPrefix(uri, SchemeS3+"://") || strings.HasPrefix(uri, SchemeMinIO+"://")
}

// Parse splits a remote URI into scheme, bucket and key.
func Parse(uri string) (Location, error) {
	if !IsRemote(uri) {
		return Location{}, fmt.Errorf("parse %q: not a remote location", uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("parse %q: %w", uri, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return Location{}, fmt.Errorf("parse %q: bucket and key are required", uri)
	}
	return Location{Scheme: u.Scheme, Bucket: u.Host, Key: key}, nil
}

// Registry maps URI schemes to stores.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]Store
}

// NewRegistry returns an empty registry. Local paths work without any store.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]Store)}
}

// Register binds a store to a scheme, replacing any previous binding.
func (r *Registry) Register(scheme string, s Store) {
	r.mu.Lock()
	r.stores[scheme] = s
	r.mu.Unlock()
}

func (r *Registry) store(scheme string) (Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[scheme]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoStore, scheme)
	}
	return s, nil
}

// Fetch returns a local path for uri. Local paths are returned as is. Remote
// objects are downloaded once into cacheDir; later calls reuse the file.
func (r *Registry) Fetch(ctx context.Context, uri, cacheDir string) (string, error) {
	if !IsRemote(uri) {
		return uri, nil
	}
	loc, err := Parse(uri)
	if err != nil {
		return "", err
	}
	if cacheDir == "" {
		cacheDir = os.TempDir()
	}

	dst := filepath.Join(cacheDir, loc.Scheme, loc.Bucket, filepath.FromSlash(loc.Key))
	if st, err := os.Stat(dst); err == nil && st.Size() > 0 {
		return dst, nil
	}

	s, err := r.store(loc.Scheme)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", fmt.Errorf("mkdir cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create tmp: %w", err)
	}
	tmpPath := tmp.Name()

	_, err = s.Download(ctx, loc.Bucket, loc.Key, tmp)
	if closeErr := tmp.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("download %s: %w", loc, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename: %w", err)
	}
	return dst, nil
}

// Publish copies a local file to uri. A local uri is a plain file copy.
func (r *Registry) Publish(ctx context.Context, localPath, uri string) error {
	f, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	if !IsRemote(uri) {
		return copyLocal(f, uri)
	}
	loc, err := Parse(uri)
	if err != nil {
		return err
	}
	s, err := r.store(loc.Scheme)
	if err != nil {
		return err
	}
	if err := s.Upload(ctx, loc.Bucket, loc.Key, f); err != nil {
		return fmt.Errorf("upload %s: %w", loc, err)
	}
	return nil
}

func copyLocal(src io.Reader, dst string) error {
	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
	}
	out, err := os.Create(filepath.Clean(dst))
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	_, err = io.Copy(out, src)
	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
