// Package storage keeps the normalized course archives that survive an import.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ErrInvalidName indicates an archive name that would leave the store's namespace.
var ErrInvalidName = errors.New("storage: invalid archive name")

// LocalStore keeps archives in a directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("storage: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

// Path returns the on-disk location for name.
func (store *LocalStore) Path(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(store.dir, name), nil
}

// Put copies the file at srcPath to name, replacing any previous archive.
func (store *LocalStore) Put(ctx context.Context, name string, srcPath string) error {
	target, err := store.Path(name)
	if err != nil {
		return err
	}
	source, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("storage: open %s: %w", srcPath, err)
	}
	defer source.Close()

	temporary, err := os.CreateTemp(store.dir, ".put-*")
	if err != nil {
		return fmt.Errorf("storage: stage %s: %w", name, err)
	}
	defer os.Remove(temporary.Name())
	if _, err := io.Copy(temporary, source); err != nil {
		_ = temporary.Close()
		return fmt.Errorf("storage: copy %s: %w", name, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("storage: copy %s: %w", name, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(temporary.Name(), target); err != nil {
		return fmt.Errorf("storage: publish %s: %w", name, err)
	}
	return nil
}

// Remove deletes name. A missing archive is not an error.
func (store *LocalStore) Remove(_ context.Context, name string) error {
	target, err := store.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: remove %s: %w", name, err)
	}
	return nil
}

// GCSStore keeps archives as objects in a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore connects with application default credentials.
func NewGCSStore(ctx context.Context, bucket string, prefix string, opts ...option.ClientOption) (*GCSStore, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("storage: bucket is required")
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (store *GCSStore) key(name string) string {
	if store.prefix == "" {
		return name
	}
	return store.prefix + "/" + name
}

// Put uploads the file at srcPath as name.
func (store *GCSStore) Put(ctx context.Context, name string, srcPath string) error {
	if err := checkName(name); err != nil {
		return err
	}
	source, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("storage: open %s: %w", srcPath, err)
	}
	defer source.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	writer := store.client.Bucket(store.bucket).Object(store.key(name)).NewWriter(ctx)
	writer.ContentType = "application/zip"
	if _, err := io.Copy(writer, source); err != nil {
		_ = writer.Close()
		return fmt.Errorf("storage: upload %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("storage: finish upload %s: %w", name, err)
	}
	return nil
}

// Remove deletes the object for name. A missing object is not an error.
func (store *GCSStore) Remove(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := store.client.Bucket(store.bucket).Object(store.key(name)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("storage: delete %s: %w", name, err)
	}
	return nil
}

// Close releases the client.
func (store *GCSStore) Close() error {
	return store.client.Close()
}

func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
