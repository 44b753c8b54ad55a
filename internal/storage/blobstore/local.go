package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore stores overflow payloads on the local filesystem, adapted from
// the teacher's LocalLogStore. Used when the blobstore_backend setting is
// "local" or empty (the default), so the module runs without AWS
// credentials in dev/test.
type LocalStore struct {
	basePath string
}

// NewLocalStore builds a LocalStore rooted at basePath, creating it if
// necessary.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create base dir: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

// Put writes data to basePath/key and returns the absolute path as the
// reference.
func (l *LocalStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	path := filepath.Join(l.basePath, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("blobstore: create dir for %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("blobstore: write %s: %w", key, err)
	}
	return path, nil
}

// Get reads the file a reference names.
func (l *LocalStore) Get(ctx context.Context, reference string) ([]byte, error) {
	data, err := os.ReadFile(reference)
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", reference, err)
	}
	return data, nil
}

var _ Store = (*LocalStore)(nil)
