package atagone

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultStorePath is the file the FileStore uses when no path is given.
const DefaultStorePath = "device-config.json"

// Store file permissions.
const (
	storeDirPermissions  = 0750
	storeFilePermissions = 0600
)

// EndpointStore persists the last known endpoint across restarts.
//
// It is a best-effort cache: Read never fails, it reports absence instead.
type EndpointStore interface {
	// Read returns the persisted endpoint, or false if there is none or the
	// record cannot be used.
	Read(ctx context.Context) (Endpoint, bool)

	// Write replaces the persisted record. Errors match ErrStoreWrite.
	Write(ctx context.Context, ep Endpoint) error
}

// fileRecord is the on-disk shape of the FileStore record.
type fileRecord struct {
	BaseURL string `json:"baseUrl,omitempty"`
}

// FileStore keeps the endpoint in a small JSON document.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a FileStore backed by path. An empty path selects
// DefaultStorePath.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultStorePath
	}
	return &FileStore{path: path}
}

// Path returns the file backing the store.
func (s *FileStore) Path() string {
	return s.path
}

// Read implements EndpointStore.
func (s *FileStore) Read(_ context.Context) (Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", false
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", false
	}
	if rec.BaseURL == "" {
		return "", false
	}

	ep, err := ParseEndpoint(rec.BaseURL)
	if err != nil {
		return "", false
	}
	return ep, true
}

// Write implements EndpointStore. The record is written to a temporary file
// in the same directory and renamed over the old one.
func (s *FileStore) Write(_ context.Context, ep Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(fileRecord{BaseURL: ep.String()}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding record: %w", ErrStoreWrite, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, storeDirPermissions); err != nil {
		return fmt.Errorf("%w: creating directory: %w", ErrStoreWrite, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // Already renamed on success

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // Write error takes precedence
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	if err := tmp.Chmod(storeFilePermissions); err != nil {
		tmp.Close() //nolint:errcheck // Chmod error takes precedence
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	return nil
}
