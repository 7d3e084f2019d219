package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"video-autopost/internal"
	"video-autopost/internal/s3"
)

// JSONStore persists small JSON documents by key.
type JSONStore interface {
	// ReadJSON decodes key into out. A missing key returns (false, nil).
	ReadJSON(ctx context.Context, key string, out any) (bool, error)
	WriteJSON(ctx context.Context, key string, v any) error
}

// FileStore keeps documents as files under a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) ReadJSON(_ context.Context, key string, out any) (bool, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// WriteJSON replaces the file atomically so a crash never leaves half a document.
func (s *FileStore) WriteJSON(_ context.Context, key string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dst := filepath.Join(s.dir, key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// FromConfig returns the S3 store when a bucket is configured, otherwise a
// FileStore under the data dir. The S3 client is returned too (nil for files)
// so callers can archive posted videos.
func FromConfig(cfg internal.Config) (JSONStore, s3.Client, error) {
	if cfg.S3.Configured() {
		client, err := s3.New(cfg.S3)
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	}
	return NewFileStore(cfg.DataDir), nil, nil
}
