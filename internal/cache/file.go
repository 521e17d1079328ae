package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps the cache as one flat JSON object mapping channel ID to URL.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore writing to path.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	return &FileStore{path: filepath.Clean(path)}, nil
}

// Load reads the cache file. A missing file is an empty cache. Check times come from the file's
// modification time since the format stores URLs only.
func (s *FileStore) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("stat cache file: %w", err)
	}

	urls := map[string]string{}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &urls); err != nil {
			return nil, fmt.Errorf("decode cache file: %w", err)
		}
	}

	snap := make(Snapshot, len(urls))
	for id, u := range urls {
		if id == "" || u == "" {
			continue
		}
		snap[id] = Entry{ChannelID: id, URL: u, Source: SourceLoaded, CheckedAt: info.ModTime().UTC()}
	}
	return snap, nil
}

// Save writes snap atomically: a temp file in the same directory is renamed over the old one.
func (s *FileStore) Save(_ context.Context, snap Snapshot) error {
	data, err := json.MarshalIndent(snap.URLs(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}
