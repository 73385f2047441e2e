package asset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// RawKey and DisplayKey build the deterministic storage keys for an item's
// two renditions. Re-processing an item overwrites in place.
func RawKey(itemID string) string {
	return fmt.Sprintf("raw/%s.jpg", itemID)
}

func DisplayKey(itemID string) string {
	return fmt.Sprintf("display/%s.jpg", itemID)
}

// FSStore persists renditions on the local filesystem under a base directory.
type FSStore struct {
	baseDir string
}

func NewFSStore(baseDir string) *FSStore {
	return &FSStore{baseDir: baseDir}
}

func (s *FSStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	base := filepath.Clean(s.baseDir)
	rel, err := filepath.Rel(base, clean)
	if err != nil || rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return "", fmt.Errorf("asset key %q escapes base directory", key)
	}
	return clean, nil
}

func (s *FSStore) Put(ctx context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil { // #nosec G703 -- baseDir from config, key is UUID-derived
		return fmt.Errorf("failed to create asset directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil { // #nosec G306 -- local cache files, not executables
		return fmt.Errorf("failed to write asset %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize asset %s: %w", key, err)
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is validated against baseDir above
	if err != nil {
		return nil, fmt.Errorf("failed to read asset %s: %w", key, err)
	}
	return data, nil
}
