package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem implements Store on the local filesystem. It backs development
// and test environments so local runs need no external object host.
// Writes are atomic using a temp file and rename.
type Filesystem struct {
	root string
}

// NewFilesystem creates a filesystem store rooted at the given path.
// The directory is created if it does not exist.
func NewFilesystem(root string) (*Filesystem, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	return &Filesystem{root: absRoot}, nil
}

// Root returns the root directory path.
func (fs *Filesystem) Root() string {
	return fs.root
}

// Write stores data at the given key using an atomic write.
func (fs *Filesystem) Write(_ context.Context, key string, r io.Reader) error {
	path := fs.keyToPath(key)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("writing data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}

// Read retrieves data at the given key.
func (fs *Filesystem) Read(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(fs.keyToPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return f, nil
}

// Delete removes data at the given key.
func (fs *Filesystem) Delete(_ context.Context, key string) error {
	err := os.Remove(fs.keyToPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

// Exists checks if a key exists.
func (fs *Filesystem) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(fs.keyToPath(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking file: %w", err)
}

// List returns all keys with the given prefix.
func (fs *Filesystem) List(_ context.Context, prefix string) ([]string, error) {
	dir := fs.keyToPath(prefix)

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return []string{prefix}, nil
	}

	var keys []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(fs.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return keys, nil
}

// keyToPath converts a key to a filesystem path.
func (fs *Filesystem) keyToPath(key string) string {
	return filepath.Join(fs.root, filepath.FromSlash(key))
}

// Compile-time interface check
var _ Store = (*Filesystem)(nil)
