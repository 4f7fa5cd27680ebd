package attachments

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalFS stores attachment blobs under a root directory. Callers pass
// relative paths derived from attachment ids, never user input.
type LocalFS struct {
	Root string
}

// Put writes the reader's contents at relPath and returns the cleaned path.
func (l LocalFS) Put(relPath string, r io.Reader) (string, error) {
	clean := filepath.Clean(relPath)
	abs := filepath.Join(l.Root, clean)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	f, err := os.Create(abs)
	if err != nil {
		return "", fmt.Errorf("failed to create blob file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return clean, nil
}

// Open opens the blob at relPath for reading.
func (l LocalFS) Open(relPath string) (*os.File, error) {
	clean := filepath.Clean(relPath)
	abs := filepath.Join(l.Root, clean)
	return os.Open(abs)
}

// Exists reports whether a blob is present at relPath.
func (l LocalFS) Exists(relPath string) bool {
	clean := filepath.Clean(relPath)
	abs := filepath.Join(l.Root, clean)
	_, err := os.Stat(abs)
	return err == nil
}

// Copy duplicates the blob at srcPath to dstPath. Copying over an existing
// destination overwrites it, which keeps retried copies idempotent.
func (l LocalFS) Copy(srcPath, dstPath string) (string, error) {
	src, err := l.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to open source blob: %w", err)
	}
	defer src.Close()

	return l.Put(dstPath, src)
}

// blobPath shards blobs into two-character prefix directories to keep any
// single directory from growing unbounded.
func blobPath(id string) string {
	if len(id) < 2 {
		return id
	}
	return filepath.Join(id[:2], id)
}
