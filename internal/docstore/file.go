package docstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/roach88/postbox/internal/digest"
)

const lockDir = ".postbox-locks"

// FileBackend stores documents as files under a root directory, normally
// the working tree of a git checkout. Writes are serialized per document
// with an advisory flock and land via temp-file rename, so a reader never
// sees a partial document.
type FileBackend struct {
	root string
}

// NewFileBackend creates a backend rooted at dir, creating it if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Join(dir, lockDir), 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &FileBackend{root: dir}, nil
}

// Root returns the directory the backend writes under.
func (b *FileBackend) Root() string { return b.root }

func (b *FileBackend) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("document path %q escapes store root", path)
	}
	return filepath.Join(b.root, clean), nil
}

// Get reads one document.
func (b *FileBackend) Get(ctx context.Context, path string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return Blob{}, unavailable("get", path, err)
	}
	full, err := b.resolve(path)
	if err != nil {
		return Blob{}, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return Blob{}, nil
	}
	if err != nil {
		return Blob{}, unavailable("get", path, err)
	}
	return Blob{Data: data, Version: Version(digest.BlobSHA(data))}, nil
}

// Put replaces one document under an exclusive lock.
func (b *FileBackend) Put(ctx context.Context, path string, data []byte, expected Version, _ Commit) (Version, error) {
	if err := ctx.Err(); err != nil {
		return Absent, unavailable("put", path, err)
	}
	full, err := b.resolve(path)
	if err != nil {
		return Absent, err
	}

	unlock, err := b.lock(path)
	if err != nil {
		return Absent, unavailable("lock", path, err)
	}
	defer unlock()

	current := Absent
	existing, err := os.ReadFile(full)
	switch {
	case err == nil:
		current = Version(digest.BlobSHA(existing))
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Absent, unavailable("put", path, err)
	}
	if current != expected {
		return Absent, &ConflictError{Path: path, Expected: expected, Current: current}
	}

	if err := writeAtomic(full, data); err != nil {
		return Absent, unavailable("put", path, err)
	}
	return Version(digest.BlobSHA(data)), nil
}

// lock takes an exclusive flock on a sidecar file for path.
func (b *FileBackend) lock(path string) (func(), error) {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(filepath.ToSlash(filepath.Clean(path))) + ".lock"
	f, err := os.OpenFile(filepath.Join(b.root, lockDir, name), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}

func writeAtomic(full string, data []byte) error {
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, full)
}
