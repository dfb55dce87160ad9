package docstore

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/postbox/internal/digest"
)

// MemoryBackend keeps documents in process memory.
type MemoryBackend struct {
	mu   sync.Mutex
	docs map[string][]byte
	log  []Commit

	// Intercept, when set, runs before every Put outside the lock. A
	// non-nil return fails the Put with that error. Tests use it to inject
	// interleaved writers and I/O failures.
	Intercept func(path string) error
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string][]byte)}
}

// Get returns a copy of the stored document.
func (b *MemoryBackend) Get(ctx context.Context, path string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return Blob{}, unavailable("get", path, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.docs[path]
	if !ok {
		return Blob{}, nil
	}
	return Blob{Data: append([]byte(nil), data...), Version: Version(digest.BlobSHA(data))}, nil
}

// Put stores data if the current version equals expected.
func (b *MemoryBackend) Put(ctx context.Context, path string, data []byte, expected Version, commit Commit) (Version, error) {
	if err := ctx.Err(); err != nil {
		return Absent, unavailable("put", path, err)
	}
	if b.Intercept != nil {
		if err := b.Intercept(path); err != nil {
			return Absent, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current := Absent
	if existing, ok := b.docs[path]; ok {
		current = Version(digest.BlobSHA(existing))
	}
	if current != expected {
		return Absent, &ConflictError{Path: path, Expected: expected, Current: current}
	}

	b.docs[path] = append([]byte(nil), data...)
	b.log = append(b.log, commit)
	return Version(digest.BlobSHA(data)), nil
}

// Paths lists stored document paths in sorted order.
func (b *MemoryBackend) Paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	paths := make([]string, 0, len(b.docs))
	for p := range b.docs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Commits returns the commit log, oldest first.
func (b *MemoryBackend) Commits() []Commit {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Commit(nil), b.log...)
}
