package docstore

import (
	"context"
)

// Version is the opaque content token of a stored document.
type Version string

// Absent is the version of a document that does not exist yet.
const Absent Version = ""

func (v Version) String() string {
	if v == Absent {
		return "<absent>"
	}
	if len(v) > 12 {
		return string(v[:12])
	}
	return string(v)
}

// Blob is the raw content of one document and its version.
type Blob struct {
	Data    []byte
	Version Version
}

// Exists reports whether the document was present.
func (b Blob) Exists() bool {
	return b.Version != Absent
}

// Commit describes a write for backends that keep history.
type Commit struct {
	Message string
	Author  string
}

// Backend is whole-document storage with replace-if-unchanged writes.
//
// Get returns an empty Blob (Absent version) for a missing document.
// Put replaces the document only if its current version equals expected
// (Absent meaning "must not exist") and returns the new version. A
// mismatch fails with *ConflictError; I/O failures with
// *StoreUnavailableError.
type Backend interface {
	Get(ctx context.Context, path string) (Blob, error)
	Put(ctx context.Context, path string, data []byte, expected Version, commit Commit) (Version, error)
}
