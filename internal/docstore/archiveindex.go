package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/postbox/internal/message"
)

// IndexEntry records where an archived message went.
type IndexEntry struct {
	ID       string `json:"id"`
	SourceID string `json:"sourceId,omitempty"`
	Batch    string `json:"batch"`
}

// ArchiveIndex lists every archived message across all batches, so callers
// can tell whether a message was ever archived without reading each batch.
type ArchiveIndex struct {
	Entries     []IndexEntry
	LastUpdated time.Time
	Version     Version
}

// Find returns the entry for id.
func (x ArchiveIndex) Find(id string) (IndexEntry, bool) {
	for _, e := range x.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return IndexEntry{}, false
}

// Add appends an entry for each message not yet indexed and reports how
// many were added.
func (x *ArchiveIndex) Add(batch string, msgs []message.Message) int {
	known := make(map[string]struct{}, len(x.Entries))
	for _, e := range x.Entries {
		known[e.ID] = struct{}{}
	}
	added := 0
	for _, m := range msgs {
		if _, ok := known[m.ID]; ok {
			continue
		}
		known[m.ID] = struct{}{}
		x.Entries = append(x.Entries, IndexEntry{ID: m.ID, SourceID: m.SourceID, Batch: batch})
		added++
	}
	return added
}

type archiveIndexDocument struct {
	Entries     []IndexEntry `json:"entries"`
	LastUpdated time.Time    `json:"lastUpdated"`
	Version     string       `json:"version"`
}

// ReadArchiveIndex loads the archive index. A missing index reads as empty
// with the Absent version.
func (s *Store) ReadArchiveIndex(ctx context.Context) (ArchiveIndex, error) {
	var doc archiveIndexDocument
	v, err := s.ReadDocument(ctx, s.layout.ArchiveIndexPath(), &doc)
	if err != nil {
		return ArchiveIndex{}, err
	}
	if doc.Entries == nil {
		doc.Entries = []IndexEntry{}
	}
	return ArchiveIndex{Entries: doc.Entries, LastUpdated: doc.LastUpdated, Version: v}, nil
}

// WriteArchiveIndex replaces the archive index if it is still at expected.
func (s *Store) WriteArchiveIndex(ctx context.Context, sess Session, x ArchiveIndex, expected Version) (Version, error) {
	seen := make(map[string]struct{}, len(x.Entries))
	for _, e := range x.Entries {
		if e.ID == "" || e.Batch == "" {
			return Absent, &message.SchemaError{Field: "entries", Reason: "archive index entry requires id and batch"}
		}
		if _, dup := seen[e.ID]; dup {
			return Absent, &message.SchemaError{Field: "id", Reason: fmt.Sprintf("duplicate archive index entry %s", e.ID)}
		}
		seen[e.ID] = struct{}{}
	}
	entries := x.Entries
	if entries == nil {
		entries = []IndexEntry{}
	}
	return s.WriteDocument(ctx, sess, s.layout.ArchiveIndexPath(), archiveIndexDocument{
		Entries:     entries,
		LastUpdated: s.registry.Now(),
		Version:     FormatVersion,
	}, expected, fmt.Sprintf("Index %d archived messages", len(entries)))
}
