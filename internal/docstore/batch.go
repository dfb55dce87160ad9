package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/postbox/internal/message"
)

// ArchiveBatch is a dated document holding messages swept out of one
// active collection.
type ArchiveBatch struct {
	Name             string
	SourceCollection message.Collection
	Rule             string
	Messages         []message.Message
	ArchivedAt       time.Time
	OriginalCount    int
	ArchivedCount    int
	Version          Version
}

// Contains reports whether the batch already holds id.
func (b ArchiveBatch) Contains(id string) bool {
	for _, m := range b.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

type batchDocument struct {
	Messages         []json.RawMessage  `json:"messages"`
	ArchivedAt       time.Time          `json:"archivedAt"`
	OriginalCount    int                `json:"originalCount"`
	ArchivedCount    int                `json:"archivedCount"`
	Version          string             `json:"version"`
	SourceCollection message.Collection `json:"sourceCollection,omitempty"`
	Rule             string             `json:"rule,omitempty"`
}

type batchOutput struct {
	Messages         []message.Message  `json:"messages"`
	ArchivedAt       time.Time          `json:"archivedAt"`
	OriginalCount    int                `json:"originalCount"`
	ArchivedCount    int                `json:"archivedCount"`
	Version          string             `json:"version"`
	SourceCollection message.Collection `json:"sourceCollection,omitempty"`
	Rule             string             `json:"rule,omitempty"`
}

// BatchName is the batch for a collection on a given UTC day.
func BatchName(c message.Collection, day time.Time) string {
	return fmt.Sprintf("%s-%s", c, day.UTC().Format("2006-01-02"))
}

// ReadBatch loads an archive batch. A missing batch reads as empty with
// the Absent version. Archived records keep their original status.
func (s *Store) ReadBatch(ctx context.Context, name string) (ArchiveBatch, error) {
	path := s.layout.BatchPath(name)
	blob, err := s.get(ctx, path)
	if err != nil {
		return ArchiveBatch{}, err
	}
	b := ArchiveBatch{Name: name, Messages: []message.Message{}, Version: blob.Version}
	if !blob.Exists() {
		return b, nil
	}

	var doc batchDocument
	if err := decodeDocument(blob.Data, &doc); err != nil {
		return ArchiveBatch{}, &message.SchemaError{Field: path, Reason: "malformed document", Err: err}
	}
	msgs, err := s.normalizeAll(path, doc.Messages)
	if err != nil {
		return ArchiveBatch{}, err
	}
	b.Messages = msgs
	b.ArchivedAt = doc.ArchivedAt
	b.OriginalCount = doc.OriginalCount
	b.ArchivedCount = doc.ArchivedCount
	b.SourceCollection = doc.SourceCollection
	b.Rule = doc.Rule
	return b, nil
}

// WriteBatch replaces an archive batch if it is still at expected.
// ArchivedCount is always recomputed from the messages.
func (s *Store) WriteBatch(ctx context.Context, sess Session, b ArchiveBatch, expected Version) (Version, error) {
	if b.Name == "" {
		return Absent, &message.SchemaError{Field: "name", Reason: "archive batch requires a name"}
	}
	seen := make(map[string]struct{}, len(b.Messages))
	for _, m := range b.Messages {
		if _, dup := seen[m.ID]; dup {
			return Absent, &message.SchemaError{Field: "id", Reason: fmt.Sprintf("duplicate message %s in batch %s", m.ID, b.Name)}
		}
		seen[m.ID] = struct{}{}
	}
	msgs := b.Messages
	if msgs == nil {
		msgs = []message.Message{}
	}
	data, err := encodeDocument(batchOutput{
		Messages:         msgs,
		ArchivedAt:       b.ArchivedAt.UTC(),
		OriginalCount:    b.OriginalCount,
		ArchivedCount:    len(msgs),
		Version:          FormatVersion,
		SourceCollection: b.SourceCollection,
		Rule:             b.Rule,
	})
	if err != nil {
		return Absent, err
	}
	path := s.layout.BatchPath(b.Name)
	return s.put(ctx, path, data, expected, sess.Commit("Archive %d messages into %s", len(msgs), b.Name))
}
