package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/roach88/postbox/internal/message"
	"github.com/roach88/postbox/internal/metrics"
)

// FormatVersion is written into every document this package produces.
const FormatVersion = "1.0"

// Collection is one read of an active collection.
type Collection struct {
	Name        message.Collection `json:"name"`
	Messages    []message.Message  `json:"messages"`
	LastUpdated time.Time          `json:"lastUpdated"`
	Version     Version            `json:"sha"`
}

// Find returns the index of the message with id, or -1.
func (c Collection) Find(id string) int {
	for i, m := range c.Messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

type collectionDocument struct {
	Messages    []json.RawMessage `json:"messages"`
	LastUpdated time.Time         `json:"lastUpdated"`
	Version     string            `json:"version"`
}

type collectionOutput struct {
	Messages    []message.Message `json:"messages"`
	LastUpdated time.Time         `json:"lastUpdated"`
	Version     string            `json:"version"`
}

// Store reads and writes collections and archive batches on a Backend,
// normalizing every record through the message registry.
type Store struct {
	backend  Backend
	registry *message.Registry
	layout   Layout
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics records reads, writes and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLayout overrides DefaultLayout.
func WithLayout(l Layout) Option {
	return func(s *Store) { s.layout = l }
}

// New creates a Store.
func New(backend Backend, registry *message.Registry, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		registry: registry,
		layout:   DefaultLayout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend exposes the underlying document backend.
func (s *Store) Backend() Backend { return s.backend }

// Layout returns the path layout in use.
func (s *Store) Layout() Layout { return s.layout }

// Registry returns the message registry used for normalization.
func (s *Store) Registry() *message.Registry { return s.registry }

// Read loads an active collection. A missing document reads as empty with
// the Absent version. Every record is normalized; one malformed record
// fails the whole read with a *message.SchemaError.
func (s *Store) Read(ctx context.Context, name message.Collection) (Collection, error) {
	if _, ok := name.Status(); !ok {
		return Collection{}, &message.SchemaError{Field: "collection", Reason: fmt.Sprintf("%q is not an active collection", name)}
	}
	path := s.layout.CollectionPath(name)

	blob, err := s.get(ctx, path)
	if err != nil {
		return Collection{}, err
	}
	c := Collection{Name: name, Messages: []message.Message{}, Version: blob.Version}
	if !blob.Exists() {
		return c, nil
	}

	var doc collectionDocument
	if err := decodeDocument(blob.Data, &doc); err != nil {
		return Collection{}, &message.SchemaError{Field: path, Reason: "malformed document", Err: err}
	}
	c.LastUpdated = doc.LastUpdated
	msgs, err := s.normalizeAll(path, doc.Messages)
	if err != nil {
		return Collection{}, err
	}
	c.Messages = msgs
	return c, nil
}

// Write replaces an active collection if it is still at expected. Every
// message must carry the collection's status and ids must be unique.
func (s *Store) Write(ctx context.Context, sess Session, name message.Collection, msgs []message.Message, expected Version) (Version, error) {
	status, ok := name.Status()
	if !ok {
		return Absent, &message.SchemaError{Field: "collection", Reason: fmt.Sprintf("%q is not an active collection", name)}
	}
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.Status != status {
			return Absent, &message.SchemaError{
				Field:  "status",
				Reason: fmt.Sprintf("message %s has status %s, collection %s holds %s", m.ID, m.Status, name, status),
			}
		}
		if _, dup := seen[m.ID]; dup {
			return Absent, &message.SchemaError{Field: "id", Reason: fmt.Sprintf("duplicate message %s in %s", m.ID, name)}
		}
		seen[m.ID] = struct{}{}
	}
	if msgs == nil {
		msgs = []message.Message{}
	}

	data, err := encodeDocument(collectionOutput{
		Messages:    msgs,
		LastUpdated: s.registry.Now(),
		Version:     FormatVersion,
	})
	if err != nil {
		return Absent, err
	}
	path := s.layout.CollectionPath(name)
	return s.put(ctx, path, data, expected, sess.Commit("Update %s (%d messages)", name, len(msgs)))
}

// ReadDocument decodes an arbitrary JSON document into v. A missing
// document leaves v untouched and returns Absent.
func (s *Store) ReadDocument(ctx context.Context, path string, v any) (Version, error) {
	blob, err := s.get(ctx, path)
	if err != nil {
		return Absent, err
	}
	if !blob.Exists() {
		return Absent, nil
	}
	if err := decodeDocument(blob.Data, v); err != nil {
		return Absent, &message.SchemaError{Field: path, Reason: "malformed document", Err: err}
	}
	return blob.Version, nil
}

// WriteDocument encodes v as indented JSON and writes it with CAS.
func (s *Store) WriteDocument(ctx context.Context, sess Session, path string, v any, expected Version, summary string) (Version, error) {
	data, err := encodeDocument(v)
	if err != nil {
		return Absent, err
	}
	return s.put(ctx, path, data, expected, sess.Commit("%s", summary))
}

// PutRaw writes opaque bytes such as images.
func (s *Store) PutRaw(ctx context.Context, sess Session, path string, data []byte, expected Version, summary string) (Version, error) {
	return s.put(ctx, path, data, expected, sess.Commit("%s", summary))
}

// GetRaw reads opaque bytes.
func (s *Store) GetRaw(ctx context.Context, path string) (Blob, error) {
	return s.get(ctx, path)
}

func (s *Store) normalizeAll(path string, raws []json.RawMessage) ([]message.Message, error) {
	msgs := make([]message.Message, 0, len(raws))
	for i, raw := range raws {
		m, err := s.registry.Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", path, i, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *Store) get(ctx context.Context, path string) (Blob, error) {
	start := time.Now()
	blob, err := s.backend.Get(ctx, path)
	s.metrics.ObserveRead(s.documentKind(path))
	s.metrics.ObserveLatency("read", start)
	if err != nil {
		s.logger.Warn("document read failed", "path", path, "error", err)
		return Blob{}, err
	}
	s.logger.Debug("document read", "path", path, "version", blob.Version.String(), "bytes", len(blob.Data))
	return blob, nil
}

func (s *Store) put(ctx context.Context, path string, data []byte, expected Version, commit Commit) (Version, error) {
	start := time.Now()
	v, err := s.backend.Put(ctx, path, data, expected, commit)
	s.metrics.ObserveLatency("write", start)
	switch {
	case err == nil:
		s.metrics.ObserveWrite(s.documentKind(path), metrics.ResultOK)
		s.logger.Debug("document written", "path", path, "from", expected.String(), "to", v.String())
	case IsConflict(err):
		s.metrics.ObserveWrite(s.documentKind(path), metrics.ResultConflict)
		s.logger.Debug("document write conflict", "path", path, "expected", expected.String())
	default:
		s.metrics.ObserveWrite(s.documentKind(path), metrics.ResultError)
		s.logger.Warn("document write failed", "path", path, "error", err)
	}
	return v, err
}

// documentKind keeps metric label cardinality bounded: dated batches and
// per-message images collapse into one label each.
func (s *Store) documentKind(p string) string {
	switch {
	case strings.HasPrefix(p, s.layout.StaticDir+"/"):
		return "static"
	case strings.HasPrefix(p, path.Join(s.layout.DataDir, "archive")+"/"):
		return "archive"
	}
	return strings.TrimSuffix(path.Base(p), ".json")
}

func decodeDocument(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func encodeDocument(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return buf.Bytes(), nil
}
