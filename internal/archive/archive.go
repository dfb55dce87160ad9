// Package archive moves messages out of oversized or aged collections into
// dated archive batches.
//
// A sweep writes the batch first, records the victims in the archive index
// second and shrinks the source last, all with compare-and-swap. A crash in
// between leaves the swept messages in both places; the next sweep
// recomputes the same victims, finds them already in the batch and the
// index, skips those writes and completes the shrink. Batch metadata is set
// when the batch is created and kept on later appends.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/message"
	"github.com/roach88/postbox/internal/metrics"
)

// Defaults for Limits.
const (
	DefaultMaxActive  = 100
	DefaultMaxAgeDays = 30
	defaultAttempts   = 3
)

// Limits are the sweep thresholds.
type Limits struct {
	// MaxActive is how many published messages stay active.
	MaxActive int `yaml:"max_active" json:"maxActive"`
	// MaxAgeDays is how long a rejected message stays active.
	MaxAgeDays int `yaml:"max_age_days" json:"maxAgeDays"`
}

// DefaultLimits keeps 100 published messages and 30 days of rejections.
var DefaultLimits = Limits{MaxActive: DefaultMaxActive, MaxAgeDays: DefaultMaxAgeDays}

// Report describes one sweep.
type Report struct {
	Collection message.Collection `json:"collection"`
	Rule       string             `json:"rule"`
	Batch      string             `json:"batch,omitempty"`
	Archived   []string           `json:"archived"`
	Remaining  int                `json:"remaining"`
}

// NoOp reports whether the sweep found nothing to move.
func (r Report) NoOp() bool { return len(r.Archived) == 0 }

// Policy sweeps collections on a Store.
type Policy struct {
	store    *docstore.Store
	clock    message.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	attempts int
}

// Option configures a Policy.
type Option func(*Policy)

// WithLogger sets the policy logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) { p.logger = l }
}

// WithMetrics records archived counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Policy) { p.metrics = m }
}

// New creates a Policy using the store's registry clock.
func New(store *docstore.Store, opts ...Option) *Policy {
	p := &Policy{
		store:    store,
		clock:    store.Registry(),
		logger:   slog.Default(),
		attempts: defaultAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sweepable reports whether a collection has an archive rule.
func Sweepable(c message.Collection) bool {
	return c == message.CollectionPublished || c == message.CollectionRejected
}

// Sweep archives messages from collection. published keeps the newest
// maxActive by publishedAt; rejected archives everything rejected more
// than maxAgeDays ago. Running it twice with no writes in between is a
// no-op the second time.
func (p *Policy) Sweep(ctx context.Context, sess docstore.Session, collection message.Collection, maxActive, maxAgeDays int) (Report, error) {
	if !Sweepable(collection) {
		return Report{}, &message.SchemaError{Field: "collection", Reason: fmt.Sprintf("%s has no archive rule", collection)}
	}
	if maxActive < 0 {
		return Report{}, &message.SchemaError{Field: "maxActive", Reason: "negative"}
	}
	if maxAgeDays < 0 {
		return Report{}, &message.SchemaError{Field: "maxAgeDays", Reason: "negative"}
	}

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		report, err := p.sweepOnce(ctx, sess, collection, maxActive, maxAgeDays)
		if err == nil {
			return report, nil
		}
		if !docstore.IsConflict(err) {
			return Report{}, err
		}
		lastErr = err
		p.logger.Debug("sweep conflict, retrying", "collection", collection, "attempt", attempt)
	}
	return Report{}, fmt.Errorf("sweep %s after %d attempts: %w", collection, p.attempts, lastErr)
}

// SweepAll applies both rules with limits.
func (p *Policy) SweepAll(ctx context.Context, sess docstore.Session, limits Limits) ([]Report, error) {
	var reports []Report
	for _, c := range []message.Collection{message.CollectionPublished, message.CollectionRejected} {
		r, err := p.Sweep(ctx, sess, c, limits.MaxActive, limits.MaxAgeDays)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func (p *Policy) sweepOnce(ctx context.Context, sess docstore.Session, collection message.Collection, maxActive, maxAgeDays int) (Report, error) {
	now := p.clock.Now().UTC()
	src, err := p.store.Read(ctx, collection)
	if err != nil {
		return Report{}, fmt.Errorf("read %s: %w", collection, err)
	}

	var victims []message.Message
	var rule string
	switch collection {
	case message.CollectionPublished:
		rule = fmt.Sprintf("count:maxActive=%d", maxActive)
		victims = overCount(src.Messages, maxActive)
	case message.CollectionRejected:
		rule = fmt.Sprintf("age:maxAgeDays=%d", maxAgeDays)
		victims = olderThan(src.Messages, now.Add(-time.Duration(maxAgeDays)*24*time.Hour))
	}

	report := Report{Collection: collection, Rule: rule, Archived: []string{}, Remaining: len(src.Messages)}
	if len(victims) == 0 {
		return report, nil
	}

	name := docstore.BatchName(collection, now)
	batch, err := p.store.ReadBatch(ctx, name)
	if err != nil {
		return Report{}, fmt.Errorf("read batch %s: %w", name, err)
	}
	added := 0
	for _, m := range victims {
		if batch.Contains(m.ID) {
			continue
		}
		batch.Messages = append(batch.Messages, m)
		added++
	}
	if added > 0 {
		batch.Name = name
		if batch.Version == docstore.Absent {
			batch.SourceCollection = collection
			batch.Rule = rule
			batch.ArchivedAt = now
			batch.OriginalCount = len(src.Messages)
		}
		if _, err := p.store.WriteBatch(ctx, sess, batch, batch.Version); err != nil {
			return Report{}, fmt.Errorf("write batch %s: %w", name, err)
		}
	}
	if err := p.index(ctx, sess, name, victims); err != nil {
		return Report{}, err
	}

	gone := make(map[string]struct{}, len(victims))
	for _, m := range victims {
		gone[m.ID] = struct{}{}
	}
	survivors := make([]message.Message, 0, len(src.Messages)-len(victims))
	for _, m := range src.Messages {
		if _, ok := gone[m.ID]; !ok {
			survivors = append(survivors, m)
		}
	}
	if _, err := p.store.Write(ctx, sess, collection, survivors, src.Version); err != nil {
		return Report{}, fmt.Errorf("shrink %s: %w", collection, err)
	}

	for _, m := range victims {
		report.Archived = append(report.Archived, m.ID)
	}
	report.Batch = name
	report.Remaining = len(survivors)
	p.metrics.ObserveArchived(string(collection), len(victims))
	p.logger.Info("collection swept",
		"collection", collection, "batch", name, "archived", len(victims), "remaining", len(survivors))
	return report, nil
}

// index records victims in the archive index before they leave the source,
// so ingestion keeps treating their source ids as known.
func (p *Policy) index(ctx context.Context, sess docstore.Session, batch string, victims []message.Message) error {
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		idx, rerr := p.store.ReadArchiveIndex(ctx)
		if rerr != nil {
			return fmt.Errorf("read archive index: %w", rerr)
		}
		if idx.Add(batch, victims) == 0 {
			return nil
		}
		_, err = p.store.WriteArchiveIndex(ctx, sess, idx, idx.Version)
		if err == nil || !docstore.IsConflict(err) {
			return err
		}
	}
	return fmt.Errorf("update archive index: %w", err)
}

// overCount returns everything beyond the newest limit by publishedAt.
func overCount(msgs []message.Message, limit int) []message.Message {
	if len(msgs) <= limit {
		return nil
	}
	sorted := append([]message.Message(nil), msgs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return publishedTime(sorted[i]).After(publishedTime(sorted[j]))
	})
	return sorted[limit:]
}

// olderThan returns messages rejected (or created, if never stamped)
// before cutoff, in collection order.
func olderThan(msgs []message.Message, cutoff time.Time) []message.Message {
	var out []message.Message
	for _, m := range msgs {
		at := m.CreatedAt
		if m.RejectedAt != nil {
			at = *m.RejectedAt
		}
		if at.Before(cutoff) {
			out = append(out, m)
		}
	}
	return out
}

func publishedTime(m message.Message) time.Time {
	if m.PublishedAt != nil {
		return *m.PublishedAt
	}
	return m.CreatedAt
}
