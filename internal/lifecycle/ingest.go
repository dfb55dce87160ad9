package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/message"
)

// Outcome is the result of ingesting one item.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// ItemResult reports what happened to one incoming item.
type ItemResult struct {
	SourceID  string  `json:"sourceId"`
	MessageID string  `json:"messageId,omitempty"`
	Outcome   Outcome `json:"outcome"`
	Err       error   `json:"-"`
	Error     string  `json:"error,omitempty"`
}

// BatchReport collects per-item results in input order.
type BatchReport struct {
	Results    []ItemResult `json:"results"`
	Created    int          `json:"created"`
	Duplicates int          `json:"duplicates"`
	Rejected   int          `json:"rejected"`
	Failed     int          `json:"failed"`
}

func (r *BatchReport) add(res ItemResult) {
	if res.Err != nil {
		res.Error = res.Err.Error()
	}
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomeCreated:
		r.Created++
	case OutcomeDuplicate:
		r.Duplicates++
	case OutcomeRejected:
		r.Rejected++
	case OutcomeFailed:
		r.Failed++
	}
}

// Ingest registers incoming items as pending messages.
//
// Items whose sourceId is already known in any active collection or the
// archive, or repeated within the batch, are duplicates and change nothing. Items that
// fail validation are rejected. All new messages land in pending with one
// compare-and-swap write; if that write cannot be made, every new item is
// reported failed and may be resubmitted.
//
// The returned error is non-nil only when the store could not be read or
// written; the report is complete either way.
func (e *Engine) Ingest(ctx context.Context, sess docstore.Session, items []message.IncomingItem) (BatchReport, error) {
	report := BatchReport{Results: make([]ItemResult, 0, len(items))}
	results := make([]ItemResult, len(items))

	known, err := e.knownSources(ctx)
	if err != nil {
		for i, item := range items {
			results[i] = ItemResult{SourceID: item.SourceID, Outcome: OutcomeFailed, Err: err}
		}
		e.finishReport(&report, results)
		return report, err
	}

	type candidate struct {
		index int
		msg   message.Message
	}
	var candidates []candidate

	for i, item := range items {
		item.SourceID = strings.TrimSpace(item.SourceID)
		res := ItemResult{SourceID: item.SourceID}
		if item.SourceID == "" {
			_, err := e.registry.FromIncoming(item, nil)
			res.Outcome, res.Err = OutcomeRejected, err
			results[i] = res
			continue
		}
		if item.OccurredAt.IsZero() {
			item.OccurredAt = e.registry.Now()
		}

		id := message.DeriveID(item.SourceID, item.OccurredAt)
		if prior, dup := known.lookup(item.SourceID); dup {
			res.Outcome, res.MessageID = OutcomeDuplicate, prior
			results[i] = res
			continue
		}
		if known.hasID(id) {
			res.Outcome, res.MessageID = OutcomeDuplicate, id
			results[i] = res
			continue
		}

		var images []message.Image
		if len(item.Images) > 0 {
			if e.assets != nil {
				images = e.assets.StoreImages(ctx, sess, id, item.Images)
			}
			if len(images) < len(item.Images) {
				e.logger.Warn("images dropped during ingestion",
					"id", id, "wanted", len(item.Images), "stored", len(images))
			}
		}
		m, err := e.registry.FromIncoming(item, images)
		if err != nil {
			res.Outcome, res.Err = OutcomeRejected, err
			results[i] = res
			continue
		}

		known.add(m.SourceID, m.ID)
		res.MessageID = m.ID
		results[i] = res
		candidates = append(candidates, candidate{index: i, msg: m})
	}

	if len(candidates) > 0 {
		msgs := make([]message.Message, len(candidates))
		for i, c := range candidates {
			msgs[i] = c.msg
		}
		created, err := e.appendPending(ctx, sess, msgs)
		for _, c := range candidates {
			switch {
			case err != nil:
				results[c.index].Outcome, results[c.index].Err = OutcomeFailed, err
			case created[c.msg.ID]:
				results[c.index].Outcome = OutcomeCreated
			default:
				results[c.index].Outcome = OutcomeDuplicate
			}
		}
		if err != nil {
			e.finishReport(&report, results)
			return report, err
		}
	}

	e.finishReport(&report, results)
	e.logger.Info("ingest batch processed",
		"items", len(items), "created", report.Created, "duplicates", report.Duplicates,
		"rejected", report.Rejected, "session", sess.ID)
	return report, nil
}

func (e *Engine) finishReport(report *BatchReport, results []ItemResult) {
	for _, res := range results {
		report.add(res)
		e.metrics.ObserveIngest(string(res.Outcome))
		if res.Outcome == OutcomeRejected {
			e.logger.Warn("incoming item rejected", "source_id", res.SourceID, "error", res.Err)
		}
	}
}

// appendPending adds msgs to pending, skipping any whose sourceId or id
// appeared there since the batch was checked. It reports which ids were
// actually written.
func (e *Engine) appendPending(ctx context.Context, sess docstore.Session, msgs []message.Message) (map[string]bool, error) {
	var err error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		pending, rerr := e.store.Read(ctx, message.CollectionPending)
		if rerr != nil {
			return nil, fmt.Errorf("read pending: %w", rerr)
		}
		present := newSourceIndex()
		present.addCollection(pending)

		created := make(map[string]bool, len(msgs))
		next := pending.Messages
		for _, m := range msgs {
			if _, dup := present.lookup(m.SourceID); dup || present.hasID(m.ID) {
				continue
			}
			next = append(next, m)
			created[m.ID] = true
		}
		if len(created) == 0 {
			return created, nil
		}

		_, err = e.store.Write(ctx, sess, message.CollectionPending, next, pending.Version)
		if err == nil {
			return created, nil
		}
		if !docstore.IsConflict(err) {
			return nil, fmt.Errorf("write pending: %w", err)
		}
	}
	return nil, fmt.Errorf("write pending after %d retries: %w", e.maxRetries, err)
}

// knownSources indexes every active collection and the archive index by
// sourceId and id.
func (e *Engine) knownSources(ctx context.Context) (*sourceIndex, error) {
	idx := newSourceIndex()
	for _, c := range message.ActiveCollections {
		col, err := e.store.Read(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", c, err)
		}
		idx.addCollection(col)
	}
	archived, err := e.store.ReadArchiveIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("read archive index: %w", err)
	}
	for _, entry := range archived.Entries {
		idx.add(entry.SourceID, entry.ID)
	}
	return idx, nil
}

type sourceIndex struct {
	bySource map[string]string
	ids      map[string]struct{}
}

func newSourceIndex() *sourceIndex {
	return &sourceIndex{bySource: make(map[string]string), ids: make(map[string]struct{})}
}

func (s *sourceIndex) addCollection(c docstore.Collection) {
	for _, m := range c.Messages {
		s.add(m.SourceID, m.ID)
	}
}

func (s *sourceIndex) add(sourceID, id string) {
	if sourceID != "" {
		s.bySource[sourceID] = id
	}
	s.ids[id] = struct{}{}
}

func (s *sourceIndex) lookup(sourceID string) (string, bool) {
	if sourceID == "" {
		return "", false
	}
	id, ok := s.bySource[sourceID]
	return id, ok
}

func (s *sourceIndex) hasID(id string) bool {
	_, ok := s.ids[id]
	return ok
}
