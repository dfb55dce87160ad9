package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/lifecycle"
	"github.com/roach88/postbox/internal/telegram"
)

// Source produces incoming items and remembers how far it got.
type Source interface {
	Poll(ctx context.Context) (telegram.Poll, error)
	Commit(ctx context.Context, sess docstore.Session, lastUpdateID int64) error
}

// IngestResult describes one ingest run.
type IngestResult struct {
	Report    lifecycle.BatchReport `json:"report"`
	Skipped   int                   `json:"skipped"`
	Cursor    int64                 `json:"cursor"`
	Committed bool                  `json:"committed"`
}

// IngestJob polls a source and feeds the engine.
type IngestJob struct {
	source Source
	engine *lifecycle.Engine
	retry  docstore.RetryPolicy
	logger *slog.Logger
}

// NewIngestJob creates an ingest job.
func NewIngestJob(source Source, engine *lifecycle.Engine, opts ...Option) *IngestJob {
	o := buildOptions(opts)
	return &IngestJob{source: source, engine: engine, retry: o.retry, logger: o.logger}
}

// Run polls once, ingests what arrived and advances the source cursor. The
// cursor stays put when any item failed for storage reasons so the next run
// sees those updates again; duplicates make that replay harmless.
func (j *IngestJob) Run(ctx context.Context, sess docstore.Session) (IngestResult, error) {
	var poll telegram.Poll
	err := docstore.RetryUnavailable(ctx, j.retry, func(ctx context.Context) error {
		var err error
		poll, err = j.source.Poll(ctx)
		return err
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("poll: %w", err)
	}

	res := IngestResult{Skipped: poll.Skipped, Cursor: poll.LastUpdateID}
	if len(poll.Items) > 0 {
		err = docstore.RetryUnavailable(ctx, j.retry, func(ctx context.Context) error {
			var err error
			res.Report, err = j.engine.Ingest(ctx, sess, poll.Items)
			return err
		})
		if err != nil {
			return res, fmt.Errorf("ingest: %w", err)
		}
	}

	if res.Report.Failed > 0 {
		j.logger.Warn("cursor held back",
			"session", sess.ID,
			"failed", res.Report.Failed,
			"cursor", poll.LastUpdateID,
		)
		return res, nil
	}

	err = docstore.RetryUnavailable(ctx, j.retry, func(ctx context.Context) error {
		return j.source.Commit(ctx, sess, poll.LastUpdateID)
	})
	if err != nil {
		return res, fmt.Errorf("commit cursor: %w", err)
	}
	res.Committed = true

	j.logger.Info("ingest run",
		"session", sess.ID,
		"created", res.Report.Created,
		"duplicates", res.Report.Duplicates,
		"rejected", res.Report.Rejected,
		"skipped", res.Skipped,
		"cursor", res.Cursor,
	)
	return res, nil
}
