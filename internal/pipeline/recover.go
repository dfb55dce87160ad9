package pipeline

import (
	"context"
	"log/slog"

	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/lifecycle"
)

// RecoverJob completes transitions interrupted between their two writes.
type RecoverJob struct {
	engine *lifecycle.Engine
	retry  docstore.RetryPolicy
	logger *slog.Logger
}

// NewRecoverJob creates a recover job.
func NewRecoverJob(engine *lifecycle.Engine, opts ...Option) *RecoverJob {
	o := buildOptions(opts)
	return &RecoverJob{engine: engine, retry: o.retry, logger: o.logger}
}

// Run replays every open intent.
func (j *RecoverJob) Run(ctx context.Context, sess docstore.Session) (lifecycle.RecoveryReport, error) {
	var report lifecycle.RecoveryReport
	err := docstore.RetryUnavailable(ctx, j.retry, func(ctx context.Context) error {
		var err error
		report, err = j.engine.Recover(ctx, sess)
		return err
	})
	if n := len(report.Results); n > 0 {
		j.logger.Info("recover run",
			"session", sess.ID,
			"completed", report.Count(lifecycle.RecoveryCompleted),
			"abandoned", report.Count(lifecycle.RecoveryAbandoned),
			"failed", report.Count(lifecycle.RecoveryFailed),
		)
	}
	return report, err
}
