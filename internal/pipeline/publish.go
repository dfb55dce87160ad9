package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/postbox/internal/archive"
	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/lifecycle"
	"github.com/roach88/postbox/internal/message"
	"github.com/roach88/postbox/internal/project"
	"github.com/roach88/postbox/internal/site"
)

// PublishResult is the outcome for one approved message.
type PublishResult struct {
	ID    string `json:"id"`
	Path  string `json:"path,omitempty"`
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// PublishReport describes one publish run.
type PublishReport struct {
	Results   []PublishResult  `json:"results"`
	Published int              `json:"published"`
	Failed    int              `json:"failed"`
	Sweeps    []archive.Report `json:"sweeps"`
}

func (r *PublishReport) add(res PublishResult) {
	if res.Err != nil {
		res.Error = res.Err.Error()
		r.Failed++
	} else {
		r.Published++
	}
	r.Results = append(r.Results, res)
}

// PublishJob renders approved messages, moves them to published and then
// sweeps the published and rejected collections.
type PublishJob struct {
	engine   *lifecycle.Engine
	renderer *site.Renderer
	policy   *archive.Policy
	limits   archive.Limits
	retry    docstore.RetryPolicy
	logger   *slog.Logger
}

// NewPublishJob creates a publish job.
func NewPublishJob(engine *lifecycle.Engine, renderer *site.Renderer, policy *archive.Policy, opts ...Option) *PublishJob {
	o := buildOptions(opts)
	return &PublishJob{
		engine:   engine,
		renderer: renderer,
		policy:   policy,
		limits:   o.limits,
		retry:    o.retry,
		logger:   o.logger,
	}
}

// Run publishes every approved message. A message that fails is reported
// and stays approved for the next run. The returned error covers reading
// the approved collection and sweeping.
func (j *PublishJob) Run(ctx context.Context, sess docstore.Session) (PublishReport, error) {
	var approved docstore.Collection
	err := docstore.RetryUnavailable(ctx, j.retry, func(ctx context.Context) error {
		var err error
		approved, err = j.engine.Store().Read(ctx, message.CollectionApproved)
		return err
	})
	if err != nil {
		return PublishReport{}, fmt.Errorf("read approved: %w", err)
	}

	report := PublishReport{Results: make([]PublishResult, 0, len(approved.Messages))}
	for _, m := range approved.Messages {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.add(j.publish(ctx, sess, m))
	}

	err = docstore.RetryUnavailable(ctx, j.retry, func(ctx context.Context) error {
		var err error
		report.Sweeps, err = j.policy.SweepAll(ctx, sess, j.limits)
		return err
	})
	if err != nil {
		return report, fmt.Errorf("sweep: %w", err)
	}

	j.logger.Info("publish run",
		"session", sess.ID,
		"published", report.Published,
		"failed", report.Failed,
	)
	return report, nil
}

// PublishOne publishes a single approved message by id.
func (j *PublishJob) PublishOne(ctx context.Context, sess docstore.Session, id string) (PublishResult, error) {
	var (
		m   message.Message
		col message.Collection
	)
	err := docstore.RetryUnavailable(ctx, j.retry, func(ctx context.Context) error {
		var err error
		m, col, err = j.engine.Locate(ctx, id)
		return err
	})
	if err != nil {
		return PublishResult{ID: id, Err: err, Error: err.Error()}, err
	}
	switch col {
	case message.CollectionApproved:
	case message.CollectionPublished:
		return PublishResult{ID: id}, nil
	default:
		err := &message.InvalidTransitionError{ID: id, From: m.Status, To: message.StatusPublished}
		return PublishResult{ID: id, Err: err, Error: err.Error()}, err
	}
	res := j.publish(ctx, sess, m)
	return res, res.Err
}

func (j *PublishJob) publish(ctx context.Context, sess docstore.Session, m message.Message) PublishResult {
	res := PublishResult{ID: m.ID}
	err := docstore.RetryUnavailable(ctx, j.retry, func(ctx context.Context) error {
		rendered, err := j.renderer.Render(ctx, sess, project.Project(m))
		if err != nil {
			return err
		}
		res.Path = rendered.Path
		_, err = j.engine.Apply(ctx, sess, message.TransitionRequest{ID: m.ID, Action: message.ActionPublish})
		return err
	})
	if err != nil {
		j.logger.Warn("publish failed", "id", m.ID, "error", err)
		res.Err = err
		res.Error = err.Error()
	}
	return res
}
