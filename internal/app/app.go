// Package app builds postbox's components from a Config and owns their
// lifetime.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/postbox/internal/archive"
	"github.com/roach88/postbox/internal/assets"
	"github.com/roach88/postbox/internal/config"
	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/httpapi"
	"github.com/roach88/postbox/internal/lifecycle"
	"github.com/roach88/postbox/internal/message"
	"github.com/roach88/postbox/internal/metrics"
	"github.com/roach88/postbox/internal/pipeline"
	"github.com/roach88/postbox/internal/scheduler"
	"github.com/roach88/postbox/internal/site"
	"github.com/roach88/postbox/internal/telegram"
)

// App is a fully wired postbox instance.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Store    *docstore.Store
	Engine   *lifecycle.Engine
	Policy   *archive.Policy
	Renderer *site.Renderer

	IngestJob  *pipeline.IngestJob // nil without a Telegram token
	PublishJob *pipeline.PublishJob
	RecoverJob *pipeline.RecoverJob

	closers []func() error
}

type options struct {
	backend  docstore.Backend
	clock    message.Clock
	telegram []telegram.ClientOption
}

// Option configures New.
type Option func(*options)

// WithBackend uses b instead of the configured backend.
func WithBackend(b docstore.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithClock stamps times from c.
func WithClock(c message.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithTelegramOptions passes options to the Telegram client.
func WithTelegramOptions(opts ...telegram.ClientOption) Option {
	return func(o *options) { o.telegram = append(o.telegram, opts...) }
}

// New wires every component for cfg.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	a.Metrics = metrics.New(a.Registry)

	backend := o.backend
	if backend == nil {
		b, closer, err := OpenBackend(cfg.Store)
		if err != nil {
			return nil, err
		}
		backend = b
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}

	a.Store = docstore.New(backend, message.NewRegistry(o.clock),
		docstore.WithLogger(logger.With("component", "store")),
		docstore.WithMetrics(a.Metrics),
	)

	engineOpts := []lifecycle.Option{
		lifecycle.WithLogger(logger.With("component", "lifecycle")),
		lifecycle.WithMetrics(a.Metrics),
	}
	var client *telegram.Client
	if cfg.Telegram.Token != "" {
		copts := o.telegram
		if cfg.Telegram.APIURL != "" {
			copts = append([]telegram.ClientOption{telegram.WithAPIURL(cfg.Telegram.APIURL)}, copts...)
		}
		c, err := telegram.NewClient(cfg.Telegram.Token, copts...)
		if err != nil {
			return nil, err
		}
		client = c
		assetOpts := []assets.Option{assets.WithLogger(logger.With("component", "assets"))}
		if cfg.Telegram.MaxImageBytes > 0 {
			assetOpts = append(assetOpts, assets.WithMaxBytes(cfg.Telegram.MaxImageBytes))
		}
		engineOpts = append(engineOpts, lifecycle.WithAssets(
			assets.New(client, assets.NewUploader(a.Store), assetOpts...),
		))
	}
	a.Engine = lifecycle.New(a.Store, engineOpts...)

	a.Policy = archive.New(a.Store,
		archive.WithLogger(logger.With("component", "archive")),
		archive.WithMetrics(a.Metrics),
	)
	a.Renderer = site.NewRenderer(a.Store,
		site.WithLogger(logger.With("component", "site")),
		site.WithPostsDir(cfg.Site.PostsDir),
	)

	jobOpts := []pipeline.Option{
		pipeline.WithLogger(logger.With("component", "pipeline")),
		pipeline.WithLimits(cfg.Limits()),
	}
	a.PublishJob = pipeline.NewPublishJob(a.Engine, a.Renderer, a.Policy, jobOpts...)
	a.RecoverJob = pipeline.NewRecoverJob(a.Engine, jobOpts...)
	if client != nil {
		source := telegram.NewSource(client, a.Store,
			telegram.WithSourceLogger(logger.With("component", "telegram")),
			telegram.WithPollTimeout(cfg.PollTimeout()),
			telegram.WithAllowedChats(cfg.Telegram.AllowedChats...),
		)
		a.IngestJob = pipeline.NewIngestJob(source, a.Engine, jobOpts...)
	}
	return a, nil
}

// OpenBackend opens the configured backend. The returned closer may be nil.
func OpenBackend(cfg config.StoreConfig) (docstore.Backend, func() error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return docstore.NewMemoryBackend(), nil, nil
	case config.BackendFile:
		b, err := docstore.NewFileBackend(cfg.Path)
		return b, nil, err
	case config.BackendSQLite:
		b, err := docstore.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case config.BackendGitHub:
		b, err := docstore.NewGitHubBackend(docstore.GitHubConfig{
			Owner:             cfg.GitHub.Owner,
			Repo:              cfg.GitHub.Repo,
			Branch:            cfg.GitHub.Branch,
			Token:             cfg.GitHub.Token,
			APIURL:            cfg.GitHub.APIURL,
			RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
			Burst:             cfg.GitHub.Burst,
		})
		return b, nil, err
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// Session starts a session for the configured actor.
func (a *App) Session() docstore.Session {
	return docstore.NewSession(a.Config.Actor)
}

// Server builds the review API.
func (a *App) Server() *httpapi.Server {
	return httpapi.New(a.Engine, a.Policy,
		httpapi.WithLogger(a.Logger.With("component", "http")),
		httpapi.WithLimits(a.Config.Limits()),
		httpapi.WithGatherer(a.Registry),
		httpapi.WithPublisher(a.PublishJob),
		httpapi.WithDefaultActor(a.Config.Actor),
	)
}

// Scheduler registers the configured jobs. A job with an empty schedule,
// or ingestion without a Telegram token, is left out.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	s := scheduler.New(scheduler.WithLogger(a.Logger.With("component", "scheduler")))
	jobs := []scheduler.Job{
		{Name: "publish", Spec: a.Config.Schedule.Publish, Run: func(ctx context.Context) error {
			_, err := a.PublishJob.Run(ctx, a.Session())
			return err
		}},
		{Name: "recover", Spec: a.Config.Schedule.Recover, Run: func(ctx context.Context) error {
			_, err := a.RecoverJob.Run(ctx, a.Session())
			return err
		}},
	}
	if a.IngestJob != nil {
		jobs = append(jobs, scheduler.Job{Name: "ingest", Spec: a.Config.Schedule.Ingest, Run: func(ctx context.Context) error {
			_, err := a.IngestJob.Run(ctx, a.Session())
			return err
		}})
	}
	for _, j := range jobs {
		if j.Spec == "" {
			continue
		}
		if err := s.Add(j); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Serve runs the review API and the scheduler until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	sched, err := a.Scheduler()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              a.Config.Server.Addr,
		Handler:           a.Server().Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 2)
	go func() {
		a.Logger.Info("review API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()
	if len(sched.Jobs()) > 0 {
		go func() {
			if err := sched.Run(ctx); err != nil {
				errs <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errs:
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdown); serr != nil && err == nil {
		err = serr
	}
	return err
}

// Close releases resources opened by New.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
