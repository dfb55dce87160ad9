package pipeline

import (
	"log/slog"

	"github.com/roach88/postbox/internal/archive"
	"github.com/roach88/postbox/internal/docstore"
)

type options struct {
	retry  docstore.RetryPolicy
	limits archive.Limits
	logger *slog.Logger
}

// Option configures a job.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRetryPolicy sets the backoff used for store outages.
func WithRetryPolicy(p docstore.RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithLimits sets the archive thresholds applied after publishing.
func WithLimits(l archive.Limits) Option {
	return func(o *options) { o.limits = l }
}

func buildOptions(opts []Option) options {
	o := options{
		retry:  docstore.DefaultRetryPolicy,
		limits: archive.DefaultLimits,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
