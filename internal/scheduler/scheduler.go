// Package scheduler runs named jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Job is a named unit of work with a cron expression.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler fires jobs at their next cron tick. A job never overlaps with
// itself: a run that outlasts its interval delays the following tick.
type Scheduler struct {
	mu     sync.Mutex
	jobs   []Job
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
	logger *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock replaces time.Now and time.After.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
		s.after = after
	}
}

// New creates an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		now:    func() time.Time { return time.Now().UTC() },
		after:  time.After,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate reports whether spec is a usable cron expression.
func Validate(spec string) error {
	if spec == "" || !gronx.IsValid(spec) {
		return fmt.Errorf("invalid cron expression %q", spec)
	}
	return nil
}

// Add registers a job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: no run function", job.Name)
	}
	if err := Validate(job.Spec); err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Name == job.Name {
			return fmt.Errorf("job %s already registered", job.Name)
		}
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Jobs lists registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name
	}
	return names
}

// Next is the first tick of the named job strictly after t.
func (s *Scheduler) Next(name string, t time.Time) (time.Time, error) {
	job, ok := s.job(name)
	if !ok {
		return time.Time{}, fmt.Errorf("unknown job %s", name)
	}
	return gronx.NextTickAfter(job.Spec, t, false)
}

// RunNow runs the named job once, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	job, ok := s.job(name)
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}
	return s.runJob(ctx, job)
}

// Run drives every registered job until ctx is cancelled, then waits for
// in-flight runs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()
	if len(jobs) == 0 {
		return fmt.Errorf("no jobs scheduled")
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	s.logger.Info("scheduler started", "jobs", len(jobs))
	wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	for {
		next, err := gronx.NextTickAfter(job.Spec, s.now(), false)
		if err != nil {
			s.logger.Error("next tick failed", "job", job.Name, "spec", job.Spec, "error", err)
			return
		}
		s.logger.Debug("job scheduled", "job", job.Name, "next", next)

		select {
		case <-ctx.Done():
			return
		case <-s.after(next.Sub(s.now())):
		}
		if ctx.Err() != nil {
			return
		}
		if err := s.runJob(ctx, job); err != nil {
			s.logger.Error("job failed", "job", job.Name, "error", err)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) (err error) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
		s.logger.Debug("job finished", "job", job.Name, "elapsed", s.now().Sub(start))
	}()
	return job.Run(ctx)
}

func (s *Scheduler) job(name string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Name == name {
			return j, true
		}
	}
	return Job{}, false
}
