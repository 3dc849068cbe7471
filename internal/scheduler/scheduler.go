// Package scheduler runs IntakePipe's periodic maintenance.
//
// Jobs are named and scheduled with standard 5-field cron expressions; a
// panicking job is recovered and the schedule keeps running.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrUnknownJob is returned by Run for a name that was never added.
var ErrUnknownJob = errors.New("unknown job")

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// JobObserver is told about every finished job run.
type JobObserver func(name string, elapsed time.Duration, err error)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
	observer JobObserver

	mu   sync.Mutex
	jobs map[string]Job
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithJobObserver registers a callback for job outcomes.
func WithJobObserver(fn JobObserver) Option {
	return func(s *Scheduler) { s.observer = fn }
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, ctx: ctx, cancel: cancel, jobs: make(map[string]Job)}
	for _, opt := range opts {
		opt(s)
	}
	c.Start()
	return s
}

// AddJob schedules job under name using the provided cron expression.
// It returns an error if the expression is invalid or the name is taken.
func (s *Scheduler) AddJob(name, expr string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already scheduled", name)
	}
	if _, err := s.cron.AddFunc(expr, func() { s.run(name, job) }); err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	s.jobs[name] = job
	slog.Debug("Scheduler.AddJob: job scheduled", "name", name, "expr", expr)
	return nil
}

// Run executes a named job immediately on the caller's goroutine.
func (s *Scheduler) Run(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(name, job)
}

// Jobs returns the scheduled job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) run(name string, job Job) error {
	start := time.Now()
	err := job(s.ctx)
	elapsed := time.Since(start)
	if err != nil {
		slog.Error("Scheduler.run: job failed", "name", name, "elapsed", elapsed, "error", err)
	} else {
		slog.Debug("Scheduler.run: job finished", "name", name, "elapsed", elapsed)
	}
	if s.observer != nil {
		s.observer(name, elapsed, err)
	}
	return err
}

// Stop stops the cron scheduler, cancels running jobs and waits for them to finish.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
}
