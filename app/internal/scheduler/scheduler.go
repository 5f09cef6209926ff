// Package scheduler runs the periodic jobs: device sweep, schedule refresh
// and the weekly chart tick.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration // per run; defaults to Interval
	Run      func(ctx context.Context) error
}

// SchemaFunc makes sure the tables exist before a run.
type SchemaFunc func(ctx context.Context) error

// Scheduler runs each job on its own ticker. A job never overlaps itself:
// ticks that fire while a run is in progress are dropped.
type Scheduler struct {
	ensure SchemaFunc
	log    *zap.Logger
	jobs   []Job
	wg     sync.WaitGroup
}

// New creates a Scheduler. ensure may be nil.
func New(ensure SchemaFunc, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{ensure: ensure, log: log}
}

// Add registers a job. Jobs added after Start are not run.
func (s *Scheduler) Add(job Job) {
	if job.Timeout <= 0 {
		job.Timeout = job.Interval
	}
	s.jobs = append(s.jobs, job)
}

// Start runs every job once right away and then on its interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
		s.log.Info("job started", zap.String("job", job.Name), zap.Duration("interval", job.Interval))
	}
}

// Wait blocks until every job loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	s.RunOnce(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("job stopped", zap.String("job", job.Name))
			return
		case <-ticker.C:
			s.RunOnce(ctx, job)
		}
	}
}

// RunOnce executes one run of job and logs its outcome. A panic inside the
// job is logged and does not stop the loop.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) (err error) {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log := s.log.With(zap.String("job", job.Name))
	start := time.Now()

	runCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
			log.Error("job panicked", zap.Any("panic", r))
		}
	}()

	if s.ensure != nil {
		if err := s.ensure(runCtx); err != nil {
			log.Error("ensure schema failed, run skipped", zap.Error(err))
			return err
		}
	}
	if err := job.Run(runCtx); err != nil {
		log.Error("job failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		return err
	}
	log.Debug("job done", zap.Duration("took", time.Since(start)))
	return nil
}
