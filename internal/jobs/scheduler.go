// Package jobs runs the daemon's periodic maintenance work on cron
// schedules: rule analysis, approved fact injection and queue archival.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Disabled as a schedule skips the job.
const Disabled = "-"

// Job is one named unit of periodic work.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler runs registered jobs on their cron schedules.
//
// A job never overlaps with itself: a run still in progress when the next
// activation fires causes that activation to be skipped. Panics inside a
// job are recovered and logged.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu   sync.Mutex
	jobs map[string]Job
	ctx  context.Context
}

// NewScheduler creates a scheduler using standard five-field cron specs
// and descriptors such as @hourly.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		), cron.WithLogger(cl)),
		logger: logger,
		jobs:   make(map[string]Job),
		ctx:    context.Background(),
	}
}

// Add registers job. An empty or Disabled schedule is ignored and
// reported as false.
func (s *Scheduler) Add(job Job) (bool, error) {
	if job.Name == "" || job.Run == nil {
		return false, errors.New("job needs a name and a run function")
	}
	if job.Schedule == "" || job.Schedule == Disabled {
		s.logger.Info("job disabled", zap.String("job", job.Name))
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.Name]; dup {
		return false, fmt.Errorf("job %s already registered", job.Name)
	}
	if _, err := s.cron.AddFunc(job.Schedule, func() { s.execute(job) }); err != nil {
		return false, fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Schedule, err)
	}
	s.jobs[job.Name] = job
	s.logger.Info("job scheduled", zap.String("job", job.Name), zap.String("schedule", job.Schedule))
	return true, nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("job scheduler started", zap.Int("jobs", n))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("job scheduler stopped")
	return nil
}

// RunNow executes the named job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}
	return s.run(ctx, job)
}

func (s *Scheduler) execute(job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	_ = s.run(ctx, job)
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)

	JobDuration.WithLabelValues(job.Name).Observe(elapsed.Seconds())
	if err != nil {
		JobRuns.WithLabelValues(job.Name, "error").Inc()
		s.logger.Error("job failed", zap.String("job", job.Name), zap.Duration("duration", elapsed), zap.Error(err))
		return err
	}
	JobRuns.WithLabelValues(job.Name, "success").Inc()
	s.logger.Info("job completed", zap.String("job", job.Name), zap.Duration("duration", elapsed))
	return nil
}

// cronLogger adapts zap to the cron.Logger interface.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
