// Package sweeper runs the listing expiration sweep on a cron schedule.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs the sweep at the top of every hour.
const DefaultSchedule = "0 * * * *"

var (
	ErrInvalidSchedulerConfig = errors.New("invalid sweeper config")
	ErrSchedulerStarted       = errors.New("sweeper already started")
)

// Expirer is the sweep operation, satisfied by listing.Service.
type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// Recorder receives sweep outcomes, satisfied by telemetry.Metrics.
type Recorder interface {
	RecordSweep(expired int, duration time.Duration, err error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(scheduler *Scheduler) {
		if logger != nil {
			scheduler.logger = logger
		}
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(recorder Recorder) Option {
	return func(scheduler *Scheduler) {
		scheduler.recorder = recorder
	}
}

// WithTimeout bounds a single sweep run.
func WithTimeout(timeout time.Duration) Option {
	return func(scheduler *Scheduler) {
		if timeout > 0 {
			scheduler.timeout = timeout
		}
	}
}

// Scheduler triggers Expirer.ExpireStale on a cron schedule. Runs never overlap.
type Scheduler struct {
	expirer  Expirer
	schedule string
	logger   *zap.Logger
	recorder Recorder
	timeout  time.Duration

	mu      sync.Mutex
	running sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
}

// New validates the schedule and builds a Scheduler.
func New(expirer Expirer, schedule string, options ...Option) (*Scheduler, error) {
	if expirer == nil {
		return nil, fmt.Errorf("%w: expirer dependency is nil", ErrInvalidSchedulerConfig)
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %v", ErrInvalidSchedulerConfig, schedule, err)
	}
	scheduler := &Scheduler{
		expirer:  expirer,
		schedule: schedule,
		logger:   zap.NewNop(),
		timeout:  5 * time.Minute,
	}
	for _, option := range options {
		if option != nil {
			option(scheduler)
		}
	}
	return scheduler, nil
}

// Start registers the cron job and returns immediately. Stop ends it.
func (scheduler *Scheduler) Start(ctx context.Context) error {
	scheduler.mu.Lock()
	defer scheduler.mu.Unlock()
	if scheduler.cron != nil {
		return ErrSchedulerStarted
	}
	baseCtx, cancel := context.WithCancel(ctx)
	runner := cron.New(cron.WithChain(cron.Recover(cronLogger{logger: scheduler.logger})))
	if _, err := runner.AddFunc(scheduler.schedule, func() {
		if _, err := scheduler.RunOnce(baseCtx); err != nil {
			scheduler.logger.Error("scheduled sweep failed", zap.Error(err))
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrInvalidSchedulerConfig, err)
	}
	scheduler.cron = runner
	scheduler.cancel = cancel
	runner.Start()
	scheduler.logger.Info("sweeper started", zap.String("schedule", scheduler.schedule))
	return nil
}

// Stop cancels in-flight runs and waits for them to return.
func (scheduler *Scheduler) Stop() {
	scheduler.mu.Lock()
	runner, cancel := scheduler.cron, scheduler.cancel
	scheduler.cron = nil
	scheduler.cancel = nil
	scheduler.mu.Unlock()
	if runner == nil {
		return
	}
	cancel()
	<-runner.Stop().Done()
	scheduler.logger.Info("sweeper stopped")
}

// RunOnce performs a single sweep. Concurrent callers wait for the current run.
func (scheduler *Scheduler) RunOnce(ctx context.Context) (int, error) {
	scheduler.running.Lock()
	defer scheduler.running.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, scheduler.timeout)
	defer cancel()

	start := time.Now()
	expired, err := scheduler.expirer.ExpireStale(runCtx)
	duration := time.Since(start)
	if scheduler.recorder != nil {
		scheduler.recorder.RecordSweep(expired, duration, err)
	}
	if err != nil {
		return 0, err
	}
	scheduler.logger.Info("sweep finished",
		zap.Int("expired", expired),
		zap.Duration("duration", duration),
	)
	return expired, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (adapter cronLogger) Info(message string, keysAndValues ...any) {
	adapter.logger.Sugar().Debugw(message, keysAndValues...)
}

func (adapter cronLogger) Error(err error, message string, keysAndValues ...any) {
	adapter.logger.Sugar().Errorw(message, append(keysAndValues, "error", err)...)
}
