package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrTooManyFailures stops the scheduler after MaxFailedCycles in a row.
var ErrTooManyFailures = errors.New("too many consecutive failed monitoring cycles")

// Runner runs one monitoring cycle.
type Runner interface {
	Run(ctx context.Context, opts RunOptions) (*Report, error)
}

// Scheduler runs a cycle immediately and then on every interval tick.
type Scheduler struct {
	runner          Runner
	interval        time.Duration
	opts            RunOptions
	maxFailedCycles int
	failedCycles    int
	logger          *zap.Logger
	done            chan struct{}
	stopOnce        sync.Once
}

// NewScheduler creates a scheduler. maxFailedCycles of zero disables the
// consecutive failure limit.
func NewScheduler(runner Runner, interval time.Duration, opts RunOptions, maxFailedCycles int, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.MonitoringID = ""
	return &Scheduler{
		runner:          runner,
		interval:        interval,
		opts:            opts,
		maxFailedCycles: maxFailedCycles,
		logger:          logger,
		done:            make(chan struct{}),
	}
}

// Start blocks until ctx is done, Stop is called, or the failure limit is
// reached.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("starting monitoring scheduler", zap.Duration("interval", s.interval))

	if err := s.tick(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitoring scheduler stopped", zap.Error(ctx.Err()))
			return nil

		case <-s.done:
			s.logger.Info("monitoring scheduler stopped")
			return nil

		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	report, err := s.runner.Run(ctx, s.opts)
	if err == nil && report.Success {
		s.failedCycles = 0 // Reset on a successful cycle.
		return nil
	}

	s.failedCycles++
	fields := []zap.Field{zap.Int("attempt", s.failedCycles), zap.Int("max", s.maxFailedCycles)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	} else {
		fields = append(fields, zap.String("monitoring_id", report.MonitoringID), zap.Strings("errors", report.Errors))
	}
	s.logger.Warn("monitoring cycle failed", fields...)

	if s.maxFailedCycles > 0 && s.failedCycles >= s.maxFailedCycles {
		s.logger.Error("max failed cycles reached, stopping scheduler")
		s.Stop()
		return ErrTooManyFailures
	}
	return nil
}

// Stop signals the scheduler to stop. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}
