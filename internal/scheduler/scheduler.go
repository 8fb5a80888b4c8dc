package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per iteration. seq starts at 1.
type TickFunc func(ctx context.Context, seq uint64)

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
}

// Scheduler runs ticks strictly sequentially: a tick, then a full interval of sleep.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking tick until stop is closed or ctx is cancelled.
// stop is only checked between ticks; a tick in progress always completes.
// A closed stop returns nil, a cancelled ctx returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context, stop <-chan struct{}, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.sleep(ctx, stop, s.opts.StartupDelay); err != nil || stopped(stop) {
			return err
		}
	}

	var seq uint64
	for {
		if stopped(stop) {
			s.logger.Info().Uint64("iterations", seq).Msg("stop requested; scheduler exiting")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		seq++
		tick(ctx, seq)

		s.logger.Debug().Dur("interval", s.opts.Interval).Msg("waiting for next iteration")
		if err := s.sleep(ctx, stop, s.opts.Interval); err != nil {
			return err
		}
	}
}

func (s *Scheduler) sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return nil
	case <-timer.C:
		return nil
	}
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
