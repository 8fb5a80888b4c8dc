package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunStopsBetweenTicks(t *testing.T) {
	stop := make(chan struct{})
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	var ticks []uint64
	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background(), stop, func(ctx context.Context, seq uint64) {
			ticks = append(ticks, seq)
			close(stop)
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not exit after stop")
	}

	if len(ticks) != 1 || ticks[0] != 1 {
		t.Fatalf("expected exactly one tick, got %v", ticks)
	}
}

func TestRunRepeatsAtInterval(t *testing.T) {
	stop := make(chan struct{})
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	count := 0
	err := s.Run(context.Background(), stop, func(ctx context.Context, seq uint64) {
		count++
		if seq == 3 {
			close(stop)
		}
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 ticks, got %d", count)
	}
}

func TestRunStopDuringStartupDelay(t *testing.T) {
	stop := make(chan struct{})
	close(stop)
	s := New(Options{Interval: time.Second, StartupDelay: time.Hour}, zerolog.Nop())

	err := s.Run(context.Background(), stop, func(ctx context.Context, seq uint64) {
		t.Fatal("tick must not run after stop")
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	err := s.Run(ctx, make(chan struct{}), func(ctx context.Context, seq uint64) {
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}
