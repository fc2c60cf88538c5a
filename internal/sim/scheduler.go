package sim

import (
	"context"
	"time"
)

// Clock abstracts time for the scheduler.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// TickObserver is told how long each tick took and whether it started late.
type TickObserver func(took time.Duration, overran bool)

// Scheduler runs a tick function at a fixed rate. After each tick the
// deadline advances by exactly one period. A tick that finishes past its
// deadline makes the next one start immediately, so ticks are never skipped.
type Scheduler struct {
	period   time.Duration
	clock    Clock
	tick     func()
	observer TickObserver

	started  bool
	next     time.Time
	ticks    uint64
	overruns uint64
}

func NewScheduler(rate int, clock Clock, tick func()) *Scheduler {
	if rate <= 0 {
		rate = DefaultTickRate
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Scheduler{
		period: time.Second / time.Duration(rate),
		clock:  clock,
		tick:   tick,
	}
}

func (s *Scheduler) SetObserver(o TickObserver) {
	s.observer = o
}

func (s *Scheduler) Period() time.Duration {
	return s.period
}

func (s *Scheduler) Ticks() uint64 {
	return s.ticks
}

func (s *Scheduler) Overruns() uint64 {
	return s.overruns
}

// RunOnce executes one tick and then waits for the next deadline. It
// returns how long it slept.
func (s *Scheduler) RunOnce() time.Duration {
	slept, _ := s.step(context.Background())
	return slept
}

// Run ticks until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if _, err := s.step(ctx); err != nil {
			return nil
		}
	}
}

func (s *Scheduler) step(ctx context.Context) (time.Duration, error) {
	if !s.started {
		s.next = s.clock.Now()
		s.started = true
	}
	start := s.clock.Now()
	s.tick()
	s.ticks++
	s.next = s.next.Add(s.period)

	now := s.clock.Now()
	overran := now.After(s.next)
	if overran {
		s.overruns++
	}
	if s.observer != nil {
		s.observer(now.Sub(start), overran)
	}
	wait := s.next.Sub(now)
	if wait <= 0 {
		return 0, nil
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.clock.After(wait):
		return wait, nil
	}
}
