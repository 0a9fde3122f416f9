package tracker

import (
	"sync"
	"time"
)

// Backoff is the growing send interval. Each focused cycle lengthens the
// wait by a fixed increment.
type Backoff struct {
	Current   time.Duration
	Increment time.Duration
}

// NextInterval returns the interval that follows current.
func NextInterval(current, increment time.Duration) time.Duration {
	return current + increment
}

// Advance moves to the next interval and returns it.
func (b *Backoff) Advance() time.Duration {
	b.Current = NextInterval(b.Current, b.Increment)
	return b.Current
}

// scheduler owns the timers of one tracker so they can be stopped together.
type scheduler struct {
	clock Clock

	mu      sync.Mutex
	timers  map[int]Timer
	nextID  int
	stopped bool
}

func newScheduler(clock Clock) *scheduler {
	return &scheduler{clock: clock, timers: make(map[int]Timer)}
}

// after runs fn once after d.
func (s *scheduler) after(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	id := s.nextID
	s.nextID++
	s.timers[id] = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		stopped := s.stopped
		s.mu.Unlock()
		if !stopped {
			fn()
		}
	})
}

// every runs fn each period until fn returns false or the scheduler stops.
func (s *scheduler) every(period time.Duration, fn func() bool) {
	s.after(period, func() {
		if fn() {
			s.every(period, fn)
		}
	})
}

// loop runs fn after a delay computed before each cycle.
func (s *scheduler) loop(delay func() time.Duration, fn func()) {
	s.after(delay(), func() {
		fn()
		s.loop(delay, fn)
	})
}

func (s *scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
