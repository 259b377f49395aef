package dct

import (
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

// Task is a handle to a scheduled callback.
type Task interface {
	// Cancel prevents any further runs. It is safe to call more than once.
	Cancel()

	// Cancelled reports whether Cancel has been called.
	Cancelled() bool
}

// Scheduler runs callbacks after a delay or at a fixed interval.
//
// Tasks with a non-empty name are unique: arming a name cancels the
// pending task of that name first. Tasks with an empty name are
// anonymous and can only be cancelled through their handle or Stop.
type Scheduler interface {
	After(name string, d time.Duration, fn func()) Task
	Every(name string, d time.Duration, fn func()) Task
	Cancel(name string)
	Stop()
}

// Ensure ClockScheduler implements Scheduler.
var _ Scheduler = (*ClockScheduler)(nil)

// ClockScheduler is the production Scheduler.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Callbacks run on their own goroutine, never on the clock's, so a
//     callback may arm or cancel other tasks.
//   - Ticks of one Every task run sequentially.
type ClockScheduler struct {
	clock clock.WithTickerAndDelayedExecution

	mu      sync.Mutex
	named   map[string]*clockTask
	live    map[*clockTask]struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewClockScheduler creates a scheduler on the given clock. A nil clock
// uses the real wall clock.
func NewClockScheduler(c clock.WithTickerAndDelayedExecution) *ClockScheduler {
	if c == nil {
		c = clock.RealClock{}
	}
	return &ClockScheduler{
		clock: c,
		named: make(map[string]*clockTask),
		live:  make(map[*clockTask]struct{}),
	}
}

type clockTask struct {
	s         *ClockScheduler
	name      string
	timer     clock.Timer
	ticker    clock.Ticker
	done      chan struct{}
	once      sync.Once
	cancelled atomic.Bool
}

func (t *clockTask) Cancel() {
	t.once.Do(func() {
		t.cancelled.Store(true)
		close(t.done)
		t.s.stopClock(t)
	})
	t.s.forget(t)
}

func (t *clockTask) Cancelled() bool {
	return t.cancelled.Load()
}

// After runs fn once after d.
func (s *ClockScheduler) After(name string, d time.Duration, fn func()) Task {
	t := s.register(name)
	if t.Cancelled() {
		return t
	}

	timer := s.clock.AfterFunc(d, func() {
		s.spawn(func() { s.fireOnce(t, fn) })
	})

	s.mu.Lock()
	t.timer = timer
	s.mu.Unlock()
	if t.Cancelled() {
		timer.Stop()
	}
	return t
}

// Every runs fn every d until cancelled. The first run is after d.
func (s *ClockScheduler) Every(name string, d time.Duration, fn func()) Task {
	t := s.register(name)
	if t.Cancelled() {
		return t
	}

	ticker := s.clock.NewTicker(d)

	s.mu.Lock()
	t.ticker = ticker
	s.mu.Unlock()
	if t.Cancelled() {
		ticker.Stop()
		return t
	}

	s.spawn(func() {
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C():
				if t.Cancelled() {
					return
				}
				fn()
			}
		}
	})
	return t
}

// Cancel cancels the named task, if any.
func (s *ClockScheduler) Cancel(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	t := s.named[name]
	s.mu.Unlock()
	if t != nil {
		t.Cancel()
	}
}

// Stop cancels every task and waits for running callbacks to return.
// Tasks armed after Stop are cancelled immediately.
func (s *ClockScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	tasks := make([]*clockTask, 0, len(s.live))
	for t := range s.live {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	s.wg.Wait()
}

func (s *ClockScheduler) register(name string) *clockTask {
	t := &clockTask{s: s, name: name, done: make(chan struct{})}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		t.Cancel()
		return t
	}
	prev := s.named[name]
	if name != "" {
		s.named[name] = t
	}
	s.live[t] = struct{}{}
	s.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	return t
}

func (s *ClockScheduler) forget(t *clockTask) {
	s.mu.Lock()
	delete(s.live, t)
	if t.name != "" && s.named[t.name] == t {
		delete(s.named, t.name)
	}
	s.mu.Unlock()
}

// spawn runs fn on a tracked goroutine unless the scheduler is stopped.
func (s *ClockScheduler) spawn(fn func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *ClockScheduler) stopClock(t *clockTask) {
	s.mu.Lock()
	timer, ticker := t.timer, t.ticker
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if ticker != nil {
		ticker.Stop()
	}
}

func (s *ClockScheduler) fireOnce(t *clockTask, fn func()) {
	if t.Cancelled() {
		return
	}
	s.forget(t)
	fn()
}
