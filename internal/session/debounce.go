package session

import (
	"sync"
	"time"
)

// Scheduler decides when a scheduled auto-save task runs. Schedule replaces
// any pending task; Cancel drops it without running it.
type Scheduler interface {
	Schedule(task func())
	Cancel()
}

// TimerScheduler debounces: the task runs after a quiet period with no new
// Schedule calls. Rapid successive calls reset the timer.
type TimerScheduler struct {
	mu       sync.Mutex
	timer    *time.Timer
	duration time.Duration
}

// NewTimerScheduler creates a scheduler with the given quiet period.
func NewTimerScheduler(duration time.Duration) *TimerScheduler {
	return &TimerScheduler{duration: duration}
}

// Schedule arms the timer, replacing any pending task.
func (s *TimerScheduler) Schedule(task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.duration, task)
}

// Cancel drops any pending task.
func (s *TimerScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// ImmediateScheduler runs each task synchronously in the calling goroutine.
// Used by tests and by consumers that want every edit written through.
type ImmediateScheduler struct{}

func (ImmediateScheduler) Schedule(task func()) { task() }

func (ImmediateScheduler) Cancel() {}

// NopScheduler discards scheduled tasks. For read-only consumers that load
// but never want an auto-save to fire.
type NopScheduler struct{}

func (NopScheduler) Schedule(task func()) {}

func (NopScheduler) Cancel() {}
