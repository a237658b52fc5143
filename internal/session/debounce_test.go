package session

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerScheduler_SingleTask(t *testing.T) {
	var called int32
	sched := NewTimerScheduler(50 * time.Millisecond)

	sched.Schedule(func() {
		atomic.AddInt32(&called, 1)
	})

	time.Sleep(150 * time.Millisecond)

	if atomic.LoadInt32(&called) != 1 {
		t.Errorf("expected 1 run, got %d", called)
	}
}

func TestTimerScheduler_RapidScheduling(t *testing.T) {
	var called int32
	var lastValue int32
	sched := NewTimerScheduler(50 * time.Millisecond)

	for i := 1; i <= 10; i++ {
		value := int32(i)
		sched.Schedule(func() {
			atomic.StoreInt32(&lastValue, value)
			atomic.AddInt32(&called, 1)
		})
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)

	if atomic.LoadInt32(&called) != 1 {
		t.Errorf("expected a single coalesced run, got %d", called)
	}
	if atomic.LoadInt32(&lastValue) != 10 {
		t.Errorf("expected the last task to win, got %d", lastValue)
	}
}

func TestTimerScheduler_Cancel(t *testing.T) {
	var called int32
	sched := NewTimerScheduler(50 * time.Millisecond)

	sched.Schedule(func() {
		atomic.AddInt32(&called, 1)
	})

	time.Sleep(10 * time.Millisecond)
	sched.Cancel()

	time.Sleep(150 * time.Millisecond)

	if atomic.LoadInt32(&called) != 0 {
		t.Errorf("expected no run after cancel, got %d", called)
	}
}

func TestTimerScheduler_CancelThenReschedule(t *testing.T) {
	var called int32
	sched := NewTimerScheduler(30 * time.Millisecond)

	sched.Schedule(func() { atomic.AddInt32(&called, 1) })
	sched.Cancel()
	sched.Schedule(func() { atomic.AddInt32(&called, 1) })

	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt32(&called) != 1 {
		t.Errorf("expected exactly the rescheduled run, got %d", called)
	}
}

func TestImmediateScheduler(t *testing.T) {
	var called int32
	sched := ImmediateScheduler{}

	sched.Schedule(func() {
		atomic.AddInt32(&called, 1)
	})

	if atomic.LoadInt32(&called) != 1 {
		t.Errorf("expected synchronous run, got %d", called)
	}

	sched.Cancel() // no-op, must not panic
}

func TestNopScheduler(t *testing.T) {
	var called int32
	sched := NopScheduler{}

	sched.Schedule(func() {
		atomic.AddInt32(&called, 1)
	})
	sched.Cancel()

	time.Sleep(20 * time.Millisecond)

	if atomic.LoadInt32(&called) != 0 {
		t.Errorf("expected the task to be discarded, got %d runs", called)
	}
}
