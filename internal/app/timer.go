package app

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Timer schedules delayed UI work such as paced check-in questions.
type Timer interface {
	// ScheduleAfter runs fn after delay and returns an id usable with Cancel.
	ScheduleAfter(delay time.Duration, fn func()) (string, error)
	// Cancel stops a scheduled function. Unknown ids are ignored.
	Cancel(id string) error
	// Stop cancels every scheduled function.
	Stop()
}

// SimpleTimer implements Timer with time.AfterFunc.
type SimpleTimer struct {
	timers map[string]*time.Timer
	mu     sync.Mutex
	nextID int64
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	return &SimpleTimer{timers: make(map[string]*time.Timer)}
}

// ScheduleAfter schedules fn to run after delay.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("nil timer function")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)

	timer := time.AfterFunc(delay, func() {
		t.mu.Lock()
		_, live := t.timers[id]
		delete(t.timers, id)
		t.mu.Unlock()
		if !live {
			return
		}
		slog.Debug("SimpleTimer: executing scheduled function", "id", id)
		fn()
	})
	t.timers[id] = timer
	slog.Debug("SimpleTimer.ScheduleAfter: scheduled", "id", id, "delay", delay)
	return id, nil
}

// Cancel cancels a scheduled function by id.
func (t *SimpleTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[id]; ok {
		timer.Stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer.Cancel: cancelled", "id", id)
	}
	return nil
}

// Stop cancels all scheduled timers.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, timer := range t.timers {
		timer.Stop()
	}
	slog.Debug("SimpleTimer.Stop: stopped all timers", "count", len(t.timers))
	t.timers = make(map[string]*time.Timer)
}
