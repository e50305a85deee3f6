package app

import (
	"testing"
	"time"
)

func TestHub_ReplaysAfterLastID(t *testing.T) {
	hub := NewHub(0)
	hub.Emit(EffectTheme, ThemeData{Theme: "dark"})
	hub.Emit(EffectClearOptions, struct{}{})
	hub.Emit(EffectInputEnabled, InputEnabledData{Enabled: true})

	replay, ch, cancel := hub.Subscribe(1)
	defer cancel()
	if len(replay) != 2 || replay[0].ID != 2 || replay[1].Name != EffectInputEnabled {
		t.Fatalf("unexpected replay %+v", replay)
	}

	hub.Emit(EffectLanguageChanged, LanguageChangedData{Language: "fr"})
	select {
	case eff := <-ch:
		if eff.ID != 4 || eff.Name != EffectLanguageChanged {
			t.Errorf("unexpected live effect %+v", eff)
		}
	case <-time.After(time.Second):
		t.Fatal("live effect not delivered")
	}
}

// retained returns every effect the hub still holds for replay.
func retained(hub *Hub) []Effect {
	replay, _, cancel := hub.Subscribe(0)
	cancel()
	return replay
}

func TestHub_BoundedHistory(t *testing.T) {
	hub := NewHub(3)
	for i := 0; i < 5; i++ {
		hub.Emit(EffectClearOptions, nil)
	}
	history := retained(hub)
	if len(history) != 3 || history[0].ID != 3 || history[2].ID != 5 {
		t.Errorf("unexpected bounded history %+v", history)
	}
}

func TestHub_DisconnectsSlowSubscriber(t *testing.T) {
	hub := NewHub(0)
	_, ch, cancel := hub.Subscribe(0)
	defer cancel()
	for i := 0; i < subscriberBuffer+1; i++ {
		hub.Emit(EffectClearOptions, nil)
	}
	n := 0
	for range ch {
		n++
	}
	if n != subscriberBuffer {
		t.Errorf("expected %d buffered effects before disconnect, got %d", subscriberBuffer, n)
	}
}

func TestHub_SubscribersTracksOpenStreams(t *testing.T) {
	hub := NewHub(0)
	if hub.Subscribers() != 0 {
		t.Fatalf("new hub must have no subscribers")
	}
	_, _, cancelA := hub.Subscribe(0)
	_, _, cancelB := hub.Subscribe(0)
	if got := hub.Subscribers(); got != 2 {
		t.Errorf("expected 2 subscribers, got %d", got)
	}
	cancelA()
	cancelA()
	if got := hub.Subscribers(); got != 1 {
		t.Errorf("expected 1 subscriber after cancel, got %d", got)
	}
	hub.Close()
	if got := hub.Subscribers(); got != 0 {
		t.Errorf("closing must drop every subscriber, got %d", got)
	}
	cancelB()
}

func TestHub_CloseEndsSubscriptions(t *testing.T) {
	hub := NewHub(0)
	_, ch, _ := hub.Subscribe(0)
	hub.Close()
	if _, ok := <-ch; ok {
		t.Errorf("expected closed channel")
	}
	hub.Emit(EffectClearOptions, nil)
	if len(retained(hub)) != 0 {
		t.Errorf("emit after close must be dropped")
	}
	_, late, cancel := hub.Subscribe(0)
	cancel()
	if _, ok := <-late; ok {
		t.Errorf("subscribing to a closed hub must yield a closed channel")
	}
}

func scheduled(timer *SimpleTimer) int {
	timer.mu.Lock()
	defer timer.mu.Unlock()
	return len(timer.timers)
}

func TestSimpleTimer_RunsAndCancels(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	fired := make(chan struct{}, 1)
	if _, err := timer.ScheduleAfter(10*time.Millisecond, func() { fired <- struct{}{} }); err != nil {
		t.Fatalf("ScheduleAfter failed: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	cancelled := make(chan struct{}, 1)
	id, _ := timer.ScheduleAfter(50*time.Millisecond, func() { cancelled <- struct{}{} })
	if n := scheduled(timer); n != 1 {
		t.Errorf("expected one scheduled timer, got %d", n)
	}
	timer.Cancel(id)
	select {
	case <-cancelled:
		t.Fatal("cancelled timer fired")
	case <-time.After(100 * time.Millisecond):
	}
	if n := scheduled(timer); n != 0 {
		t.Errorf("expected no scheduled timers, got %d", n)
	}
}

func TestSimpleTimer_StopCancelsAll(t *testing.T) {
	timer := NewSimpleTimer()
	fired := make(chan struct{}, 2)
	timer.ScheduleAfter(30*time.Millisecond, func() { fired <- struct{}{} })
	timer.ScheduleAfter(30*time.Millisecond, func() { fired <- struct{}{} })
	timer.Stop()
	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(80 * time.Millisecond):
	}
}
