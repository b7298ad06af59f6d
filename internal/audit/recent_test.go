package audit

import (
	"testing"
	"time"
)

func TestRecent_WrapsAndKeepsOrder(t *testing.T) {
	r := NewRecent(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		r.Log(Event{Timestamp: base.Add(time.Duration(i) * time.Second), Type: Type("t"), Message: string(rune('a' + i))})
	}

	events := r.Events(0)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	want := []string{"c", "d", "e"}
	for i, e := range events {
		if e.Message != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], e.Message)
		}
	}

	if got := r.Events(2); len(got) != 2 || got[1].Message != "e" {
		t.Errorf("expected the last two events, got %+v", got)
	}
}

func TestRecent_ErrorsSinceAndCounts(t *testing.T) {
	r := NewRecent(10)
	now := time.Now()
	r.Log(Event{Timestamp: now.Add(-2 * time.Hour), Level: LevelError, Type: RetryExhausted})
	r.Log(Event{Timestamp: now, Level: LevelCritical, Type: BreakerTripped})
	r.Log(Event{Timestamp: now, Level: LevelInfo, Type: RetryEnqueued})
	r.Log(Event{Timestamp: now, Level: LevelInfo, Type: RetryEnqueued})

	errs := r.ErrorsSince(now.Add(-time.Hour))
	if len(errs) != 1 || errs[0].Type != BreakerTripped {
		t.Errorf("expected only the recent breaker trip, got %+v", errs)
	}

	counts := r.CountsByType()
	if counts[RetryEnqueued] != 2 {
		t.Errorf("expected 2 enqueued events, got %d", counts[RetryEnqueued])
	}
}

func TestMulti_FansOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Emit(Multi{a, nil, b}, LevelInfo, SystemStarted, "", "started", nil)

	if !a.Has(SystemStarted) || !b.Has(SystemStarted) {
		t.Error("expected both recorders to receive the event")
	}
	if a.Events()[0].Timestamp.IsZero() {
		t.Error("Emit should stamp the event")
	}
}
