package schedule_test

import (
	"strings"
	"testing"
	"time"

	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/schedule"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/schedule/scheduletest"
)

func TestTimerFiresOnce(t *testing.T) {
	clock := scheduletest.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	timer := schedule.NewTimer("poll", clock, nil)

	fired := 0
	tok := timer.Arm(60*time.Second, func(got schedule.Token) {
		fired++
		if !timer.Valid(got) {
			t.Fatal("expected token to be valid inside callback")
		}
	})
	if !timer.Valid(tok) {
		t.Fatal("expected armed token to be valid")
	}

	clock.Advance(59 * time.Second)
	if fired != 0 {
		t.Fatalf("fired = %d before deadline", fired)
	}
	clock.Advance(time.Second)
	clock.Advance(time.Hour)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
}

func TestTimerCancelPreventsCallback(t *testing.T) {
	clock := scheduletest.NewClock(time.Unix(0, 0))
	timer := schedule.NewTimer("discussion", clock, nil)

	fired := false
	tok := timer.Arm(time.Second, func(schedule.Token) { fired = true })
	if !timer.Cancel() {
		t.Fatal("expected Cancel to report a pending callback")
	}
	if timer.Cancel() {
		t.Fatal("expected second Cancel to be a no-op")
	}
	if timer.Valid(tok) {
		t.Fatal("expected cancelled token to be invalid")
	}
	clock.Advance(time.Minute)
	if fired {
		t.Fatal("cancelled callback fired")
	}
	if clock.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", clock.Pending())
	}
}

func TestTimerRearmInvalidatesPreviousToken(t *testing.T) {
	clock := scheduletest.NewClock(time.Unix(0, 0))
	timer := schedule.NewTimer("poll", clock, nil)

	var calls []string
	first := timer.Arm(10*time.Second, func(schedule.Token) { calls = append(calls, "first") })
	second := timer.Arm(25*time.Second, func(schedule.Token) { calls = append(calls, "second") })
	if timer.Valid(first) {
		t.Fatal("expected re-armed timer to invalidate first token")
	}
	if !timer.Valid(second) {
		t.Fatal("expected second token to be valid")
	}
	clock.Advance(30 * time.Second)
	if len(calls) != 1 || calls[0] != "second" {
		t.Fatalf("calls = %v, want [second]", calls)
	}
}

func TestTimerRecoversCallbackPanic(t *testing.T) {
	clock := scheduletest.NewClock(time.Unix(0, 0))
	var logged []string
	timer := schedule.NewTimer("poll", clock, func(format string, args ...any) {
		logged = append(logged, format)
	})

	timer.Arm(time.Second, func(schedule.Token) { panic("boom") })
	clock.Advance(time.Second)

	if len(logged) != 1 || !strings.Contains(logged[0], "panic") {
		t.Fatalf("logged = %v", logged)
	}

	fired := false
	timer.Arm(time.Second, func(schedule.Token) { fired = true })
	clock.Advance(time.Second)
	if !fired {
		t.Fatal("expected timer to keep working after a panicking callback")
	}
}
