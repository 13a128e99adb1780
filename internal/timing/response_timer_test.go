package timing

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"quiz-engine/internal/domain"
)

func newTimer(t *testing.T) (*ResponseTimer, *ServerClock, func(time.Duration)) {
	t.Helper()
	local := clockwork.NewFakeClockAt(time.UnixMilli(50_000))
	clock := NewServerClock(local)
	return NewResponseTimer(clock, 10*time.Second), clock, local.Advance
}

func TestResponseTimeRequiresGoSignal(t *testing.T) {
	timer, _, _ := newTimer(t)

	if _, err := timer.ResponseTime(1); !errors.Is(err, domain.ErrNoGoSignal) {
		t.Fatalf("expected ErrNoGoSignal, got %v", err)
	}
	if _, err := timer.IsValid(1); !errors.Is(err, domain.ErrNoGoSignal) {
		t.Fatalf("expected ErrNoGoSignal from IsValid, got %v", err)
	}
}

func TestResponseTimeMeasuredFromGoSignal(t *testing.T) {
	timer, _, advance := newTimer(t)

	start := timer.MarkQuestionStart()
	advance(1500 * time.Millisecond)
	goAt := timer.MarkGoSignal()
	if goAt-start != 1500 {
		t.Fatalf("expected go signal 1500ms after start, got %d", goAt-start)
	}

	rt, err := timer.ResponseTime(goAt + 1250)
	if err != nil {
		t.Fatalf("response time: %v", err)
	}
	if rt != 1.25 {
		t.Fatalf("expected 1.25s, got %v", rt)
	}
}

func TestIsValidWindowBoundaries(t *testing.T) {
	timer, _, _ := newTimer(t)
	goAt := timer.MarkGoSignal()

	cases := []struct {
		name string
		ts   int64
		want bool
	}{
		{"before go signal", goAt - 1, false},
		{"at go signal", goAt, true},
		{"inside window", goAt + 4000, true},
		{"exactly at window", goAt + 10_000, true},
		{"one ms past window", goAt + 10_001, false},
	}
	for _, tc := range cases {
		got, err := timer.IsValid(tc.ts)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestResetClearsGoSignal(t *testing.T) {
	timer, _, _ := newTimer(t)
	timer.MarkQuestionStart()
	timer.MarkGoSignal()

	timer.Reset()

	if _, armed := timer.GoSignal(); armed {
		t.Fatalf("expected go signal cleared")
	}
	if timer.QuestionStart() != 0 {
		t.Fatalf("expected question start cleared")
	}
	if _, err := timer.ResponseTime(0); !errors.Is(err, domain.ErrNoGoSignal) {
		t.Fatalf("expected stale go signal to be unusable, got %v", err)
	}
}
