package timing

import (
	"sync"
	"time"

	"quiz-engine/internal/domain"
)

// ResponseTimer measures submissions against the go signal of one question.
type ResponseTimer struct {
	clock  *ServerClock
	window time.Duration

	mu            sync.Mutex
	questionStart int64
	goSignal      int64
	armed         bool
}

func NewResponseTimer(clock *ServerClock, window time.Duration) *ResponseTimer {
	return &ResponseTimer{clock: clock, window: window}
}

// MarkQuestionStart records the instant the question became visible.
func (t *ResponseTimer) MarkQuestionStart() int64 {
	now := t.clock.Now()
	t.mu.Lock()
	t.questionStart = now
	t.mu.Unlock()
	return now
}

// MarkGoSignal records the instant submissions start counting.
func (t *ResponseTimer) MarkGoSignal() int64 {
	now := t.clock.Now()
	t.mu.Lock()
	t.goSignal = now
	t.armed = true
	t.mu.Unlock()
	return now
}

// QuestionStart returns the last recorded question start, 0 if none.
func (t *ResponseTimer) QuestionStart() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.questionStart
}

// GoSignal returns the armed go signal instant.
func (t *ResponseTimer) GoSignal() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.goSignal, t.armed
}

// ResponseTime returns seconds elapsed between the go signal and submissionTimestamp.
func (t *ResponseTimer) ResponseTime(submissionTimestamp int64) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return 0, domain.ErrNoGoSignal
	}
	return float64(submissionTimestamp-t.goSignal) / 1000, nil
}

// IsValid reports whether submissionTimestamp falls inside [go, go+window], both ends inclusive.
func (t *ResponseTimer) IsValid(submissionTimestamp int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return false, domain.ErrNoGoSignal
	}
	delta := submissionTimestamp - t.goSignal
	return delta >= 0 && delta <= t.window.Milliseconds(), nil
}

// Reset clears both instants for the next question.
func (t *ResponseTimer) Reset() {
	t.mu.Lock()
	t.questionStart = 0
	t.goSignal = 0
	t.armed = false
	t.mu.Unlock()
}
