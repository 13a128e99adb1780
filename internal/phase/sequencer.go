// Package phase tracks the current phase of a game session and how long it has been active.
package phase

import (
	"fmt"
	"sync"
	"time"

	"quiz-engine/internal/domain"
	"quiz-engine/internal/timing"
)

// transitions lists the only forward moves a session can make.
var transitions = map[domain.Phase][]domain.Phase{
	domain.PhaseWaiting:     {domain.PhaseReadyCheck, domain.PhaseCountdown},
	domain.PhaseReadyCheck:  {domain.PhaseCountdown},
	domain.PhaseCountdown:   {domain.PhaseDisplay, domain.PhaseFinal},
	domain.PhaseDisplay:     {domain.PhaseBuffer},
	domain.PhaseBuffer:      {domain.PhaseAnswer},
	domain.PhaseAnswer:      {domain.PhaseResults},
	domain.PhaseResults:     {domain.PhaseDisplay, domain.PhaseLeaderboard, domain.PhaseFinal},
	domain.PhaseLeaderboard: {domain.PhaseDisplay, domain.PhaseFinal},
	domain.PhaseFinal:       {domain.PhaseFinished},
}

// CanTransition reports whether from -> to follows the permitted order.
func CanTransition(from, to domain.Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Snapshot is a consistent phase/timestamp pair.
type Snapshot struct {
	Phase     domain.Phase
	EnteredAt int64
}

// Sequencer is the phase state machine of one session. It never schedules anything itself.
type Sequencer struct {
	clock *timing.ServerClock

	mu        sync.RWMutex
	current   domain.Phase
	enteredAt int64
}

func NewSequencer(clock *timing.ServerClock) *Sequencer {
	return &Sequencer{
		clock:     clock,
		current:   domain.PhaseWaiting,
		enteredAt: clock.Now(),
	}
}

// Enter moves to next and stamps the entry time; both fields change together.
func (s *Sequencer) Enter(next domain.Phase) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.current, next) {
		return Snapshot{Phase: s.current, EnteredAt: s.enteredAt},
			fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, s.current, next)
	}
	now := s.clock.Now()
	if now < s.enteredAt {
		// local clock stepped back; keep entry times non-decreasing
		now = s.enteredAt
	}
	s.current = next
	s.enteredAt = now
	return Snapshot{Phase: next, EnteredAt: now}, nil
}

func (s *Sequencer) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Phase: s.current, EnteredAt: s.enteredAt}
}

func (s *Sequencer) Phase() domain.Phase {
	return s.Current().Phase
}

// Elapsed is the time spent in the current phase.
func (s *Sequencer) Elapsed() time.Duration {
	snap := s.Current()
	return time.Duration(s.clock.Now()-snap.EnteredAt) * time.Millisecond
}

// Remaining is max(0, d - Elapsed()).
func (s *Sequencer) Remaining(d time.Duration) time.Duration {
	if left := d - s.Elapsed(); left > 0 {
		return left
	}
	return 0
}

func (s *Sequencer) IsComplete(d time.Duration) bool {
	return s.Elapsed() >= d
}
