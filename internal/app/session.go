package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"quiz-engine/internal/domain"
	"quiz-engine/internal/phase"
	"quiz-engine/internal/scoring"
	"quiz-engine/internal/timing"
)

// Session owns one game: roster, question cursor, phase transitions, answer intake and scores.
// All state is guarded by mu; scheduled transitions and answer submissions take the same lock.
type Session struct {
	id        string
	questions []domain.Question
	timings   domain.Timings
	clock     *timing.ServerClock
	seq       *phase.Sequencer
	timer     *timing.ResponseTimer
	events    *eventQueue

	mu          sync.Mutex
	index       int
	started     bool
	gone        bool
	autoAdvance bool
	stats    map[string]domain.PlayerStats
	answers  []domain.PlayerAnswer
	answered map[string]struct{}

	lastResults      []domain.ScoringResult
	lastCorrectIndex int

	// pending is the single scheduled transition; gen invalidates callbacks that lost a race with Stop.
	pending clockwork.Timer
	gen     uint64
}

// NewSession creates a session over a fixed question list using the real clock.
func NewSession(id string, questions []domain.Question, timings domain.Timings, sink Broadcaster) (*Session, error) {
	return NewSessionWithClock(id, questions, timings, sink, clockwork.NewRealClock())
}

// NewSessionWithClock allows fake clocks in tests. Every question must have its correct
// index inside its options.
func NewSessionWithClock(id string, questions []domain.Question, timings domain.Timings, sink Broadcaster, clock clockwork.Clock) (*Session, error) {
	for _, q := range questions {
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("session %s question %s: %w", id, q.ID, err)
		}
	}
	if timings.AnswerWindow <= 0 {
		timings.AnswerWindow = timings.Answer
	}
	serverClock := timing.NewServerClock(clock)
	qs := make([]domain.Question, len(questions))
	copy(qs, questions)
	return &Session{
		id:               id,
		questions:        qs,
		timings:          timings,
		clock:            serverClock,
		seq:              phase.NewSequencer(serverClock),
		timer:            timing.NewResponseTimer(serverClock, timings.AnswerWindow),
		events:           newEventQueue(id, sink),
		index:            -1,
		stats:            make(map[string]domain.PlayerStats),
		answered:         make(map[string]struct{}),
		lastCorrectIndex: -1,
	}, nil
}

func (s *Session) ID() string { return s.id }

// ServerTime is the authoritative timestamp in milliseconds.
func (s *Session) ServerTime() int64 { return s.clock.Now() }

func (s *Session) Timings() domain.Timings { return s.timings }

// Phase returns the current phase and when it was entered.
func (s *Session) Phase() phase.Snapshot { return s.seq.Current() }

// Remaining returns how long the active timed phase has left, 0 for untimed phases.
func (s *Session) Remaining() time.Duration {
	return s.seq.Remaining(s.durationOf(s.seq.Phase()))
}

// RegisterPlayer adds a player before the game starts; re-registering then resets their stats.
// After start only known players may re-register and they keep their stats.
func (s *Session) RegisterPlayer(p domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return domain.ErrSessionNotFound
	}
	if s.started {
		existing, ok := s.stats[p.ID]
		if !ok {
			return domain.ErrSessionStarted
		}
		existing.Nickname = p.Nickname
		existing.Avatar = p.Avatar
		s.stats[p.ID] = existing
		return nil
	}
	s.stats[p.ID] = scoring.InitStats(p.ID, p.Nickname, p.Avatar)
	log.Debug().Str("session_id", s.id).Str("player_id", p.ID).Msg("player registered")
	return nil
}

// PlayerCount returns the number of registered players.
func (s *Session) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stats)
}

// BeginReadyCheck moves a waiting session into the ready check.
func (s *Session) BeginReadyCheck() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return domain.ErrSessionNotFound
	}
	return s.enterLocked(domain.PhaseReadyCheck)
}

// Start enters the countdown. The caller schedules the first AdvanceQuestion once every
// member has been told about the countdown.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return domain.ErrSessionNotFound
	}
	if err := s.enterLocked(domain.PhaseCountdown); err != nil {
		return err
	}
	s.started = true
	return nil
}

// ScheduleAdvance arms the transition slot with an AdvanceQuestion after d, replacing any
// pending transition.
func (s *Session) ScheduleAdvance(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleAdvanceLocked(s.index, d)
}

// SetAutoAdvance makes every results phase arm the next AdvanceQuestion after the results
// duration. Off by default; the caller then advances with AdvanceQuestion.
func (s *Session) SetAutoAdvance(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoAdvance = on
}

func (s *Session) scheduleAdvanceLocked(index int, d time.Duration) error {
	if s.gone {
		return domain.ErrSessionNotFound
	}
	if !s.canAdvanceLocked() {
		return fmt.Errorf("%w: cannot advance from %s", domain.ErrInvalidPhase, s.seq.Phase())
	}
	s.scheduleLocked(d, func() {
		if s.index != index || !s.canAdvanceLocked() {
			return
		}
		if err := s.advanceLocked(); err != nil {
			log.Error().Err(err).Str("session_id", s.id).Msg("scheduled advance failed")
		}
	})
	return nil
}

// AdvanceQuestion moves to the next question, or to final when none are left.
func (s *Session) AdvanceQuestion() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return domain.ErrSessionNotFound
	}
	if !s.canAdvanceLocked() {
		return fmt.Errorf("%w: cannot advance from %s", domain.ErrInvalidPhase, s.seq.Phase())
	}
	return s.advanceLocked()
}

func (s *Session) canAdvanceLocked() bool {
	switch s.seq.Phase() {
	case domain.PhaseCountdown, domain.PhaseResults, domain.PhaseLeaderboard:
		return true
	}
	return false
}

func (s *Session) advanceLocked() error {
	s.cancelLocked()
	s.answers = nil
	s.answered = make(map[string]struct{})
	s.index++

	if s.index >= len(s.questions) {
		s.index = len(s.questions)
		if err := s.enterLocked(domain.PhaseFinal); err != nil {
			return err
		}
		s.emitLocked(domain.EventFinal, domain.FinalPayload{Ranking: scoring.FinalRanking(s.stats)})
		log.Info().Str("session_id", s.id).Msg("game finished")
		return nil
	}

	s.timer.Reset()
	if err := s.enterLocked(domain.PhaseDisplay); err != nil {
		return err
	}
	shownAt := s.timer.MarkQuestionStart()
	q := s.questions[s.index]
	s.emitLocked(domain.EventQuestion, domain.QuestionView{
		Index:    s.index,
		Total:    len(s.questions),
		ID:       q.ID,
		Text:     q.Text,
		Options:  q.Options,
		Metadata: q.Metadata,
		ShownAt:  shownAt,
	})
	s.scheduleLocked(s.timings.Display, s.enterBufferLocked)
	return nil
}

func (s *Session) enterBufferLocked() {
	if err := s.enterLocked(domain.PhaseBuffer); err != nil {
		log.Error().Err(err).Str("session_id", s.id).Msg("enter buffer")
		return
	}
	s.scheduleLocked(s.timings.Buffer, s.enterAnswerLocked)
}

func (s *Session) enterAnswerLocked() {
	snap, err := s.seq.Enter(domain.PhaseAnswer)
	if err != nil {
		log.Error().Err(err).Str("session_id", s.id).Msg("enter answer")
		return
	}
	goAt := s.timer.MarkGoSignal()
	s.emitPhaseLocked(snap, goAt)
	s.scheduleLocked(s.timings.Answer, s.closeAnswersLocked)
}

// closeAnswersLocked runs when the answer duration elapses.
func (s *Session) closeAnswersLocked() {
	if s.seq.Phase() != domain.PhaseAnswer {
		return
	}
	log.Debug().Str("session_id", s.id).Int("answers", len(s.answers)).Msg("answer phase timed out")
	if err := s.enterResultsLocked(); err != nil {
		log.Error().Err(err).Str("session_id", s.id).Msg("close answer phase")
	}
}

// SubmitAnswer records a player's answer. Client mistakes return false with a nil error;
// a non-nil error means the session's own invariants are broken.
func (s *Session) SubmitAnswer(playerID string, answerIndex int, timestamp int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reject := func(reason string) (bool, error) {
		log.Debug().Str("session_id", s.id).Str("player_id", playerID).Str("reason", reason).Msg("answer rejected")
		return false, nil
	}

	if s.gone {
		return reject("session destroyed")
	}
	if s.seq.Phase() != domain.PhaseAnswer {
		return reject("not in answer phase")
	}
	if _, ok := s.stats[playerID]; !ok {
		return reject("unknown player")
	}
	if _, ok := s.answered[playerID]; ok {
		return reject("already answered")
	}
	if answerIndex < 0 || answerIndex >= len(s.questions[s.index].Options) {
		return reject("answer index out of range")
	}
	valid, err := s.timer.IsValid(timestamp)
	if err != nil {
		return false, fmt.Errorf("session %s: validate answer: %w", s.id, err)
	}
	if !valid {
		return reject("timestamp outside answer window")
	}
	rt, err := s.timer.ResponseTime(timestamp)
	if err != nil {
		return false, fmt.Errorf("session %s: response time: %w", s.id, err)
	}

	s.answers = append(s.answers, domain.PlayerAnswer{
		PlayerID:            playerID,
		AnswerIndex:         answerIndex,
		ResponseTimeSeconds: rt,
		Timestamp:           timestamp,
	})
	s.answered[playerID] = struct{}{}
	s.emitLocked(domain.EventAnswered, domain.AnsweredPayload{
		PlayerID: playerID,
		Answered: len(s.answers),
		Players:  len(s.stats),
	})

	if len(s.answers) == len(s.stats) {
		// everyone answered: the pending timeout must not fire as well
		s.cancelLocked()
		if err := s.enterResultsLocked(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// enterResultsLocked scores the question and enters results. On error nothing is folded
// and the phase stays where it was.
func (s *Session) enterResultsLocked() error {
	q := s.questions[s.index]
	if err := q.Validate(); err != nil {
		return fmt.Errorf("session %s question %s: %w", s.id, q.ID, err)
	}
	results, err := scoring.Score(s.answers, q.CorrectIndex)
	if err != nil {
		return fmt.Errorf("session %s question %s: score answers: %w", s.id, q.ID, err)
	}
	if err := s.enterLocked(domain.PhaseResults); err != nil {
		return err
	}

	s.lastResults = results
	s.lastCorrectIndex = q.CorrectIndex
	for _, r := range results {
		if prev, ok := s.stats[r.PlayerID]; ok {
			s.stats[r.PlayerID] = scoring.FoldStats(prev, r)
		}
	}
	// players who did not answer break their streak too
	for id, st := range s.stats {
		if _, ok := s.answered[id]; !ok {
			s.stats[id] = scoring.FoldStats(st, domain.ScoringResult{PlayerID: id})
		}
	}

	s.emitLocked(domain.EventResults, domain.ResultsPayload{
		QuestionIndex: s.index,
		CorrectIndex:  q.CorrectIndex,
		Results:       copyResults(results),
		Leaderboard:   s.leaderboardLocked(),
	})

	if s.autoAdvance {
		if err := s.scheduleAdvanceLocked(s.index, s.timings.Results); err != nil {
			log.Error().Err(err).Str("session_id", s.id).Msg("schedule next question")
		}
	}
	return nil
}

// ShowLeaderboard moves from results to the intermediate standings.
func (s *Session) ShowLeaderboard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return domain.ErrSessionNotFound
	}
	if err := s.enterLocked(domain.PhaseLeaderboard); err != nil {
		return err
	}
	s.emitLocked(domain.EventLeaderboard, s.leaderboardLocked())
	return nil
}

// Finish closes a session that reached final.
func (s *Session) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return domain.ErrSessionNotFound
	}
	return s.enterLocked(domain.PhaseFinished)
}

// Leaderboard ranks cumulative scores.
func (s *Session) Leaderboard() []domain.LeaderboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderboardLocked()
}

// FinalStats returns every player's statistics, best score first.
func (s *Session) FinalStats() []domain.PlayerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return scoring.FinalRanking(s.stats)
}

// Stats returns one player's statistics.
func (s *Session) Stats(playerID string) (domain.PlayerStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[playerID]
	return st, ok
}

// CurrentResults returns the results of the most recently scored question.
func (s *Session) CurrentResults() []domain.ScoringResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyResults(s.lastResults)
}

// LastCorrectIndex is the correct index paired with CurrentResults, -1 before any scoring.
func (s *Session) LastCorrectIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCorrectIndex
}

// QuestionIndex returns the current question cursor, -1 before the first question.
func (s *Session) QuestionIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Destroy cancels the pending transition; nothing fires afterwards.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		return
	}
	s.gone = true
	s.cancelLocked()
	s.mu.Unlock()
	s.events.close()
	log.Debug().Str("session_id", s.id).Msg("session destroyed")
}

func (s *Session) leaderboardLocked() []domain.LeaderboardEntry {
	scores := make(map[string]int, len(s.stats))
	for id, st := range s.stats {
		scores[id] = st.Score
	}
	return scoring.RankLeaderboard(scores)
}

func (s *Session) enterLocked(next domain.Phase) error {
	snap, err := s.seq.Enter(next)
	if err != nil {
		return err
	}
	s.emitPhaseLocked(snap, 0)
	return nil
}

func (s *Session) emitPhaseLocked(snap phase.Snapshot, goAt int64) {
	log.Debug().Str("session_id", s.id).Str("phase", string(snap.Phase)).Int("question", s.index).Msg("phase entered")
	s.emitLocked(domain.EventPhase, domain.PhasePayload{
		Phase:         snap.Phase,
		EnteredAt:     snap.EnteredAt,
		DurationMs:    s.durationOf(snap.Phase).Milliseconds(),
		QuestionIndex: s.index,
		GoSignalAt:    goAt,
	})
}

func (s *Session) emitLocked(typ domain.EventType, payload any) {
	s.events.push(domain.Event{
		Type:       typ,
		SessionID:  s.id,
		Phase:      s.seq.Phase(),
		ServerTime: s.clock.Now(),
		Payload:    payload,
	})
}

func (s *Session) durationOf(p domain.Phase) time.Duration {
	switch p {
	case domain.PhaseCountdown:
		return s.timings.Countdown
	case domain.PhaseDisplay:
		return s.timings.Display
	case domain.PhaseBuffer:
		return s.timings.Buffer
	case domain.PhaseAnswer:
		return s.timings.Answer
	case domain.PhaseResults:
		return s.timings.Results
	}
	return 0
}

// scheduleLocked replaces the pending transition with fn after d. fn runs with mu held.
func (s *Session) scheduleLocked(d time.Duration, fn func()) {
	s.cancelLocked()
	gen := s.gen
	s.pending = s.clock.Local().AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gone || gen != s.gen {
			return
		}
		s.pending = nil
		fn()
	})
}

func (s *Session) cancelLocked() {
	s.gen++
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

func copyResults(in []domain.ScoringResult) []domain.ScoringResult {
	if in == nil {
		return nil
	}
	out := make([]domain.ScoringResult, len(in))
	copy(out, in)
	return out
}
