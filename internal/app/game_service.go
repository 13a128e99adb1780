package app

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"quiz-engine/internal/domain"
	"quiz-engine/internal/questions"
)

// SessionRepository holds the live sessions of this process (in-memory, Redis-marked, etc).
type SessionRepository interface {
	Add(session *Session) error
	Get(sessionID string) (*Session, bool)
	Delete(sessionID string)
}

// QuizRepository loads question banks (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// StatsWriter receives player statistics after every question and at game end.
type StatsWriter interface {
	SaveStats(ctx context.Context, sessionID string, stats []domain.PlayerStats) error
}

// GameService creates, looks up and destroys sessions and drives their externally
// triggered transitions.
type GameService struct {
	sessions    SessionRepository
	quizzes     QuizRepository
	broadcaster Broadcaster
	writers     []StatsWriter
	clock       clockwork.Clock
	timings     domain.Timings
	autoAdvance bool
	retention   time.Duration

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// Option customises a GameService.
type Option func(*GameService)

func WithBroadcaster(b Broadcaster) Option { return func(s *GameService) { s.broadcaster = b } }

func WithStatsWriters(w ...StatsWriter) Option {
	return func(s *GameService) { s.writers = append(s.writers, w...) }
}

func WithClock(c clockwork.Clock) Option { return func(s *GameService) { s.clock = c } }

func WithTimings(t domain.Timings) Option { return func(s *GameService) { s.timings = t } }

func WithRand(r *rand.Rand) Option { return func(s *GameService) { s.rnd = r } }

// WithManualAdvance disables the countdown and results timers; the host calls Next instead.
func WithManualAdvance() Option { return func(s *GameService) { s.autoAdvance = false } }

// WithRetention sets how long a session that reached final stays addressable before it is
// destroyed. Zero or less destroys it without waiting.
func WithRetention(d time.Duration) Option { return func(s *GameService) { s.retention = d } }

// DefaultRetention keeps final standings readable for late clients.
const DefaultRetention = 10 * time.Minute

func NewGameService(store SessionRepository, quizzes QuizRepository, opts ...Option) *GameService {
	s := &GameService{
		sessions:    store,
		quizzes:     quizzes,
		clock:       clockwork.NewRealClock(),
		timings:     domain.DefaultTimings(),
		autoAdvance: true,
		retention:   DefaultRetention,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession loads a quiz, samples questionCount questions and registers a new session.
func (s *GameService) CreateSession(ctx context.Context, quizID string, questionCount int) (string, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return "", err
	}
	s.rndMu.Lock()
	picked := questions.Sample(quiz.Questions, questionCount, s.rnd)
	s.rndMu.Unlock()

	id := uuid.NewString()
	session, err := NewSessionWithClock(id, picked, s.timings, &driver{svc: s}, s.clock)
	if err != nil {
		return "", err
	}
	session.SetAutoAdvance(s.autoAdvance)
	if err := s.sessions.Add(session); err != nil {
		session.Destroy()
		return "", err
	}
	log.Info().Str("session_id", id).Str("quiz_id", quizID).Int("questions", len(picked)).Msg("session created")
	return id, nil
}

// Lookup returns a live session.
func (s *GameService) Lookup(sessionID string) (*Session, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Destroy tears a session down and forgets it.
func (s *GameService) Destroy(sessionID string) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}
	session.Destroy()
	s.sessions.Delete(sessionID)
}

func (s *GameService) RegisterPlayer(_ context.Context, sessionID string, player domain.Player) error {
	session, err := s.Lookup(sessionID)
	if err != nil {
		return err
	}
	return session.RegisterPlayer(player)
}

func (s *GameService) BeginReadyCheck(sessionID string) error {
	session, err := s.Lookup(sessionID)
	if err != nil {
		return err
	}
	return session.BeginReadyCheck()
}

// Start enters the countdown and, unless advancing manually, schedules the first question.
func (s *GameService) Start(sessionID string) error {
	session, err := s.Lookup(sessionID)
	if err != nil {
		return err
	}
	if err := session.Start(); err != nil {
		return err
	}
	if s.autoAdvance {
		return session.ScheduleAdvance(s.timings.Countdown)
	}
	return nil
}

// Next advances immediately, superseding any scheduled advance.
func (s *GameService) Next(sessionID string) error {
	session, err := s.Lookup(sessionID)
	if err != nil {
		return err
	}
	return session.AdvanceQuestion()
}

func (s *GameService) ShowLeaderboard(sessionID string) error {
	session, err := s.Lookup(sessionID)
	if err != nil {
		return err
	}
	return session.ShowLeaderboard()
}

// Finish closes a session that reached its final ranking and forgets it. Events already
// queued, the finished phase included, are still delivered.
func (s *GameService) Finish(sessionID string) error {
	session, err := s.Lookup(sessionID)
	if err != nil {
		return err
	}
	if err := session.Finish(); err != nil {
		return err
	}
	s.Destroy(sessionID)
	return nil
}

// SubmitAnswer forwards to the session. timestamp <= 0 means the server receive time.
func (s *GameService) SubmitAnswer(_ context.Context, sessionID, playerID string, answerIndex int, timestamp int64) (bool, error) {
	session, err := s.Lookup(sessionID)
	if err != nil {
		return false, err
	}
	if timestamp <= 0 {
		timestamp = session.ServerTime()
	}
	accepted, err := session.SubmitAnswer(playerID, answerIndex, timestamp)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Str("player_id", playerID).Msg("answer intake invariant broken")
	}
	return accepted, err
}

func (s *GameService) Leaderboard(sessionID string) ([]domain.LeaderboardEntry, error) {
	session, err := s.Lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return session.Leaderboard(), nil
}

// ServerTime is the authority's clock in milliseconds.
func (s *GameService) ServerTime() int64 {
	return s.clock.Now().UnixMilli()
}

func (s *GameService) persist(ctx context.Context, sessionID string, stats []domain.PlayerStats) {
	for _, w := range s.writers {
		if err := w.SaveStats(ctx, sessionID, stats); err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("persist player stats")
		}
	}
}

func (s *GameService) expire(sessionID string) {
	if s.retention <= 0 {
		s.Destroy(sessionID)
		return
	}
	s.clock.AfterFunc(s.retention, func() {
		if _, ok := s.sessions.Get(sessionID); ok {
			log.Info().Str("session_id", sessionID).Msg("finished session expired")
			s.Destroy(sessionID)
		}
	})
}

// driver sits between a session and the sinks: it forwards events, persists stats after
// results and final, and arms the retention timer once final is out.
type driver struct {
	svc *GameService
}

func (d *driver) Publish(ctx context.Context, event domain.Event) error {
	var err error
	if d.svc.broadcaster != nil {
		err = d.svc.broadcaster.Publish(ctx, event)
	}

	switch event.Type {
	case domain.EventResults, domain.EventFinal:
		session, ok := d.svc.sessions.Get(event.SessionID)
		if !ok {
			return err
		}
		d.svc.persist(ctx, event.SessionID, session.FinalStats())
		if event.Type == domain.EventFinal {
			d.svc.expire(event.SessionID)
		}
	}
	return err
}
