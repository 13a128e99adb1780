package domain

import (
	"fmt"
	"time"
)

// Phase is one stage of a question or session lifecycle.
type Phase string

const (
	PhaseWaiting     Phase = "waiting"
	PhaseReadyCheck  Phase = "ready_check"
	PhaseCountdown   Phase = "countdown"
	PhaseDisplay     Phase = "display"
	PhaseBuffer      Phase = "buffer"
	PhaseAnswer      Phase = "answer"
	PhaseResults     Phase = "results"
	PhaseLeaderboard Phase = "leaderboard"
	PhaseFinal       Phase = "final"
	PhaseFinished    Phase = "finished"
)

// Timings holds the fixed phase durations and the answer validity window.
type Timings struct {
	Countdown    time.Duration
	Display      time.Duration
	Buffer       time.Duration
	Answer       time.Duration
	Results      time.Duration
	AnswerWindow time.Duration
}

// DefaultTimings returns the standard phase durations.
func DefaultTimings() Timings {
	return Timings{
		Countdown:    3000 * time.Millisecond,
		Display:      1000 * time.Millisecond,
		Buffer:       500 * time.Millisecond,
		Answer:       10000 * time.Millisecond,
		Results:      6000 * time.Millisecond,
		AnswerWindow: 10000 * time.Millisecond,
	}
}

// Question is a multiple choice question with exactly one correct option.
type Question struct {
	ID           string            `json:"id"`
	Text         string            `json:"text"`
	Options      []string          `json:"options"`
	CorrectIndex int               `json:"correctIndex"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Validate checks the correct index points at an option.
func (q Question) Validate() error {
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
		return fmt.Errorf("%w: %w (index %d, %d options)", ErrInvalidQuestion, ErrNoCorrectIndex, q.CorrectIndex, len(q.Options))
	}
	return nil
}

// Quiz is a question bank.
type Quiz struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// Validate rejects empty banks and banks with a question whose correct index is not one of its options.
func (q Quiz) Validate() error {
	if len(q.Questions) == 0 {
		return fmt.Errorf("quiz %s: %w", q.ID, ErrNotEnoughQuestions)
	}
	for _, question := range q.Questions {
		if err := question.Validate(); err != nil {
			return fmt.Errorf("quiz %s question %s: %w", q.ID, question.ID, err)
		}
	}
	return nil
}

// Player is a roster entry supplied before the session starts.
type Player struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

// PlayerAnswer is a single accepted submission; at most one per player per question.
type PlayerAnswer struct {
	PlayerID            string  `json:"playerId"`
	AnswerIndex         int     `json:"answerIndex"`
	ResponseTimeSeconds float64 `json:"responseTime"`
	Timestamp           int64   `json:"timestamp"`
}

// ScoringResult is the derived outcome of one answer. Rank is 0 for incorrect answers.
type ScoringResult struct {
	PlayerID            string  `json:"playerId"`
	AnswerIndex         int     `json:"answerIndex"`
	IsCorrect           bool    `json:"isCorrect"`
	Points              int     `json:"points"`
	Rank                int     `json:"rank"`
	ResponseTimeSeconds float64 `json:"responseTime"`
}

// PlayerStats accumulates a player's results across a session.
type PlayerStats struct {
	PlayerID            string  `json:"playerId"`
	Nickname            string  `json:"nickname"`
	Avatar              string  `json:"avatar"`
	Score               int     `json:"score"`
	CorrectAnswers      int     `json:"correctAnswers"`
	FirstPlaceCount     int     `json:"firstPlaceCount"`
	TotalResponseTime   float64 `json:"totalResponseTime"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	BestStreak          int     `json:"bestStreak"`
	CurrentStreak       int     `json:"currentStreak"`
}

// LeaderboardEntry is one ranked row of cumulative scores.
type LeaderboardEntry struct {
	PlayerID string `json:"playerId"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

// EventType names a notification emitted by a session.
type EventType string

const (
	EventPhase       EventType = "phase"
	EventQuestion    EventType = "question"
	EventAnswered    EventType = "answered"
	EventResults     EventType = "results"
	EventLeaderboard EventType = "leaderboard"
	EventFinal       EventType = "final"
)

// Event is what sessions hand to broadcast sinks.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"sessionId"`
	Phase      Phase     `json:"phase"`
	ServerTime int64     `json:"serverTime"`
	Payload    any       `json:"payload,omitempty"`
}

// PhasePayload accompanies EventPhase.
type PhasePayload struct {
	Phase         Phase `json:"phase"`
	EnteredAt     int64 `json:"enteredAt"`
	DurationMs    int64 `json:"durationMs,omitempty"`
	QuestionIndex int   `json:"questionIndex"`
	GoSignalAt    int64 `json:"goSignalAt,omitempty"`
}

// QuestionView is a question as revealed to players, without its answer.
type QuestionView struct {
	Index    int               `json:"index"`
	Total    int               `json:"total"`
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Options  []string          `json:"options"`
	Metadata map[string]string `json:"metadata,omitempty"`
	ShownAt  int64             `json:"shownAt"`
}

// AnsweredPayload accompanies EventAnswered.
type AnsweredPayload struct {
	PlayerID string `json:"playerId"`
	Answered int    `json:"answered"`
	Players  int    `json:"players"`
}

// ResultsPayload accompanies EventResults.
type ResultsPayload struct {
	QuestionIndex int                `json:"questionIndex"`
	CorrectIndex  int                `json:"correctIndex"`
	Results       []ScoringResult    `json:"results"`
	Leaderboard   []LeaderboardEntry `json:"leaderboard"`
}

// FinalPayload accompanies EventFinal.
type FinalPayload struct {
	Ranking []PlayerStats `json:"ranking"`
}
