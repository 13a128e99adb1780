package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a game session has not been created or was destroyed.
	ErrSessionNotFound = errors.New("game session not found")
	// ErrSessionStarted is returned when an unknown player tries to join a running session.
	ErrSessionStarted = errors.New("game session already started")
	// ErrQuizNotFound indicates the question bank could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrNotEnoughQuestions indicates a quiz has no playable questions.
	ErrNotEnoughQuestions = errors.New("quiz has no questions")
	// ErrInvalidQuestion indicates a question whose correct index is outside its options.
	ErrInvalidQuestion = errors.New("question correct index out of range")
	// ErrInvalidPhase is returned when an orchestration call arrives in the wrong phase.
	ErrInvalidPhase = errors.New("invalid phase for action")
	// ErrIllegalTransition is returned when a phase change breaks the forward order.
	ErrIllegalTransition = errors.New("illegal phase transition")
	// ErrNoGoSignal is an invariant violation: response time requested before the go signal.
	ErrNoGoSignal = errors.New("go signal not armed")
	// ErrNoCorrectIndex is an invariant violation: scoring without a correct answer index.
	ErrNoCorrectIndex = errors.New("no correct answer index")
)
