package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"quiz-engine/internal/app"
	"quiz-engine/internal/domain"
)

var testTimings = domain.Timings{
	Countdown:    3 * time.Second,
	Display:      time.Second,
	Buffer:       500 * time.Millisecond,
	Answer:       10 * time.Second,
	Results:      6 * time.Second,
	AnswerWindow: 10 * time.Second,
}

func TestSubmitAnswerAcceptsEachPlayerOnce(t *testing.T) {
	s, fc, _ := newStartedSession(t, 3, sampleQuestions(1))
	driveToAnswer(t, s, fc)
	goAt := s.Phase().EnteredAt

	if ok := mustSubmit(t, s, "p1", 1, goAt+200); !ok {
		t.Fatalf("expected first answer accepted")
	}
	if ok := mustSubmit(t, s, "p1", 0, goAt+300); ok {
		t.Fatalf("expected second answer from same player rejected")
	}
	if ok := mustSubmit(t, s, "p2", 1, goAt+400); !ok {
		t.Fatalf("expected other player accepted")
	}
	if s.Phase().Phase != domain.PhaseAnswer {
		t.Fatalf("expected answer phase to stay open with one player missing, got %s", s.Phase().Phase)
	}
}

func TestSubmitAnswerRejections(t *testing.T) {
	s, fc, _ := newStartedSession(t, 2, sampleQuestions(1))

	if ok := mustSubmit(t, s, "p1", 1, s.ServerTime()); ok {
		t.Fatalf("expected rejection during countdown")
	}

	driveToAnswer(t, s, fc)
	goAt := s.Phase().EnteredAt

	cases := []struct {
		name     string
		playerID string
		index    int
		ts       int64
	}{
		{"unknown player", "ghost", 1, goAt + 100},
		{"before go signal", "p1", 1, goAt - 1},
		{"past answer window", "p1", 1, goAt + 10_001},
		{"index out of range", "p1", 7, goAt + 100},
	}
	for _, tc := range cases {
		if ok := mustSubmit(t, s, tc.playerID, tc.index, tc.ts); ok {
			t.Fatalf("%s: expected rejection", tc.name)
		}
	}
	if ok := mustSubmit(t, s, "p1", 1, goAt+10_000); !ok {
		t.Fatalf("expected answer exactly at the window edge to be accepted")
	}
}

func TestEarlyClosureFiresOnce(t *testing.T) {
	s, fc, rec := newStartedSession(t, 2, sampleQuestions(1))
	driveToAnswer(t, s, fc)
	goAt := s.Phase().EnteredAt

	mustSubmit(t, s, "p1", 1, goAt+1000)
	mustSubmit(t, s, "p2", 0, goAt+500)

	if s.Phase().Phase != domain.PhaseResults {
		t.Fatalf("expected immediate results after last answer, got %s", s.Phase().Phase)
	}

	fc.Advance(testTimings.Answer + time.Second)
	waitFor(t, func() bool { return len(rec.ofType(domain.EventResults)) >= 1 })
	time.Sleep(20 * time.Millisecond)

	if n := len(rec.ofType(domain.EventResults)); n != 1 {
		t.Fatalf("expected exactly one results event, got %d", n)
	}
	if s.Phase().Phase != domain.PhaseResults {
		t.Fatalf("timeout must not move the session, got %s", s.Phase().Phase)
	}
}

func TestAnswerTimeoutClosesPhase(t *testing.T) {
	s, fc, rec := newStartedSession(t, 2, sampleQuestions(1))
	driveToAnswer(t, s, fc)
	goAt := s.Phase().EnteredAt
	mustSubmit(t, s, "p1", 1, goAt+2500)

	fc.Advance(testTimings.Answer)
	waitPhase(t, s, domain.PhaseResults)
	waitFor(t, func() bool { return len(rec.ofType(domain.EventResults)) == 1 })

	p1, _ := s.Stats("p1")
	if p1.Score != 10 || p1.CorrectAnswers != 1 || p1.FirstPlaceCount != 1 {
		t.Fatalf("unexpected p1 stats: %+v", p1)
	}
	p2, _ := s.Stats("p2")
	if p2.Score != 0 || p2.CurrentStreak != 0 {
		t.Fatalf("unexpected p2 stats: %+v", p2)
	}
}

func TestTwoPlayerSingleQuestionGame(t *testing.T) {
	s, fc, rec := newStartedSession(t, 2, sampleQuestions(1))
	driveToAnswer(t, s, fc)
	goAt := s.Phase().EnteredAt

	mustSubmit(t, s, "p1", 1, goAt+1000)
	mustSubmit(t, s, "p2", 0, goAt+500)

	if s.Phase().Phase != domain.PhaseResults {
		t.Fatalf("expected early transition to results, got %s", s.Phase().Phase)
	}

	results := s.CurrentResults()
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if r := results[0]; r.PlayerID != "p1" || r.Rank != 1 || r.Points != 10 || r.ResponseTimeSeconds != 1 {
		t.Fatalf("unexpected p1 result: %+v", r)
	}
	if r := results[1]; r.PlayerID != "p2" || r.Rank != 0 || r.Points != 0 || r.IsCorrect {
		t.Fatalf("unexpected p2 result: %+v", r)
	}

	p1, _ := s.Stats("p1")
	want := domain.PlayerStats{
		PlayerID: "p1", Nickname: "nick-p1", Score: 10, CorrectAnswers: 1, FirstPlaceCount: 1,
		TotalResponseTime: 1, AverageResponseTime: 1, BestStreak: 1, CurrentStreak: 1,
	}
	if p1 != want {
		t.Fatalf("expected %+v, got %+v", want, p1)
	}
	p2, _ := s.Stats("p2")
	if p2 != (domain.PlayerStats{PlayerID: "p2", Nickname: "nick-p2"}) {
		t.Fatalf("expected untouched p2 stats, got %+v", p2)
	}

	if err := s.AdvanceQuestion(); err != nil {
		t.Fatalf("advance to final: %v", err)
	}
	if s.Phase().Phase != domain.PhaseFinal {
		t.Fatalf("expected final, got %s", s.Phase().Phase)
	}
	waitFor(t, func() bool { return len(rec.ofType(domain.EventFinal)) == 1 })
	final := rec.ofType(domain.EventFinal)[0].Payload.(domain.FinalPayload)
	if final.Ranking[0].PlayerID != "p1" {
		t.Fatalf("expected p1 to win, got %+v", final.Ranking)
	}
	if err := s.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
}

func TestLastCorrectIndexSurvivesAdvance(t *testing.T) {
	qs := sampleQuestions(2)
	qs[1].CorrectIndex = 2
	s, fc, _ := newStartedSession(t, 1, qs)
	driveToAnswer(t, s, fc)
	mustSubmit(t, s, "p1", 1, s.Phase().EnteredAt+100)

	if err := s.AdvanceQuestion(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if s.QuestionIndex() != 1 {
		t.Fatalf("expected question cursor on second question")
	}
	if s.LastCorrectIndex() != 1 {
		t.Fatalf("expected cached correct index of scored question, got %d", s.LastCorrectIndex())
	}
	if len(s.CurrentResults()) != 1 {
		t.Fatalf("expected cached results of scored question")
	}
}

func TestStreaksAcrossQuestions(t *testing.T) {
	qs := sampleQuestions(4)
	s, fc, _ := newStartedSession(t, 1, qs)
	answers := []int{1, 1, 0, 1}
	for i, idx := range answers {
		if i > 0 {
			if err := s.AdvanceQuestion(); err != nil {
				t.Fatalf("advance %d: %v", i, err)
			}
			stepToAnswer(t, s, fc)
		} else {
			driveToAnswer(t, s, fc)
		}
		mustSubmit(t, s, "p1", idx, s.Phase().EnteredAt+100)
	}
	st, _ := s.Stats("p1")
	if st.BestStreak != 2 || st.CurrentStreak != 1 {
		t.Fatalf("expected best=2 current=1, got %+v", st)
	}
}

func TestZeroQuestionsGoStraightToFinal(t *testing.T) {
	s, _, _ := newStartedSession(t, 1, nil)
	if err := s.AdvanceQuestion(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if s.Phase().Phase != domain.PhaseFinal {
		t.Fatalf("expected final, got %s", s.Phase().Phase)
	}
	if err := s.AdvanceQuestion(); !errors.Is(err, domain.ErrInvalidPhase) {
		t.Fatalf("expected invalid phase after final, got %v", err)
	}
}

func TestDestroyCancelsPendingTransition(t *testing.T) {
	s, fc, _ := newStartedSession(t, 1, sampleQuestions(1))
	if err := s.AdvanceQuestion(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	s.Destroy()

	fc.Advance(testTimings.Display * 5)
	time.Sleep(20 * time.Millisecond)
	if s.Phase().Phase != domain.PhaseDisplay {
		t.Fatalf("expected no transition after destroy, got %s", s.Phase().Phase)
	}
	if ok := mustSubmit(t, s, "p1", 1, s.ServerTime()); ok {
		t.Fatalf("expected destroyed session to reject answers")
	}
}

func TestScheduleAdvanceReplacesPending(t *testing.T) {
	s, fc, _ := newStartedSession(t, 1, sampleQuestions(2))
	if err := s.ScheduleAdvance(time.Second); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.ScheduleAdvance(3 * time.Second); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	fc.Advance(2 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if s.Phase().Phase != domain.PhaseCountdown {
		t.Fatalf("superseded advance fired, phase %s", s.Phase().Phase)
	}
	fc.Advance(time.Second)
	waitPhase(t, s, domain.PhaseDisplay)
	if s.QuestionIndex() != 0 {
		t.Fatalf("expected exactly one advance, cursor %d", s.QuestionIndex())
	}
}

func TestRegisterPlayerAfterStart(t *testing.T) {
	s, _, _ := newStartedSession(t, 1, sampleQuestions(1))

	if err := s.RegisterPlayer(domain.Player{ID: "late"}); !errors.Is(err, domain.ErrSessionStarted) {
		t.Fatalf("expected ErrSessionStarted, got %v", err)
	}
	if err := s.RegisterPlayer(domain.Player{ID: "p1", Nickname: "renamed"}); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	st, _ := s.Stats("p1")
	if st.Nickname != "renamed" {
		t.Fatalf("expected nickname update on reconnect, got %+v", st)
	}
}

func TestEventsFollowPhaseOrder(t *testing.T) {
	s, fc, rec := newStartedSession(t, 1, sampleQuestions(1))
	driveToAnswer(t, s, fc)
	mustSubmit(t, s, "p1", 1, s.Phase().EnteredAt+10)
	if err := s.AdvanceQuestion(); err != nil {
		t.Fatalf("advance: %v", err)
	}

	want := []domain.Phase{
		domain.PhaseCountdown, domain.PhaseDisplay, domain.PhaseBuffer,
		domain.PhaseAnswer, domain.PhaseResults, domain.PhaseFinal,
	}
	waitFor(t, func() bool { return len(rec.ofType(domain.EventPhase)) == len(want) })
	for i, ev := range rec.ofType(domain.EventPhase) {
		if got := ev.Payload.(domain.PhasePayload).Phase; got != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got)
		}
	}
	answerEv := rec.ofType(domain.EventPhase)[3].Payload.(domain.PhasePayload)
	if answerEv.GoSignalAt == 0 || answerEv.DurationMs != testTimings.Answer.Milliseconds() {
		t.Fatalf("answer phase event missing timing data: %+v", answerEv)
	}
}

func TestNewSessionRejectsBadCorrectIndex(t *testing.T) {
	for _, idx := range []int{-1, 3} {
		qs := sampleQuestions(2)
		qs[1].CorrectIndex = idx
		s, err := app.NewSessionWithClock("s1", qs, testTimings, &recorder{}, clockwork.NewFakeClock())
		if err == nil {
			s.Destroy()
			t.Fatalf("correct index %d: expected error", idx)
		}
		if !errors.Is(err, domain.ErrInvalidQuestion) || !errors.Is(err, domain.ErrNoCorrectIndex) {
			t.Fatalf("correct index %d: unexpected error %v", idx, err)
		}
		if s != nil {
			t.Fatalf("correct index %d: expected no session", idx)
		}
	}
}

func TestAutoAdvanceIgnoresSlowSink(t *testing.T) {
	sink := &stallingSink{release: make(chan struct{})}
	t.Cleanup(func() { close(sink.release) })
	s, fc := newStartedSessionWith(t, 1, sampleQuestions(2), sink)
	s.SetAutoAdvance(true)

	driveToAnswer(t, s, fc)
	mustSubmit(t, s, "p1", 1, s.Phase().EnteredAt+10)
	if s.Phase().Phase != domain.PhaseResults {
		t.Fatalf("expected results, got %s", s.Phase().Phase)
	}

	// the dispatcher is stuck on the results event; the next question must still arrive on time
	waitFor(t, sink.stalled)
	blockOnTimer(t, fc)
	fc.Advance(testTimings.Results)
	waitPhase(t, s, domain.PhaseDisplay)
	if s.QuestionIndex() != 1 {
		t.Fatalf("expected second question, got index %d", s.QuestionIndex())
	}
}

func TestManualSessionDoesNotArmResultsTimer(t *testing.T) {
	s, fc, _ := newStartedSession(t, 1, sampleQuestions(2))
	driveToAnswer(t, s, fc)
	mustSubmit(t, s, "p1", 1, s.Phase().EnteredAt+10)

	fc.Advance(testTimings.Results)
	time.Sleep(20 * time.Millisecond)
	if s.Phase().Phase != domain.PhaseResults {
		t.Fatalf("expected to stay in results, got %s", s.Phase().Phase)
	}
}

// helpers

// stallingSink blocks on the first results event until release is closed.
type stallingSink struct {
	release chan struct{}

	mu      sync.Mutex
	blocked bool
}

func (s *stallingSink) Publish(_ context.Context, e domain.Event) error {
	if e.Type != domain.EventResults {
		return nil
	}
	s.mu.Lock()
	s.blocked = true
	s.mu.Unlock()
	<-s.release
	return nil
}

func (s *stallingSink) stalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ofType(typ domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, n int) error
}

func newStartedSession(t *testing.T, players int, qs []domain.Question) (*app.Session, fakeClock, *recorder) {
	t.Helper()
	rec := &recorder{}
	s, fc := newStartedSessionWith(t, players, qs, rec)
	return s, fc, rec
}

func newStartedSessionWith(t *testing.T, players int, qs []domain.Question, sink app.Broadcaster) (*app.Session, fakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	s, err := app.NewSessionWithClock("s1", qs, testTimings, sink, fc)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(s.Destroy)

	for i := 1; i <= players; i++ {
		id := "p" + string(rune('0'+i))
		if err := s.RegisterPlayer(domain.Player{ID: id, Nickname: "nick-" + id}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	return s, fc
}

func driveToAnswer(t *testing.T, s *app.Session, fc fakeClock) {
	t.Helper()
	if err := s.AdvanceQuestion(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	stepToAnswer(t, s, fc)
}

// stepToAnswer expects the session in display with its timer armed.
func stepToAnswer(t *testing.T, s *app.Session, fc fakeClock) {
	t.Helper()
	waitPhase(t, s, domain.PhaseDisplay)
	blockOnTimer(t, fc)
	fc.Advance(testTimings.Display)
	waitPhase(t, s, domain.PhaseBuffer)
	blockOnTimer(t, fc)
	fc.Advance(testTimings.Buffer)
	waitPhase(t, s, domain.PhaseAnswer)
	blockOnTimer(t, fc)
}

func blockOnTimer(t *testing.T, fc fakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fc.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("timer never armed: %v", err)
	}
}

func mustSubmit(t *testing.T, s *app.Session, playerID string, index int, ts int64) bool {
	t.Helper()
	ok, err := s.SubmitAnswer(playerID, index, ts)
	if err != nil {
		t.Fatalf("submit %s: %v", playerID, err)
	}
	return ok
}

func waitPhase(t *testing.T, s *app.Session, p domain.Phase) {
	t.Helper()
	waitFor(t, func() bool { return s.Phase().Phase == p })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func sampleQuestions(n int) []domain.Question {
	qs := make([]domain.Question, n)
	for i := range qs {
		qs[i] = domain.Question{
			ID:           "q" + string(rune('1'+i)),
			Text:         "What is 2 + 2?",
			Options:      []string{"3", "4", "5"},
			CorrectIndex: 1,
		}
	}
	return qs
}
