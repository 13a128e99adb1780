package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
	"quiz-engine/internal/domain"
)

// QuizLoader fetches a question bank from a backing store.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizRepository keeps playable question banks in memory. A bank is checked once when it is
// loaded; empty banks and questions without a valid correct index never enter the cache.
// Entries live for the TTL plus up to 10% jitter and concurrent misses share one load.
type QuizRepository struct {
	loader QuizLoader
	ttl    time.Duration
	clock  clockwork.Clock
	loads  singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	banks map[string]bankEntry
}

type bankEntry struct {
	bank      domain.Quiz
	expiresAt time.Time
}

func NewQuizRepository(loader QuizLoader, ttl time.Duration) *QuizRepository {
	return NewQuizRepositoryWithClock(loader, ttl, clockwork.NewRealClock())
}

// NewQuizRepositoryWithClock allows fake clocks in tests.
func NewQuizRepositoryWithClock(loader QuizLoader, ttl time.Duration, clock clockwork.Clock) *QuizRepository {
	return &QuizRepository{
		loader: loader,
		ttl:    ttl,
		clock:  clock,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		banks:  make(map[string]bankEntry),
	}
}

// GetQuiz returns a copy of the bank so callers may shuffle or trim its questions.
func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if bank, ok := r.cached(quizID); ok {
		return copyBank(bank), nil
	}

	result, err, _ := r.loads.Do(quizID, func() (interface{}, error) {
		if bank, ok := r.cached(quizID); ok {
			return bank, nil
		}
		bank, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if err := checkBank(quizID, &bank); err != nil {
			return domain.Quiz{}, err
		}

		r.mu.Lock()
		r.banks[quizID] = bankEntry{bank: bank, expiresAt: r.clock.Now().Add(r.ttlWithJitter())}
		r.mu.Unlock()
		return bank, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return copyBank(result.(domain.Quiz)), nil
}

// Len reports how many banks are cached, expired ones included.
func (r *QuizRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.banks)
}

func (r *QuizRepository) cached(quizID string) (domain.Quiz, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.banks[quizID]
	if !ok || !entry.expiresAt.After(r.clock.Now()) {
		return domain.Quiz{}, false
	}
	return entry.bank, true
}

// checkBank makes a loaded bank playable or rejects it. A missing id is filled in; a bank
// filed under another id is treated as not found.
func checkBank(quizID string, bank *domain.Quiz) error {
	if bank.ID == "" {
		bank.ID = quizID
	}
	if bank.ID != quizID {
		return fmt.Errorf("quiz %s: loader returned bank %s: %w", quizID, bank.ID, domain.ErrQuizNotFound)
	}
	return bank.Validate()
}

func copyBank(bank domain.Quiz) domain.Quiz {
	bank.Questions = append([]domain.Question(nil), bank.Questions...)
	return bank
}

// StaticQuizLoader serves question banks from a map (tests, demos, seed data).
type StaticQuizLoader struct {
	quizzes map[string]domain.Quiz
}

func NewStaticQuizLoader(quizzes map[string]domain.Quiz) *StaticQuizLoader {
	return &StaticQuizLoader{quizzes: quizzes}
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(int64(r.ttl)/10+1))
}
