package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"quiz-engine/internal/domain"
)

// Broadcaster delivers session events to the members of a session channel.
type Broadcaster interface {
	Publish(ctx context.Context, event domain.Event) error
}

// FanOut publishes each event to every sink; one failing sink does not stop the others.
type FanOut []Broadcaster

func (f FanOut) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, b := range f {
		if b == nil {
			continue
		}
		if err := b.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const publishTimeout = 5 * time.Second

// eventQueue keeps the order events were produced in under the session lock and
// hands them to the broadcaster from a single goroutine, outside that lock.
type eventQueue struct {
	sessionID string
	sink      Broadcaster

	mu     sync.Mutex
	items  []domain.Event
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newEventQueue(sessionID string, sink Broadcaster) *eventQueue {
	q := &eventQueue{
		sessionID: sessionID,
		sink:      sink,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *eventQueue) push(event domain.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, event)
	q.mu.Unlock()
	q.signal()
}

// close stops accepting events; already queued ones are still delivered.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		batch := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, event := range batch {
			q.deliver(event)
		}
		if len(batch) == 0 {
			if closed {
				return
			}
			<-q.wake
		}
	}
}

func (q *eventQueue) deliver(event domain.Event) {
	if q.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := q.sink.Publish(ctx, event); err != nil {
		log.Warn().Err(err).
			Str("session_id", q.sessionID).
			Str("event", string(event.Type)).
			Msg("broadcast failed")
	}
}
