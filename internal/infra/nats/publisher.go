package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gonats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"quiz-engine/internal/domain"
)

const DefaultSubject = "quiz.events"

// Conn is the slice of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher relays session events to NATS so other instances (and dashboards) can follow a game.
// Subjects look like <prefix>.<sessionID>.<eventType>.
type Publisher struct {
	conn   Conn
	prefix string
}

func NewPublisher(conn Conn, prefix string) *Publisher {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubject
	}
	return &Publisher{conn: conn, prefix: prefix}
}

// Connect dials NATS with reconnects enabled.
func Connect(url string) (*gonats.Conn, error) {
	opts := []gonats.Option{
		gonats.Name("quiz-engine"),
		gonats.MaxReconnects(-1),
		gonats.ReconnectWait(2 * time.Second),
		gonats.DisconnectErrHandler(func(nc *gonats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		gonats.ReconnectHandler(func(nc *gonats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		gonats.ErrorHandler(func(nc *gonats.Conn, sub *gonats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := gonats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(event.SessionID, event.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *Publisher) Subject(sessionID string, eventType domain.EventType) string {
	return p.prefix + "." + sessionID + "." + string(eventType)
}

// SubscribeAll is the wildcard matching every event of a session.
func (p *Publisher) SubscribeAll(sessionID string) string {
	return p.prefix + "." + sessionID + ".>"
}
