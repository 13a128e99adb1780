package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"quiz-engine/internal/app"
	"quiz-engine/internal/domain"
)

// Subscriber hands out per-session event streams (memory.Hub).
type Subscriber interface {
	Subscribe(sessionID string) (<-chan domain.Event, func())
}

type WSHandler struct {
	service  *app.GameService
	events   Subscriber
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService, events Subscriber) *WSHandler {
	return &WSHandler{
		service: service,
		events:  events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

var errHostOnly = errors.New("host only")

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type syncPayload struct {
	ClientTime int64 `json:"clientTime"`
	ServerTime int64 `json:"serverTime"`
}

type answerPayload struct {
	AnswerIndex int   `json:"answerIndex"`
	Timestamp   int64 `json:"timestamp"`
}

type answerAck struct {
	AnswerIndex int  `json:"answerIndex"`
	Accepted    bool `json:"accepted"`
}

type joinedPayload struct {
	SessionID  string       `json:"sessionId"`
	PlayerID   string       `json:"playerId"`
	Host       bool         `json:"host"`
	Phase      domain.Phase `json:"phase"`
	ServerTime int64        `json:"serverTime"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
}

// ServeWS upgrades HTTP requests to websockets and wires them into a game session.
// Players register on connect; host=1 connections control the game and do not play.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("sessionId")
	playerID := q.Get("playerId")
	isHost := q.Get("host") == "1"
	if sessionID == "" || playerID == "" {
		http.Error(w, "missing sessionId or playerId", http.StatusBadRequest)
		return
	}
	session, err := h.service.Lookup(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	logger := log.With().Str("session_id", sessionID).Str("player_id", playerID).Bool("host", isHost).Logger()

	// subscribe before registering so nothing emitted after the join is missed
	updates, cancel := h.events.Subscribe(sessionID)
	defer cancel()

	if !isHost {
		player := domain.Player{ID: playerID, Nickname: q.Get("nickname"), Avatar: q.Get("avatar")}
		if err := h.service.RegisterPlayer(r.Context(), sessionID, player); err != nil {
			_ = conn.WriteJSON(errorMessage(err))
			return
		}
	}
	logger.Info().Msg("ws connected")

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug().Err(err).Msg("ws write error")
				// unblock the read loop
				_ = conn.Close()
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case event, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: string(event.Type), Payload: event}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			case <-writerDone:
				return
			}
		}
	}()

	joined := outboundMessage[any]{Type: "joined", Payload: joinedPayload{
		SessionID:  sessionID,
		PlayerID:   playerID,
		Host:       isHost,
		Phase:      session.Phase().Phase,
		ServerTime: h.service.ServerTime(),
	}}

	for alive := trySend(send, writerDone, joined); alive; {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if reply, ok := h.handle(r.Context(), sessionID, playerID, isHost, inbound); ok {
			alive = trySend(send, writerDone, reply)
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
	logger.Info().Msg("ws disconnected")
}

// trySend queues msg for the writer. It reports false once the writer has stopped.
func trySend(send chan<- outboundMessage[any], writerDone <-chan struct{}, msg outboundMessage[any]) bool {
	select {
	case send <- msg:
		return true
	case <-writerDone:
		return false
	}
}

// handle runs one inbound message; the reply goes to the sender only.
func (h *WSHandler) handle(ctx context.Context, sessionID, playerID string, isHost bool, msg inboundMessage) (outboundMessage[any], bool) {
	switch msg.Type {
	case "sync":
		var payload syncPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return errorMessage(errors.New("invalid sync payload")), true
		}
		payload.ServerTime = h.service.ServerTime()
		return outboundMessage[any]{Type: "sync", Payload: payload}, true

	case "answer":
		if isHost {
			return errorMessage(errors.New("host cannot answer")), true
		}
		var payload answerPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return errorMessage(errors.New("invalid answer payload")), true
		}
		accepted, err := h.service.SubmitAnswer(ctx, sessionID, playerID, payload.AnswerIndex, payload.Timestamp)
		if err != nil {
			return errorMessage(err), true
		}
		return outboundMessage[any]{Type: "answerAck", Payload: answerAck{AnswerIndex: payload.AnswerIndex, Accepted: accepted}}, true

	case "readyCheck", "start", "next", "leaderboard", "finish":
		if !isHost {
			return errorMessage(errHostOnly), true
		}
		if err := h.control(sessionID, msg.Type); err != nil {
			return errorMessage(err), true
		}
		return outboundMessage[any]{}, false

	default:
		return errorMessage(errors.New("unsupported message type")), true
	}
}

func (h *WSHandler) control(sessionID, command string) error {
	switch command {
	case "readyCheck":
		return h.service.BeginReadyCheck(sessionID)
	case "start":
		return h.service.Start(sessionID)
	case "next":
		return h.service.Next(sessionID)
	case "leaderboard":
		return h.service.ShowLeaderboard(sessionID)
	case "finish":
		return h.service.Finish(sessionID)
	}
	return errors.New("unsupported message type")
}
