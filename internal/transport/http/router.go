package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"quiz-engine/internal/app"
	"quiz-engine/internal/domain"
)

// NewRouter serves the REST endpoints and the WebSocket under one CORS-enabled handler.
// defaultQuestions applies when a create request leaves questionCount at 0.
func NewRouter(service *app.GameService, events Subscriber, defaultQuestions int) http.Handler {
	api := &api{service: service, defaultQuestions: defaultQuestions}
	ws := NewWSHandler(service, events)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /time", api.serverTime)
	mux.HandleFunc("POST /sessions", api.createSession)
	mux.HandleFunc("GET /sessions/{id}/leaderboard", api.leaderboard)
	mux.HandleFunc("DELETE /sessions/{id}", api.destroySession)
	mux.HandleFunc("GET /ws", ws.ServeWS)

	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	}).Handler(mux)
}

type api struct {
	service          *app.GameService
	defaultQuestions int
}

type createSessionRequest struct {
	QuizID        string `json:"quizId"`
	QuestionCount int    `json:"questionCount"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type leaderboardResponse struct {
	SessionID   string                    `json:"sessionId"`
	Phase       domain.Phase              `json:"phase"`
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
}

func (a *api) serverTime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"serverTime": a.service.ServerTime()})
}

func (a *api) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuizID == "" {
		http.Error(w, "quizId required", http.StatusBadRequest)
		return
	}
	if req.QuestionCount <= 0 {
		req.QuestionCount = a.defaultQuestions
	}
	id, err := a.service.CreateSession(r.Context(), req.QuizID, req.QuestionCount)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("quiz_id", req.QuizID).Msg("create session")
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: id})
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, err := a.service.Lookup(id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{
		SessionID:   id,
		Phase:       session.Phase().Phase,
		Leaderboard: session.Leaderboard(),
	})
}

func (a *api) destroySession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := a.service.Lookup(id); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	a.service.Destroy(id)
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrQuizNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotEnoughQuestions), errors.Is(err, domain.ErrInvalidQuestion):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSessionStarted), errors.Is(err, domain.ErrInvalidPhase), errors.Is(err, domain.ErrIllegalTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}
