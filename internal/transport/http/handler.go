// Package http exposes the game over REST plus a websocket score stream.
package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"geo-trivia-service/internal/app"
	"geo-trivia-service/internal/domain"
	"github.com/gorilla/websocket"
)

// Handler wires the game session into HTTP routes.
type Handler struct {
	session  *app.Session
	upgrader websocket.Upgrader
}

func NewHandler(session *app.Session) *Handler {
	return &Handler{
		session: session,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Register mounts all routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/question", h.handleQuestion)
	mux.HandleFunc("/answer", h.handleAnswer)
	mux.HandleFunc("/score", h.handleScore)
	mux.HandleFunc("/reset", h.handleReset)
	mux.HandleFunc("/mode", h.handleMode)
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

// questionPayload is the client view of a question; the correct answer stays
// server-side until the answer is graded.
type questionPayload struct {
	Question string      `json:"question"`
	Answers  []string    `json:"answers"`
	Type     domain.Kind `json:"type"`
	Mode     domain.Mode `json:"mode"`
	FellBack bool        `json:"fell_back,omitempty"`
}

type answerRequest struct {
	Answer string `json:"answer"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func (h *Handler) handleQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "use GET")
		return
	}
	served, err := h.session.Next(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, questionPayload{
		Question: served.Question.Text,
		Answers:  served.Question.Answers,
		Type:     served.Question.Kind,
		Mode:     served.Mode,
		FellBack: served.FellBack,
	})
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := h.session.Submit(req.Answer)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "use GET")
		return
	}
	writeJSON(w, http.StatusOK, h.session.Score())
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	if err := h.session.Reset(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Game has been reset."})
}

func (h *Handler) handleMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.session.SetMode(r.Context(), domain.Mode(req.Mode)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Mode has been switched to " + req.Mode + ".",
		"mode":    h.session.Score().Mode,
	})
}

// handleWS streams score snapshots: one on connect, then one per answer,
// reset, or mode change.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.session.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Drain the client side so closed connections are noticed.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snapshot, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(snapshot); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case <-done:
			return
		}
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrMaxQuestionsReached),
		errors.Is(err, domain.ErrNoActiveQuestion),
		errors.Is(err, domain.ErrInvalidMode):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrNoQuestionsAvailable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorPayload{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response: %v", err)
	}
}
