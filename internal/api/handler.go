package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tabletop-sync/lifesync/internal/apperrors"
	"github.com/tabletop-sync/lifesync/internal/models"
	"github.com/tabletop-sync/lifesync/internal/service"
	"github.com/tabletop-sync/lifesync/pkg/logger"
)

const requestTimeout = 5 * time.Second

// Handler holds all HTTP handlers
type Handler struct {
	sessions       *service.SessionService
	logger         *logger.Logger
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithAllowedOrigins lets browser pages from origins open the snapshot
// websocket. "*" allows any origin.
func WithAllowedOrigins(origins []string) HandlerOption {
	return func(h *Handler) { h.allowedOrigins = origins }
}

// NewHandler creates a new handler
func NewHandler(sessions *service.SessionService, log *logger.Logger, opts ...HandlerOption) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	h := &Handler{
		sessions: sessions,
		logger:   log,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// Routes sets up all routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", h.Health)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Post("/join", h.JoinSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Put("/participants/{participantId}", h.UpdateParticipant)
			r.Put("/counters", h.UpdateCounters)
			r.Post("/leave", h.LeaveSession)
			r.Get("/ws", h.Stream)
		})
	})

	r.Route("/v1/archive", func(r chi.Router) {
		r.Get("/", h.ListArchived)
		r.Get("/{id}", h.GetArchived)
	})

	return r
}

// Health handles health check requests
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateSession handles POST /v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req models.CreateSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	format, err := models.ParseFormat(req.Format)
	if err != nil {
		h.respondError(w, r, "invalid format", err)
		return
	}

	session, err := h.sessions.CreateSession(ctx, models.Identity{ID: req.HostID, Name: req.HostName}, format, req.Capacity)
	if err != nil {
		h.respondError(w, r, "failed to create session", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, models.ToDocument(session))
}

// JoinSession handles POST /v1/sessions/join
func (h *Handler) JoinSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req models.JoinSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.sessions.JoinSession(ctx, req.Code, models.Identity{ID: req.ParticipantID, Name: req.Name})
	if err != nil {
		h.respondError(w, r, "failed to join session", err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.ToDocument(session))
}

// GetSession handles GET /v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	session, err := h.sessions.GetSession(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, "failed to get session", err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.ToDocument(session))
}

// UpdateParticipant handles PUT /v1/sessions/{id}/participants/{participantId}
func (h *Handler) UpdateParticipant(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var doc models.ParticipantDocument
	if !h.decode(w, r, &doc) {
		return
	}
	participantID := chi.URLParam(r, "participantId")
	if doc.ID == "" {
		doc.ID = participantID
	}
	if doc.ID != participantID {
		h.respondError(w, r, "invalid participant", apperrors.New(apperrors.CodeInvalidArgument,
			fmt.Sprintf("body participant %q does not match path %q", doc.ID, participantID)))
		return
	}
	p, err := models.ParticipantFromDocument(doc)
	if err != nil {
		h.respondError(w, r, "invalid participant", err)
		return
	}

	session, err := h.sessions.UpdateParticipant(ctx, chi.URLParam(r, "id"), p)
	if err != nil {
		h.respondError(w, r, "failed to update participant", err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.ToDocument(session))
}

// UpdateCounters handles PUT /v1/sessions/{id}/counters
func (h *Handler) UpdateCounters(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var doc models.SessionDocument
	if !h.decode(w, r, &doc) {
		return
	}
	sessionID := chi.URLParam(r, "id")
	if doc.ID == "" {
		doc.ID = sessionID
	}
	if doc.ID != sessionID {
		h.respondError(w, r, "invalid session", apperrors.New(apperrors.CodeInvalidArgument,
			fmt.Sprintf("body session %q does not match path %q", doc.ID, sessionID)))
		return
	}
	incoming, err := models.FromDocument(doc)
	if err != nil {
		h.respondError(w, r, "invalid session", err)
		return
	}

	session, err := h.sessions.UpdateCounters(ctx, incoming)
	if err != nil {
		h.respondError(w, r, "failed to update counters", err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.ToDocument(session))
}

// LeaveSession handles POST /v1/sessions/{id}/leave
func (h *Handler) LeaveSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req models.LeaveSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.sessions.LeaveSession(ctx, chi.URLParam(r, "id"), req.ParticipantID)
	if err != nil {
		h.respondError(w, r, "failed to leave session", err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.ToDocument(session))
}

// GetArchived handles GET /v1/archive/{id}
func (h *Handler) GetArchived(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	archived, err := h.sessions.GetArchived(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, "failed to get archived session", err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.ToArchivedDocument(archived.Session, archived.EndedAt))
}

// ListArchived handles GET /v1/archive?code=
func (h *Handler) ListArchived(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	list, err := h.sessions.ListArchived(ctx, r.URL.Query().Get("code"))
	if err != nil {
		h.respondError(w, r, "failed to list archived sessions", err)
		return
	}
	docs := make([]models.ArchivedDocument, 0, len(list))
	for _, a := range list {
		docs = append(docs, models.ToArchivedDocument(a.Session, a.EndedAt))
	}
	h.respondJSON(w, http.StatusOK, docs)
}

// decode reads the JSON body into v and answers 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondError(w, r, "invalid request body", apperrors.Wrap(apperrors.CodeInvalidArgument, "malformed JSON", err))
		return false
	}
	return true
}

// respondJSON sends a JSON response
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("Failed to write response", logger.Err(err))
	}
}

// respondError sends an error response with the status the error code maps to
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, errorMsg string, err error) {
	status := apperrors.HTTPStatus(err)
	fields := []logger.Field{logger.Err(err), logger.F("request_id", GetRequestID(r.Context()))}
	if status >= http.StatusInternalServerError {
		h.logger.Error(errorMsg, fields...)
	} else {
		h.logger.Debug(errorMsg, fields...)
	}
	h.respondJSON(w, status, models.ErrorResponse{
		Error:   errorMsg,
		Message: err.Error(),
		Code:    string(apperrors.CodeOf(err)),
	})
}
