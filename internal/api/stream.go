package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tabletop-sync/lifesync/internal/models"
	"github.com/tabletop-sync/lifesync/internal/protocol"
	"github.com/tabletop-sync/lifesync/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
	readLimit  = 1 << 16
)

// Stream handles GET /v1/sessions/{id}/ws. It pushes the current snapshot on
// connect and a new one after every write. Frames sent by the client are
// ignored. The socket closes after an ENDED snapshot.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	// Fail before upgrading so the client sees a normal HTTP error.
	if _, err := h.sessions.GetSession(r.Context(), sessionID); err != nil {
		h.respondError(w, r, "failed to subscribe", err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", logger.Err(err), logger.F("session_id", sessionID))
		return
	}
	defer conn.Close()

	log := h.logger.With(logger.F("session_id", sessionID), logger.F("request_id", GetRequestID(r.Context())))

	// Snapshots are whole values, so only the newest pending one matters.
	pending := make(chan models.Session, 1)
	unsubscribe, err := h.sessions.Subscribe(r.Context(), sessionID, func(s models.Session) {
		select {
		case <-pending:
		default:
		}
		pending <- s
	})
	if err != nil {
		log.Warn("Subscribe failed", logger.Err(err))
		h.writeEnvelope(conn, protocol.MsgError, models.ErrorResponse{Error: "failed to subscribe", Message: err.Error()})
		return
	}
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(readLimit)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	log.Debug("Stream opened")
	for {
		select {
		case s := <-pending:
			if err := h.writeEnvelope(conn, protocol.MsgSnapshot, models.ToDocument(s)); err != nil {
				log.Debug("Stream write failed", logger.Err(err))
				return
			}
			if s.Status == models.StatusEnded {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(writeWait))
				log.Debug("Stream closed after session end")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			log.Debug("Stream closed by client")
			return
		}
	}
}

func (h *Handler) writeEnvelope(conn *websocket.Conn, t string, payload any) error {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients), same-origin pages and the configured allow-list.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if !strings.EqualFold(u.Host, r.Host) {
		h.logger.Warn("Rejected websocket origin", logger.F("origin", origin))
		return false
	}
	return true
}
