// Package client talks to a lifesync server over HTTP and websockets. A
// Client satisfies reconcile.Remote.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tabletop-sync/lifesync/internal/apperrors"
	"github.com/tabletop-sync/lifesync/internal/models"
	"github.com/tabletop-sync/lifesync/internal/protocol"
	"github.com/tabletop-sync/lifesync/internal/storage"
	"github.com/tabletop-sync/lifesync/internal/telemetry"
	"github.com/tabletop-sync/lifesync/pkg/logger"
)

const defaultTimeout = 10 * time.Second

// Client is an HTTP client for the session API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *logger.Logger
}

// New creates a client for the server at baseURL.
func New(baseURL string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout, Transport: telemetry.Transport(http.DefaultTransport)},
		dialer:     &websocket.Dialer{HandshakeTimeout: defaultTimeout},
		logger:     log.With(logger.F("component", "client")),
	}
}

func (c *Client) CreateSession(ctx context.Context, host models.Identity, format models.Format, capacity int) (models.Session, error) {
	return c.session(ctx, http.MethodPost, "/v1/sessions", models.CreateSessionRequest{
		HostID:   host.ID,
		HostName: host.Name,
		Format:   string(format),
		Capacity: capacity,
	})
}

func (c *Client) JoinSession(ctx context.Context, code string, ident models.Identity) (models.Session, error) {
	return c.session(ctx, http.MethodPost, "/v1/sessions/join", models.JoinSessionRequest{
		Code:          code,
		ParticipantID: ident.ID,
		Name:          ident.Name,
	})
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	return c.session(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(sessionID), nil)
}

func (c *Client) LeaveSession(ctx context.Context, sessionID, participantID string) (models.Session, error) {
	return c.session(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/leave",
		models.LeaveSessionRequest{ParticipantID: participantID})
}

// UpdateParticipant writes one participant record.
func (c *Client) UpdateParticipant(ctx context.Context, sessionID string, p models.Participant) (models.Session, error) {
	path := fmt.Sprintf("/v1/sessions/%s/participants/%s", url.PathEscape(sessionID), url.PathEscape(p.ID))
	return c.session(ctx, http.MethodPut, path, models.ParticipantToDocument(p))
}

// UpdateCounters writes every participant's counters with the session format.
func (c *Client) UpdateCounters(ctx context.Context, s models.Session) (models.Session, error) {
	return c.session(ctx, http.MethodPut, "/v1/sessions/"+url.PathEscape(s.ID)+"/counters", models.ToDocument(s))
}

// Subscribe opens the session stream. fn runs on the reader goroutine for
// every snapshot, starting with the current one. The returned function
// closes the stream.
func (c *Client) Subscribe(ctx context.Context, sessionID string, fn storage.SnapshotFunc) (func(), error) {
	wsURL, err := c.streamURL(sessionID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	telemetry.Inject(ctx, header)

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, fmt.Errorf("dial session stream: %w", err)
	}

	log := c.logger.With(logger.F("session_id", sessionID))
	go func() {
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Debug("Stream ended", logger.Err(err))
				}
				return
			}
			env, err := protocol.DecodeEnvelope(frame)
			if err != nil {
				log.Warn("Dropping malformed frame", logger.Err(err))
				continue
			}
			switch env.T {
			case protocol.MsgSnapshot:
				doc, err := protocol.DecodePayload[models.SessionDocument](env)
				if err != nil {
					log.Warn("Dropping malformed snapshot", logger.Err(err))
					continue
				}
				s, err := models.FromDocument(doc)
				if err != nil {
					log.Warn("Dropping invalid snapshot", logger.Err(err))
					continue
				}
				fn(s)
			case protocol.MsgError:
				resp, _ := protocol.DecodePayload[models.ErrorResponse](env)
				log.Warn("Stream error", logger.F("error", resp.Error), logger.F("message", resp.Message))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		})
	}, nil
}

func (c *Client) streamURL(sessionID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/sessions/" + url.PathEscape(sessionID) + "/ws"
	return u.String(), nil
}

// session performs a request whose response is a session document.
func (c *Client) session(ctx context.Context, method, path string, body interface{}) (models.Session, error) {
	var doc models.SessionDocument
	if err := c.do(ctx, method, path, body, &doc); err != nil {
		return models.Session{}, err
	}
	return models.FromDocument(doc)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError turns an error response back into a coded error.
func decodeError(resp *http.Response) error {
	var body models.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Code == "" {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	return apperrors.New(apperrors.Code(body.Code), msg)
}
