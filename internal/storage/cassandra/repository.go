package cassandra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/tabletop-sync/lifesync/internal/models"
	"github.com/tabletop-sync/lifesync/internal/storage"
	"github.com/tabletop-sync/lifesync/pkg/logger"
)

// Repository keeps ended sessions in Cassandra
type Repository struct {
	client  *Client
	logger  *logger.Logger
	timeout time.Duration
	now     func() time.Time
}

var _ storage.Archiver = (*Repository)(nil)

// NewRepository creates a new Cassandra-backed archive
func NewRepository(client *Client, log *logger.Logger, timeout time.Duration) *Repository {
	return &Repository{
		client:  client,
		logger:  log.With(logger.F("component", "archive")),
		timeout: timeout,
		now:     time.Now,
	}
}

// Archive stores an ended session. Archiving the same session twice keeps
// the first copy.
func (r *Repository) Archive(ctx context.Context, session models.Session) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.archived_sessions
			(session_id, code, host_id, format, capacity, starting_life, participant_count, last_update, ended_at, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		IF NOT EXISTS`, r.client.Keyspace())

	queryCtx, cancel, err := r.queryContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	doc, err := encodeDocument(session)
	if err != nil {
		return err
	}

	applied, err := r.client.Session().Query(query,
		session.ID,
		session.Code,
		session.HostID,
		string(session.Format),
		session.Capacity,
		session.StartingLife,
		len(session.Participants),
		session.LastUpdate,
		r.now().UTC(),
		doc,
	).WithContext(queryCtx).ScanCAS(nil)
	if err != nil {
		r.logger.Error("Failed to archive session",
			logger.F("session_id", session.ID),
			logger.Err(err))
		return fmt.Errorf("failed to archive session: %w", err)
	}

	if !applied {
		r.logger.Debug("Session already archived", logger.F("session_id", session.ID))
		return nil
	}

	r.logger.Info("Session archived", logger.F("session_id", session.ID), logger.F("code", session.Code))
	return nil
}

// GetArchived retrieves an archived session by ID
func (r *Repository) GetArchived(ctx context.Context, sessionID string) (storage.ArchivedSession, error) {
	query := fmt.Sprintf(`
		SELECT document, ended_at
		FROM %s.archived_sessions
		WHERE session_id = ?`, r.client.Keyspace())

	queryCtx, cancel, err := r.queryContext(ctx)
	if err != nil {
		return storage.ArchivedSession{}, err
	}
	defer cancel()

	var (
		doc     string
		endedAt time.Time
	)
	err = r.client.Session().Query(query, sessionID).WithContext(queryCtx).Scan(&doc, &endedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return storage.ArchivedSession{}, storage.ErrSessionNotFound
		}
		r.logger.Error("Failed to read archived session",
			logger.F("session_id", sessionID),
			logger.Err(err))
		return storage.ArchivedSession{}, fmt.Errorf("failed to get archived session: %w", err)
	}

	session, err := decodeDocument(doc)
	if err != nil {
		return storage.ArchivedSession{}, err
	}
	return storage.ArchivedSession{Session: session, EndedAt: endedAt}, nil
}

// ListByCode returns every archived session that used a join code, using the
// secondary index.
func (r *Repository) ListByCode(ctx context.Context, code string) ([]storage.ArchivedSession, error) {
	query := fmt.Sprintf(`
		SELECT document, ended_at
		FROM %s.archived_sessions
		WHERE code = ?`, r.client.Keyspace())

	queryCtx, cancel, err := r.queryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	iter := r.client.Session().Query(query, code).WithContext(queryCtx).Iter()

	var (
		out     []storage.ArchivedSession
		doc     string
		endedAt time.Time
	)
	for iter.Scan(&doc, &endedAt) {
		session, err := decodeDocument(doc)
		if err != nil {
			r.logger.Warn("Skipping unreadable archive row", logger.F("code", code), logger.Err(err))
			continue
		}
		out = append(out, storage.ArchivedSession{Session: session, EndedAt: endedAt})
	}

	if err := iter.Close(); err != nil {
		r.logger.Error("Failed to list archived sessions",
			logger.F("code", code),
			logger.Err(err))
		return nil, fmt.Errorf("failed to list archived sessions: %w", err)
	}
	return out, nil
}

// queryContext applies the configured timeout unless ctx already carries a
// deadline, and fails fast on a cancelled context.
func (r *Repository) queryContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	queryCtx, cancel := ctx, context.CancelFunc(func() {})
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		queryCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}

	select {
	case <-queryCtx.Done():
		cancel()
		return nil, nil, fmt.Errorf("context cancelled: %w", queryCtx.Err())
	default:
	}
	return queryCtx, cancel, nil
}

func encodeDocument(s models.Session) (string, error) {
	data, err := json.Marshal(models.ToDocument(s))
	if err != nil {
		return "", fmt.Errorf("failed to encode session: %w", err)
	}
	return string(data), nil
}

func decodeDocument(raw string) (models.Session, error) {
	var doc models.SessionDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return models.Session{}, fmt.Errorf("failed to decode archived session: %w", err)
	}
	return models.FromDocument(doc)
}
