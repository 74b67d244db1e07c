// Package sqlite provides a SQLite-backed session store for single-device
// play. Subscriptions are served in-process.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/tabletop-sync/lifesync/internal/apperrors"
	"github.com/tabletop-sync/lifesync/internal/models"
	"github.com/tabletop-sync/lifesync/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	code        TEXT UNIQUE,
	status      TEXT NOT NULL,
	last_update INTEGER NOT NULL,
	document    TEXT NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_updated_at ON sessions (updated_at);
`

// Store persists sessions in SQLite.
type Store struct {
	sqlDB  *sql.DB
	mu     sync.Mutex
	fanout *storage.Fanout
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens a SQLite session store and creates its schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{
		sqlDB:  sqlDB,
		fanout: storage.NewFanout(),
		now:    time.Now,
	}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Create inserts one session.
func (s *Store) Create(ctx context.Context, session models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := encode(session)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO sessions (id, code, status, last_update, document, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID,
		nullableCode(session.Code),
		string(session.Status),
		session.LastUpdate,
		doc,
		toMillis(s.now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Wrap(apperrors.CodeSessionExists, fmt.Sprintf("session %s or code %s already exists", session.ID, session.Code), err)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, id string) (models.Session, error) {
	return s.getOne(ctx, s.sqlDB, `SELECT document FROM sessions WHERE id = ?`, id)
}

// GetByCode loads the session holding a join code.
func (s *Store) GetByCode(ctx context.Context, code string) (models.Session, error) {
	return s.getOne(ctx, s.sqlDB, `SELECT document FROM sessions WHERE code = ?`, code)
}

// List returns stored sessions, most recently updated first.
func (s *Store) List(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT document FROM sessions ORDER BY updated_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		session, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// Mutate runs fn inside a transaction.
func (s *Store) Mutate(ctx context.Context, id string, fn storage.MutateFunc) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return models.Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.getOne(ctx, tx, `SELECT document FROM sessions WHERE id = ?`, id)
	if err != nil {
		return models.Session{}, err
	}
	next, err := fn(current)
	if err != nil {
		return models.Session{}, err
	}
	if err := storage.CheckCommit(id, current, next); err != nil {
		return models.Session{}, err
	}
	doc, err := encode(next)
	if err != nil {
		return models.Session{}, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET code = ?, status = ?, last_update = ?, document = ?, updated_at = ? WHERE id = ?`,
		nullableCode(next.Code),
		string(next.Status),
		next.LastUpdate,
		doc,
		toMillis(s.now()),
		id,
	)
	if err != nil {
		return models.Session{}, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Session{}, fmt.Errorf("commit: %w", err)
	}

	s.fanout.Publish(next)
	return next, nil
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return storage.ErrSessionNotFound
	}
	s.fanout.Close(id)
	return nil
}

// Subscribe delivers the current session and every later commit made through
// this Store.
func (s *Store) Subscribe(ctx context.Context, id string, fn storage.SnapshotFunc) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.fanout.Subscribe(id, fn, &current), nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getOne(ctx context.Context, q queryer, query string, arg string) (models.Session, error) {
	var doc string
	err := q.QueryRowContext(ctx, query, arg).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Session{}, storage.ErrSessionNotFound
		}
		return models.Session{}, fmt.Errorf("get session: %w", err)
	}
	return decode(doc)
}

func nullableCode(code string) sql.NullString {
	return sql.NullString{String: code, Valid: code != ""}
}

func encode(session models.Session) (string, error) {
	data, err := json.Marshal(models.ToDocument(session))
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	return string(data), nil
}

func decode(raw string) (models.Session, error) {
	var doc models.SessionDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return models.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return models.FromDocument(doc)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed")
}
