package storage

import (
	"context"
	"sync"
	"time"

	"github.com/tabletop-sync/lifesync/internal/models"
)

// ArchivedSession is one ended session and the time it was archived.
type ArchivedSession struct {
	Session models.Session
	EndedAt time.Time
}

// Archiver keeps a copy of ended sessions. Archiving the same session twice
// keeps the first copy.
type Archiver interface {
	Archive(ctx context.Context, session models.Session) error

	// GetArchived fails with ErrSessionNotFound for an unknown id.
	GetArchived(ctx context.Context, id string) (ArchivedSession, error)

	// ListByCode returns every archived session that used code.
	ListByCode(ctx context.Context, code string) ([]ArchivedSession, error)
}

// MemoryArchive is an in-process Archiver for servers without Cassandra.
type MemoryArchive struct {
	mu    sync.RWMutex
	byID  map[string]ArchivedSession
	order []string
	now   func() time.Time
}

var _ Archiver = (*MemoryArchive)(nil)

// NewMemoryArchive creates an empty archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		byID: make(map[string]ArchivedSession),
		now:  time.Now,
	}
}

// Archive stores a copy of session unless its id is already archived.
func (a *MemoryArchive) Archive(ctx context.Context, session models.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.byID[session.ID]; exists {
		return nil
	}
	a.byID[session.ID] = ArchivedSession{Session: session.Clone(), EndedAt: a.now().UTC()}
	a.order = append(a.order, session.ID)
	return nil
}

// GetArchived returns the archived copy of id.
func (a *MemoryArchive) GetArchived(ctx context.Context, id string) (ArchivedSession, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	archived, ok := a.byID[id]
	if !ok {
		return ArchivedSession{}, ErrSessionNotFound
	}
	archived.Session = archived.Session.Clone()
	return archived, nil
}

// ListByCode returns the sessions that used code, oldest first.
func (a *MemoryArchive) ListByCode(ctx context.Context, code string) ([]ArchivedSession, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []ArchivedSession
	for _, id := range a.order {
		archived := a.byID[id]
		if archived.Session.Code != code {
			continue
		}
		archived.Session = archived.Session.Clone()
		out = append(out, archived)
	}
	return out, nil
}
