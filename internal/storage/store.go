package storage

import (
	"context"
	"fmt"

	"github.com/tabletop-sync/lifesync/internal/apperrors"
	"github.com/tabletop-sync/lifesync/internal/models"
)

// MutateFunc receives the current session and returns its replacement.
// Returning an error aborts the write.
type MutateFunc func(current models.Session) (models.Session, error)

// SnapshotFunc receives every committed version of a session.
type SnapshotFunc func(models.Session)

// Store is the remote session store shared by every client of a session.
// Implementations exist for memory, Redis and SQLite.
type Store interface {
	// Create stores a new session. It fails with ErrSessionExists when the
	// id is taken.
	Create(ctx context.Context, session models.Session) error

	// Get returns the session with the given id.
	Get(ctx context.Context, id string) (models.Session, error)

	// GetByCode returns the session currently holding a join code.
	GetByCode(ctx context.Context, code string) (models.Session, error)

	// Mutate applies fn to the stored session as one atomic
	// read-modify-write and returns what was committed.
	Mutate(ctx context.Context, id string, fn MutateFunc) (models.Session, error)

	// Delete discards a session and frees its join code.
	Delete(ctx context.Context, id string) error

	// Subscribe delivers the current session and then every committed
	// version, in commit order, until the returned function is called.
	Subscribe(ctx context.Context, id string, fn SnapshotFunc) (func(), error)
}

// CheckCommit rejects a mutation result that changes the session id or moves
// the status backwards. Every Store runs it before committing.
func CheckCommit(id string, current, next models.Session) error {
	if next.ID != id {
		return apperrors.New(apperrors.CodeInvalidArgument, "mutation changed the session id")
	}
	if !current.Status.CanAdvanceTo(next.Status) {
		return apperrors.New(apperrors.CodeInvalidArgument,
			fmt.Sprintf("session status cannot move from %s to %s", current.Status, next.Status))
	}
	return nil
}

// Errors
var (
	ErrSessionNotFound = apperrors.ErrSessionNotFound
	ErrSessionExists   = apperrors.ErrSessionExists
)
