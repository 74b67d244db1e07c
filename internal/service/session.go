package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tabletop-sync/lifesync/internal/apperrors"
	"github.com/tabletop-sync/lifesync/internal/models"
	"github.com/tabletop-sync/lifesync/internal/storage"
	"github.com/tabletop-sync/lifesync/internal/telemetry"
	"github.com/tabletop-sync/lifesync/pkg/logger"
)

const maxCodeAttempts = 5

// errUnchanged aborts a store mutation that would write nothing new.
var errUnchanged = errors.New("unchanged")

// SessionService handles session lifecycle and the remote write surface
type SessionService struct {
	store    storage.Store
	archiver storage.Archiver
	logger   *logger.Logger
	newCode  CodeGenerator
	newID    func() string
}

// Option configures a SessionService.
type Option func(*SessionService)

// WithArchiver keeps a copy of every ended session.
func WithArchiver(a storage.Archiver) Option {
	return func(s *SessionService) { s.archiver = a }
}

// WithCodeGenerator replaces the random join code source.
func WithCodeGenerator(gen CodeGenerator) Option {
	return func(s *SessionService) { s.newCode = gen }
}

// WithIDGenerator replaces the uuid session id source.
func WithIDGenerator(gen func() string) Option {
	return func(s *SessionService) { s.newID = gen }
}

// NewSessionService creates a new session service
func NewSessionService(store storage.Store, log *logger.Logger, opts ...Option) *SessionService {
	if log == nil {
		log = logger.Discard()
	}
	s := &SessionService{
		store:   store,
		logger:  log.With(logger.F("component", "session")),
		newCode: GenerateCode,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession stores a new waiting session hosted by host.
func (s *SessionService) CreateSession(ctx context.Context, host models.Identity, format models.Format, capacity int) (session models.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.create", "", attribute.Int("session.capacity", capacity))
	defer func() { telemetry.End(span, err) }()

	if host.ID == "" {
		return models.Session{}, apperrors.New(apperrors.CodeInvalidArgument, "host id is required")
	}
	if capacity < models.MinCapacity || capacity > models.MaxCapacity {
		return models.Session{}, apperrors.New(apperrors.CodeInvalidCapacity,
			fmt.Sprintf("capacity must be between %d and %d, got %d", models.MinCapacity, models.MaxCapacity, capacity))
	}
	if !format.Valid() {
		return models.Session{}, apperrors.New(apperrors.CodeInvalidFormat, fmt.Sprintf("unknown format %q", format))
	}

	base := models.Session{
		ID:           s.newID(),
		HostID:       host.ID,
		HostName:     host.Name,
		Capacity:     capacity,
		Format:       format,
		StartingLife: models.StartingLifeFor(format),
		Status:       models.StatusWaiting,
	}
	base = base.AddParticipant(withDefaultName(host, 1), true)

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return models.Session{}, err
		}
		candidate := base.Clone()
		candidate.Code = code

		err = s.store.Create(ctx, candidate)
		if err == nil {
			s.logger.Info("Session created",
				logger.F("session_id", candidate.ID),
				logger.F("code", code),
				logger.F("format", string(format)),
				logger.Int("capacity", int64(capacity)))
			return candidate, nil
		}
		if !errors.Is(err, storage.ErrSessionExists) {
			return models.Session{}, fmt.Errorf("failed to create session: %w", err)
		}
		s.logger.Debug("Join code collision", logger.F("code", code), logger.Int("attempt", int64(attempt)))
	}
	return models.Session{}, apperrors.New(apperrors.CodeSessionExists, "could not allocate a free join code")
}

// JoinSession adds ident to the waiting session holding code. Joining a
// session one already belongs to returns it unchanged.
func (s *SessionService) JoinSession(ctx context.Context, code string, ident models.Identity) (session models.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.join", "")
	defer func() { telemetry.End(span, err) }()

	code = NormalizeCode(code)
	if !ValidCode(code) {
		return models.Session{}, apperrors.New(apperrors.CodeInvalidJoinCode, fmt.Sprintf("%q is not a valid join code", code))
	}
	if ident.ID == "" {
		return models.Session{}, apperrors.New(apperrors.CodeInvalidArgument, "participant id is required")
	}

	found, err := s.store.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return models.Session{}, apperrors.New(apperrors.CodeSessionNotFound, fmt.Sprintf("no open session with code %s", code))
		}
		return models.Session{}, fmt.Errorf("failed to look up code: %w", err)
	}

	var existing models.Session
	joined, err := s.store.Mutate(ctx, found.ID, func(current models.Session) (models.Session, error) {
		if current.IndexOf(ident.ID) >= 0 {
			existing = current
			return current, errUnchanged
		}
		if current.Status != models.StatusWaiting {
			return current, apperrors.New(apperrors.CodeSessionNotFound, fmt.Sprintf("no open session with code %s", code))
		}
		if current.Full() {
			return current, apperrors.New(apperrors.CodeSessionFull, fmt.Sprintf("session %s is full (%d/%d)", code, len(current.Participants), current.Capacity))
		}
		next := current.AddParticipant(withDefaultName(ident, len(current.Participants)+1), false)
		next.LastUpdate++
		return next, nil
	})
	if errors.Is(err, errUnchanged) {
		return existing, nil
	}
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return models.Session{}, apperrors.New(apperrors.CodeSessionNotFound, fmt.Sprintf("no open session with code %s", code))
		}
		return models.Session{}, fmt.Errorf("failed to join session: %w", err)
	}

	s.logger.Info("Participant joined",
		logger.F("session_id", joined.ID),
		logger.F("participant_id", ident.ID),
		logger.Int("participants", int64(len(joined.Participants))))
	return joined, nil
}

// LeaveSession ends the session for everyone. Subscribers observe the ENDED
// status before the session is archived and discarded.
func (s *SessionService) LeaveSession(ctx context.Context, sessionID, participantID string) (session models.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.leave", sessionID)
	defer func() { telemetry.End(span, err) }()

	ended, err := s.store.Mutate(ctx, sessionID, func(current models.Session) (models.Session, error) {
		if current.IndexOf(participantID) < 0 {
			return current, apperrors.New(apperrors.CodeUnknownParticipant, fmt.Sprintf("participant %q not in session", participantID))
		}
		next := current.Clone()
		next.Status = models.StatusEnded
		next.LastUpdate++
		return next, nil
	})
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to end session: %w", err)
	}

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, ended); err != nil {
			s.logger.Error("Failed to archive session", logger.F("session_id", sessionID), logger.Err(err))
		}
	}
	if err := s.store.Delete(ctx, sessionID); err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
		return models.Session{}, fmt.Errorf("failed to discard session: %w", err)
	}

	s.logger.Info("Session ended", logger.F("session_id", sessionID), logger.F("participant_id", participantID))
	return ended, nil
}

// UpdateParticipant replaces one participant record. The last writer wins.
// The stored host flag is kept.
func (s *SessionService) UpdateParticipant(ctx context.Context, sessionID string, p models.Participant) (session models.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.update_participant", sessionID, attribute.String("participant.id", p.ID))
	defer func() { telemetry.End(span, err) }()

	updated, err := s.store.Mutate(ctx, sessionID, func(current models.Session) (models.Session, error) {
		if current.Status == models.StatusEnded {
			return current, apperrors.New(apperrors.CodeSessionEnded, fmt.Sprintf("session %s has ended", sessionID))
		}
		idx := current.IndexOf(p.ID)
		if idx < 0 {
			return current, apperrors.New(apperrors.CodeUnknownParticipant, fmt.Sprintf("participant %q not in session", p.ID))
		}
		next := current.Clone()
		record := p.Clone()
		record.IsHost = current.Participants[idx].IsHost
		if record.Name == "" {
			record.Name = current.Participants[idx].Name
		}
		next.Participants[idx] = record
		if err := next.Validate(); err != nil {
			return current, err
		}
		return stamp(current, next), nil
	})
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to update participant: %w", err)
	}

	s.logger.Debug("Participant updated", logger.F("session_id", sessionID), logger.F("participant_id", p.ID))
	return updated, nil
}

// UpdateCounters writes every participant's counters plus the format and
// starting life from incoming. Membership must match the stored session.
func (s *SessionService) UpdateCounters(ctx context.Context, incoming models.Session) (session models.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.update_counters", incoming.ID)
	defer func() { telemetry.End(span, err) }()

	if !incoming.Format.Valid() {
		return models.Session{}, apperrors.New(apperrors.CodeInvalidFormat, fmt.Sprintf("unknown format %q", incoming.Format))
	}
	if incoming.StartingLife <= models.MinLife || incoming.StartingLife > models.MaxLife {
		return models.Session{}, apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("starting life %d out of range", incoming.StartingLife))
	}

	updated, err := s.store.Mutate(ctx, incoming.ID, func(current models.Session) (models.Session, error) {
		if current.Status == models.StatusEnded {
			return current, apperrors.New(apperrors.CodeSessionEnded, fmt.Sprintf("session %s has ended", incoming.ID))
		}
		if len(incoming.Participants) != len(current.Participants) {
			return current, apperrors.New(apperrors.CodeUnknownParticipant, "participant set does not match the session")
		}
		next := current.Clone()
		next.Format = incoming.Format
		next.StartingLife = incoming.StartingLife
		for _, p := range incoming.Participants {
			idx := next.IndexOf(p.ID)
			if idx < 0 {
				return current, apperrors.New(apperrors.CodeUnknownParticipant, fmt.Sprintf("participant %q not in session", p.ID))
			}
			next.Participants[idx].Counters = p.Counters.Clone()
		}
		if err := next.Validate(); err != nil {
			return current, err
		}
		return stamp(current, next), nil
	})
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to update counters: %w", err)
	}
	return updated, nil
}

// GetSession retrieves a session by ID
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	return s.store.Get(ctx, sessionID)
}

// GetArchived returns an ended session from the archive.
func (s *SessionService) GetArchived(ctx context.Context, sessionID string) (archived storage.ArchivedSession, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.get_archived", sessionID)
	defer func() { telemetry.End(span, err) }()

	if s.archiver == nil {
		return storage.ArchivedSession{}, apperrors.New(apperrors.CodeUnavailable, "no archive is configured")
	}
	archived, err = s.archiver.GetArchived(ctx, sessionID)
	if err != nil {
		return storage.ArchivedSession{}, fmt.Errorf("failed to read archive: %w", err)
	}
	return archived, nil
}

// ListArchived returns every ended session that used a join code.
func (s *SessionService) ListArchived(ctx context.Context, code string) (archived []storage.ArchivedSession, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.list_archived", "")
	defer func() { telemetry.End(span, err) }()

	code = NormalizeCode(code)
	if !ValidCode(code) {
		return nil, apperrors.New(apperrors.CodeInvalidJoinCode, fmt.Sprintf("%q is not a valid join code", code))
	}
	if s.archiver == nil {
		return nil, apperrors.New(apperrors.CodeUnavailable, "no archive is configured")
	}
	archived, err = s.archiver.ListByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive: %w", err)
	}
	return archived, nil
}

// Subscribe forwards to the store subscription.
func (s *SessionService) Subscribe(ctx context.Context, sessionID string, fn storage.SnapshotFunc) (func(), error) {
	return s.store.Subscribe(ctx, sessionID, fn)
}

// CreateLocalSession stores a single-device session. Participants get the
// slot ids "1".."n" and "Player N" when no name is given. There is no host
// and no join code.
func (s *SessionService) CreateLocalSession(ctx context.Context, format models.Format, names []string) (session models.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.create_local", "", attribute.Int("session.capacity", len(names)))
	defer func() { telemetry.End(span, err) }()

	n := len(names)
	if n < models.MinCapacity || n > models.MaxCapacity {
		return models.Session{}, apperrors.New(apperrors.CodeInvalidCapacity,
			fmt.Sprintf("local sessions need between %d and %d players, got %d", models.MinCapacity, models.MaxCapacity, n))
	}
	if !format.Valid() {
		return models.Session{}, apperrors.New(apperrors.CodeInvalidFormat, fmt.Sprintf("unknown format %q", format))
	}

	local := models.Session{
		ID:           s.newID(),
		Capacity:     n,
		Format:       format,
		StartingLife: models.StartingLifeFor(format),
		Status:       models.StatusActive,
	}
	for i, name := range names {
		local = local.AddParticipant(withDefaultName(models.Identity{ID: strconv.Itoa(i + 1), Name: name}, i+1), false)
	}

	if err := s.store.Create(ctx, local); err != nil {
		return models.Session{}, fmt.Errorf("failed to create local session: %w", err)
	}
	s.logger.Info("Local session created", logger.F("session_id", local.ID), logger.Int("players", int64(n)))
	return local, nil
}

// stamp advances the logical clock and activates a waiting session when the
// write changed anything.
func stamp(current, next models.Session) models.Session {
	if next.Equal(current) {
		return current
	}
	next.LastUpdate = current.LastUpdate + 1
	if next.Status == models.StatusWaiting {
		next.Status = models.StatusActive
	}
	return next
}

func withDefaultName(ident models.Identity, seat int) models.Identity {
	if ident.Name == "" {
		ident.Name = fmt.Sprintf("Player %d", seat)
	}
	return ident
}
