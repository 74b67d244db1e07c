// Package reconcile keeps a client's local session in step with the remote
// store. Local mutations apply immediately and are queued for the remote in
// commit order. Remote snapshots replace the local value wholesale.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tabletop-sync/lifesync/internal/apperrors"
	"github.com/tabletop-sync/lifesync/internal/engine"
	"github.com/tabletop-sync/lifesync/internal/models"
	"github.com/tabletop-sync/lifesync/internal/ramp"
	"github.com/tabletop-sync/lifesync/internal/storage"
	"github.com/tabletop-sync/lifesync/internal/telemetry"
	"github.com/tabletop-sync/lifesync/pkg/logger"
)

const defaultWriteTimeout = 10 * time.Second

// Remote is the write and subscribe surface of the remote store.
type Remote interface {
	UpdateParticipant(ctx context.Context, sessionID string, p models.Participant) (models.Session, error)
	UpdateCounters(ctx context.Context, session models.Session) (models.Session, error)
	Subscribe(ctx context.Context, sessionID string, fn storage.SnapshotFunc) (func(), error)
}

// Observer receives every new local session value.
type Observer func(models.Session)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithStrict makes contract violations panic instead of returning errors.
func WithStrict(strict bool) Option {
	return func(r *Reconciler) { r.strict = strict }
}

// WithNotice sets the callback for failed remote writes.
func WithNotice(fn func(error)) Option {
	return func(r *Reconciler) { r.notice = fn }
}

// WithWriteTimeout bounds each remote write.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.writeTimeout = d }
}

// Reconciler owns one client's view of a session.
type Reconciler struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	session  models.Session

	remote       Remote
	observers    map[int]Observer
	nextObserver int
	notice       func(error)
	strict       bool
	writeTimeout time.Duration
	logger       *logger.Logger

	// queue holds remote writes not yet sent, in commit order. One drain
	// goroutine runs while draining is set.
	queue    []write
	draining bool
	// held is the newest snapshot that arrived while writes were queued.
	held *models.Session
	// acked is the highest store LastUpdate returned for one of our writes.
	acked int64

	writes      sync.WaitGroup
	unsubscribe func()
}

// write is one queued remote write. participant is empty for session-wide
// writes.
type write struct {
	kind        string
	sessionID   string
	participant string
	send        func(ctx context.Context) (models.Session, error)
}

// supersedes reports whether w carries everything prev would have sent.
func (w write) supersedes(prev write) bool {
	return w.kind == prev.kind && w.participant == prev.participant
}

// New creates a reconciler around initial. A nil remote runs the session
// offline.
func New(initial models.Session, remote Remote, log *logger.Logger, opts ...Option) *Reconciler {
	if log == nil {
		log = logger.Discard()
	}
	r := &Reconciler{
		session:      initial.Clone(),
		remote:       remote,
		observers:    make(map[int]Observer),
		writeTimeout: defaultWriteTimeout,
		logger:       log.With(logger.F("component", "reconcile"), logger.F("session_id", initial.ID)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start subscribes to remote snapshots. It is a no-op offline.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.remote == nil {
		return nil
	}
	unsubscribe, err := r.remote.Subscribe(ctx, r.Session().ID, r.ApplyRemote)
	if err != nil {
		return fmt.Errorf("subscribe to session: %w", err)
	}
	r.mu.Lock()
	r.unsubscribe = unsubscribe
	r.mu.Unlock()
	return nil
}

// Stop ends the subscription and waits for in-flight writes.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	r.Wait()
}

// Wait blocks until the write queue has drained.
func (r *Reconciler) Wait() {
	r.writes.Wait()
}

// Session returns the current local value.
func (r *Reconciler) Session() models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Clone()
}

// Observe registers fn and returns a function that removes it. Observers
// run one at a time in commit order and must not mutate the reconciler
// synchronously.
func (r *Reconciler) Observe(fn Observer) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextObserver
	r.nextObserver++
	r.observers[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.observers, id)
	}
}

// ApplyDelta adds amount to a counter of participantID.
func (r *Reconciler) ApplyDelta(participantID string, counter models.Counter, amount int) error {
	return r.mutateParticipant(participantID, func(s models.Session) (models.Session, error) {
		return engine.ApplyDelta(s, participantID, counter, amount)
	})
}

// SetAbsolute replaces a counter of participantID.
func (r *Reconciler) SetAbsolute(participantID string, counter models.Counter, value int) error {
	return r.mutateParticipant(participantID, func(s models.Session) (models.Session, error) {
		return engine.SetAbsolute(s, participantID, counter, value)
	})
}

// SetAbsoluteInput applies raw numeric entry.
func (r *Reconciler) SetAbsoluteInput(participantID string, counter models.Counter, raw string) error {
	return r.mutateParticipant(participantID, func(s models.Session) (models.Session, error) {
		return engine.SetAbsoluteInput(s, participantID, counter, raw)
	})
}

func (r *Reconciler) SetDayNight(participantID string, state models.DayNight) error {
	return r.mutateParticipant(participantID, func(s models.Session) (models.Session, error) {
		return engine.SetDayNight(s, participantID, state)
	})
}

func (r *Reconciler) ToggleDayNight(participantID string) error {
	return r.mutateParticipant(participantID, func(s models.Session) (models.Session, error) {
		return engine.ToggleDayNight(s, participantID)
	})
}

// SetDayNightAll moves every participant's marker.
func (r *Reconciler) SetDayNightAll(state models.DayNight) error {
	return r.mutateSession(func(s models.Session) (models.Session, error) {
		return engine.SetDayNightAll(s, state)
	})
}

// ResetSession resets every participant.
func (r *Reconciler) ResetSession() error {
	return r.mutateSession(engine.ResetSession)
}

// ToggleFormat flips between commander and standard starting life.
func (r *Reconciler) ToggleFormat() error {
	return r.mutateSession(engine.ToggleFormat)
}

// NewRamp returns a press-and-hold controller whose steps are applied as
// deltas on this reconciler.
func (r *Reconciler) NewRamp(cfg ramp.Config, clock ramp.Clock) *ramp.Controller {
	return ramp.NewController(cfg, clock, func(participantID string, counter models.Counter, amount int) {
		// Rejections are already logged by the mutation path.
		_ = r.ApplyDelta(participantID, counter, amount)
	}, r.logger)
}

// ApplyRemote replaces the local value with a snapshot from the store. The
// remote is authoritative, so a snapshot older than the local value still
// wins. Snapshots that arrive while local writes are queued are held, and the
// newest one is applied once the queue drains. Snapshots older than a write
// the store has acknowledged are dropped.
func (r *Reconciler) ApplyRemote(snapshot models.Session) {
	r.mu.Lock()
	if snapshot.ID != r.session.ID {
		r.mu.Unlock()
		r.logger.Warn("Ignoring snapshot for another session", logger.F("snapshot_id", snapshot.ID))
		return
	}
	if snapshot.LastUpdate < r.acked {
		r.mu.Unlock()
		r.logger.Debug("Dropping snapshot behind an acknowledged write",
			logger.Int("remote_update", snapshot.LastUpdate),
			logger.Int("acked_update", r.acked))
		return
	}
	if r.draining {
		if r.held == nil || snapshot.LastUpdate >= r.held.LastUpdate {
			held := snapshot.Clone()
			r.held = &held
		}
		r.mu.Unlock()
		return
	}
	if snapshot.LastUpdate < r.session.LastUpdate {
		r.logger.Debug("Applying stale snapshot",
			logger.Int("remote_update", snapshot.LastUpdate),
			logger.Int("local_update", r.session.LastUpdate))
	}
	r.replaceLocked(snapshot.Clone())
}

// replaceLocked installs snapshot and notifies observers when it differs. It
// must be called with r.mu held and returns with it released.
func (r *Reconciler) replaceLocked(snapshot models.Session) {
	if snapshot.Equal(r.session) {
		r.mu.Unlock()
		return
	}
	r.session = snapshot
	r.commitLocked()
}

func (r *Reconciler) mutateParticipant(participantID string, op func(models.Session) (models.Session, error)) error {
	return r.apply(op, func(next models.Session) write {
		p, _ := next.Participant(participantID)
		return write{
			kind:        "participant",
			sessionID:   next.ID,
			participant: participantID,
			send: func(ctx context.Context) (models.Session, error) {
				return r.remote.UpdateParticipant(ctx, next.ID, p)
			},
		}
	})
}

func (r *Reconciler) mutateSession(op func(models.Session) (models.Session, error)) error {
	return r.apply(op, func(next models.Session) write {
		return write{
			kind:      "session",
			sessionID: next.ID,
			send: func(ctx context.Context) (models.Session, error) {
				return r.remote.UpdateCounters(ctx, next)
			},
		}
	})
}

// apply runs op against the local session. A changed value is queued for the
// remote under the same lock that commits it, so the queue follows commit
// order, and observers are notified.
func (r *Reconciler) apply(op func(models.Session) (models.Session, error), toWrite func(models.Session) write) error {
	r.mu.Lock()
	next, err := op(r.session)
	if err != nil {
		r.mu.Unlock()
		r.rejected(err)
		return err
	}
	if next.Equal(r.session) {
		r.mu.Unlock()
		return nil
	}
	r.session = next
	if r.remote != nil {
		r.enqueueLocked(toWrite(next.Clone()))
	}
	r.commitLocked()
	return nil
}

// commitLocked hands the lock over to observer delivery. It must be called
// with r.mu held and returns with it released.
func (r *Reconciler) commitLocked() {
	snapshot := r.session.Clone()
	observers := make([]Observer, 0, len(r.observers))
	for _, fn := range r.observers {
		observers = append(observers, fn)
	}
	r.notifyMu.Lock()
	r.mu.Unlock()
	defer r.notifyMu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}

func (r *Reconciler) rejected(err error) {
	if !apperrors.IsContractViolation(err) {
		r.logger.Debug("Mutation rejected", logger.Err(err))
		return
	}
	r.logger.Error("Contract violation", logger.Err(err))
	if r.strict {
		panic(err)
	}
}

// enqueueLocked appends w to the write queue and starts the drain goroutine
// when none is running. A queued write that has not been sent yet is replaced
// when w supersedes it.
func (r *Reconciler) enqueueLocked(w write) {
	if n := len(r.queue); n > 0 && w.supersedes(r.queue[n-1]) {
		r.queue[n-1] = w
	} else {
		r.queue = append(r.queue, w)
	}
	if r.draining {
		return
	}
	r.draining = true
	r.writes.Add(1)
	go r.drain()
}

// drain sends queued writes one at a time. When the queue is empty it applies
// the newest held snapshot unless an acknowledged write is newer.
func (r *Reconciler) drain() {
	defer r.writes.Done()
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.draining = false
			held := r.held
			r.held = nil
			if held == nil || held.LastUpdate < r.acked {
				r.mu.Unlock()
				return
			}
			r.replaceLocked(*held)
			return
		}
		w := r.queue[0]
		r.queue[0] = write{}
		r.queue = r.queue[1:]
		r.mu.Unlock()

		r.send(w)
	}
}

// send performs one remote write. Failures are reported and never rolled
// back.
func (r *Reconciler) send(w write) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "reconcile.write", w.sessionID, attribute.String("write.kind", w.kind))

	stored, err := w.send(ctx)
	telemetry.End(span, err)
	if err != nil {
		wrapped := apperrors.Wrap(apperrors.CodeRemoteWriteFailed, fmt.Sprintf("%s write failed", w.kind), err)
		r.logger.Warn("Remote write failed", logger.F("kind", w.kind), logger.Err(err))
		if r.notice != nil {
			r.notice(wrapped)
		}
		return
	}

	r.mu.Lock()
	if stored.ID == w.sessionID && stored.LastUpdate > r.acked {
		r.acked = stored.LastUpdate
	}
	r.mu.Unlock()
}
