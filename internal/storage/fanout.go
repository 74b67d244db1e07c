package storage

import (
	"sync"

	"github.com/tabletop-sync/lifesync/internal/models"
)

// Fanout delivers session snapshots to in-process subscribers. Publish never
// blocks on a subscriber: each one drains its own queue on a goroutine, so
// callers may publish while holding their own locks and order is preserved.
type Fanout struct {
	mu   sync.Mutex
	next uint64
	subs map[string]map[uint64]*subscriber
}

// NewFanout creates an empty fanout.
func NewFanout() *Fanout {
	return &Fanout{subs: make(map[string]map[uint64]*subscriber)}
}

type subscriber struct {
	fn    SnapshotFunc
	mu    sync.Mutex
	queue []models.Session
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// Subscribe registers fn for session id. When initial is non-nil it is
// queued before any later publish.
func (f *Fanout) Subscribe(id string, fn SnapshotFunc, initial *models.Session) func() {
	sub := &subscriber{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	f.mu.Lock()
	f.next++
	subID := f.next
	if f.subs[id] == nil {
		f.subs[id] = make(map[uint64]*subscriber)
	}
	f.subs[id][subID] = sub
	if initial != nil {
		sub.push(initial.Clone())
	}
	f.mu.Unlock()

	go sub.run()

	return func() {
		f.mu.Lock()
		if m := f.subs[id]; m != nil {
			delete(m, subID)
			if len(m) == 0 {
				delete(f.subs, id)
			}
		}
		f.mu.Unlock()
		sub.stop()
	}
}

// Publish queues s for every subscriber of s.ID.
func (f *Fanout) Publish(s models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs[s.ID] {
		sub.push(s.Clone())
	}
}

// Close drops every subscriber of id after their queues drain.
func (f *Fanout) Close(id string) {
	f.mu.Lock()
	subs := f.subs[id]
	delete(f.subs, id)
	f.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (s *subscriber) push(snapshot models.Session) {
	s.mu.Lock()
	s.queue = append(s.queue, snapshot)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.wake:
			s.drain()
		case <-s.done:
			s.drain()
			return
		}
	}
}

func (s *subscriber) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.fn(next)
	}
}
