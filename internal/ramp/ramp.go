// Package ramp turns press-and-hold input into a sequence of counter deltas.
//
// A press applies an immediate coarse step. Releasing before Delay applies a
// single fine step. Holding past Delay applies a fine step and then another
// every Interval until release.
package ramp

import (
	"sync"
	"time"

	"github.com/tabletop-sync/lifesync/internal/models"
	"github.com/tabletop-sync/lifesync/pkg/logger"
)

// Direction is the sign applied to every step of a ramp.
type Direction int

const (
	Up   Direction = 1
	Down Direction = -1
)

// State of a single ramp.
type State int

const (
	Idle State = iota
	Armed
	Repeating
)

func (s State) String() string {
	switch s {
	case Armed:
		return "ARMED"
	case Repeating:
		return "REPEATING"
	default:
		return "IDLE"
	}
}

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Tests swap in a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock returns a Clock backed by time.AfterFunc.
func SystemClock() Clock {
	return systemClock{}
}

// Config holds step sizes and timings.
type Config struct {
	CoarseStep int
	FineStep   int
	Delay      time.Duration
	Interval   time.Duration
}

// DefaultConfig returns a 10/1 step pair with one second timings.
func DefaultConfig() Config {
	return Config{
		CoarseStep: 10,
		FineStep:   1,
		Delay:      time.Second,
		Interval:   time.Second,
	}
}

// ApplyFunc receives every delta a ramp produces. It runs with the
// controller locked and must not call back into the Controller.
type ApplyFunc func(participantID string, counter models.Counter, amount int)

type key struct {
	participantID string
	counter       models.Counter
}

type ramp struct {
	state State
	dir   Direction
	timer Timer
	gen   uint64
}

// Controller tracks at most one ramp per (participant, counter).
type Controller struct {
	mu     sync.Mutex
	cfg    Config
	clock  Clock
	apply  ApplyFunc
	ramps  map[key]*ramp
	nextID uint64
	log    *logger.Logger
}

// NewController creates a controller. A nil clock uses SystemClock and a nil
// logger discards output.
func NewController(cfg Config, clock Clock, apply ApplyFunc, log *logger.Logger) *Controller {
	if clock == nil {
		clock = SystemClock()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Controller{
		cfg:   cfg,
		clock: clock,
		apply: apply,
		ramps: make(map[key]*ramp),
		log:   log.With(logger.F("component", "ramp")),
	}
}

// Press starts a ramp. It returns false when one is already active for the
// same participant and counter.
func (c *Controller) Press(participantID string, counter models.Counter, dir Direction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{participantID: participantID, counter: counter}
	if _, active := c.ramps[k]; active {
		return false
	}

	c.nextID++
	r := &ramp{state: Armed, dir: dir, gen: c.nextID}
	c.ramps[k] = r

	if c.cfg.CoarseStep != 0 {
		c.apply(participantID, counter, int(dir)*c.cfg.CoarseStep)
	}
	r.timer = c.clock.AfterFunc(c.cfg.Delay, c.tickFunc(k, r.gen))

	c.log.Debug("ramp armed", logger.F("participant_id", participantID), logger.F("counter", counter.String()))
	return true
}

// Release ends a ramp. No tick is applied after Release returns. Releasing
// while still armed applies a single fine step.
func (c *Controller) Release(participantID string, counter models.Counter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{participantID: participantID, counter: counter}
	r, ok := c.ramps[k]
	if !ok {
		return
	}
	delete(c.ramps, k)
	if r.timer != nil {
		r.timer.Stop()
	}
	if r.state == Armed {
		c.apply(participantID, counter, int(r.dir)*c.cfg.FineStep)
	}

	c.log.Debug("ramp released", logger.F("participant_id", participantID), logger.F("counter", counter.String()), logger.F("state", r.state.String()))
}

// State reports the current state of a ramp.
func (c *Controller) State(participantID string, counter models.Counter) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.ramps[key{participantID: participantID, counter: counter}]; ok {
		return r.state
	}
	return Idle
}

// Stop cancels every active ramp without applying anything.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, r := range c.ramps {
		if r.timer != nil {
			r.timer.Stop()
		}
		delete(c.ramps, k)
	}
}

func (c *Controller) tickFunc(k key, gen uint64) func() {
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		// A release or a newer press may have won the lock first.
		r, ok := c.ramps[k]
		if !ok || r.gen != gen {
			return
		}
		r.state = Repeating
		c.apply(k.participantID, k.counter, int(r.dir)*c.cfg.FineStep)
		r.timer = c.clock.AfterFunc(c.cfg.Interval, c.tickFunc(k, gen))
	}
}
