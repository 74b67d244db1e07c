package models

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/tabletop-sync/lifesync/internal/apperrors"
)

const (
	MinLife                = 0
	MaxLife                = 999
	PoisonDisplayThreshold = 10

	MinCapacity = 2
	MaxCapacity = 6

	CodeLength = 6

	StandardStartingLife  = 20
	BrawlStartingLife     = 25
	CommanderStartingLife = 40
)

// Format is the game format a session is played in.
type Format string

const (
	FormatStandard  Format = "STANDARD"
	FormatCommander Format = "COMMANDER"
	FormatModern    Format = "MODERN"
	FormatBrawl     Format = "BRAWL"
	FormatOther     Format = "OTHER"
)

// Valid reports whether f is one of the known formats.
func (f Format) Valid() bool {
	switch f {
	case FormatStandard, FormatCommander, FormatModern, FormatBrawl, FormatOther:
		return true
	}
	return false
}

// ParseFormat accepts a format name in any case. Legacy and oathbreaker
// tables play at twenty life and are folded into OTHER.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "STANDARD":
		return FormatStandard, nil
	case "COMMANDER", "EDH":
		return FormatCommander, nil
	case "MODERN":
		return FormatModern, nil
	case "BRAWL":
		return FormatBrawl, nil
	case "OTHER", "LEGACY", "OATHBREAKER":
		return FormatOther, nil
	}
	return "", apperrors.New(apperrors.CodeInvalidFormat, fmt.Sprintf("unknown format %q", raw))
}

// StartingLifeFor returns the life total every participant starts with.
func StartingLifeFor(f Format) int {
	switch f {
	case FormatCommander:
		return CommanderStartingLife
	case FormatBrawl:
		return BrawlStartingLife
	default:
		return StandardStartingLife
	}
}

// Status is the session lifecycle state. It only moves forward.
type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusActive  Status = "ACTIVE"
	StatusEnded   Status = "ENDED"
)

func (s Status) rank() int {
	switch s {
	case StatusWaiting:
		return 0
	case StatusActive:
		return 1
	case StatusEnded:
		return 2
	}
	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

// CanAdvanceTo reports whether moving from s to next keeps the status monotonic.
func (s Status) CanAdvanceTo(next Status) bool {
	return next.Valid() && next.rank() >= s.rank()
}

// DayNight is the per-participant day/night marker.
type DayNight string

const (
	DayNightNone  DayNight = "NONE"
	DayNightDay   DayNight = "DAY"
	DayNightNight DayNight = "NIGHT"
)

// Valid reports whether d is a known day/night state.
func (d DayNight) Valid() bool {
	switch d {
	case DayNightNone, DayNightDay, DayNightNight:
		return true
	}
	return false
}

// ParseDayNight accepts a state name in any case. An empty string is NONE.
func ParseDayNight(raw string) (DayNight, error) {
	d := DayNight(strings.ToUpper(strings.TrimSpace(raw)))
	if d == "" {
		return DayNightNone, nil
	}
	if !d.Valid() {
		return "", apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("unknown day/night state %q", raw))
	}
	return d, nil
}

// Identity is the opaque (id, name) pair handed out by the identity provider.
type Identity struct {
	ID   string
	Name string
}

// CounterSet holds everything tracked for one participant.
type CounterSet struct {
	Life       int
	Poison     int
	Energy     int
	Experience int
	DayNight   DayNight
	// CommanderDamage is keyed by the participant who dealt the damage.
	CommanderDamage map[string]int
}

// NewCounterSet returns fresh counters at startingLife with a zero commander
// entry for each of others.
func NewCounterSet(startingLife int, others ...string) CounterSet {
	cd := make(map[string]int, len(others))
	for _, id := range others {
		cd[id] = 0
	}
	return CounterSet{
		Life:            startingLife,
		DayNight:        DayNightNone,
		CommanderDamage: cd,
	}
}

// Clone returns a deep copy.
func (c CounterSet) Clone() CounterSet {
	out := c
	out.CommanderDamage = make(map[string]int, len(c.CommanderDamage))
	for k, v := range c.CommanderDamage {
		out.CommanderDamage[k] = v
	}
	return out
}

// Participant is one member of a session.
type Participant struct {
	ID       string
	Name     string
	IsHost   bool
	Counters CounterSet
}

// Clone returns a deep copy.
func (p Participant) Clone() Participant {
	out := p
	out.Counters = p.Counters.Clone()
	return out
}

// Session is an immutable value. Every operation that changes a session
// returns a new one.
type Session struct {
	ID           string
	Code         string
	HostID       string
	HostName     string
	Capacity     int
	Format       Format
	StartingLife int
	Status       Status
	Participants []Participant
	LastUpdate   int64
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	out.Participants = make([]Participant, len(s.Participants))
	for i, p := range s.Participants {
		out.Participants[i] = p.Clone()
	}
	return out
}

// Equal reports whether both sessions hold the same values. A nil
// participant list or commander map equals an empty one.
func (s Session) Equal(other Session) bool {
	return s.ID == other.ID &&
		s.Code == other.Code &&
		s.HostID == other.HostID &&
		s.HostName == other.HostName &&
		s.Capacity == other.Capacity &&
		s.Format == other.Format &&
		s.StartingLife == other.StartingLife &&
		s.Status == other.Status &&
		s.LastUpdate == other.LastUpdate &&
		slices.EqualFunc(s.Participants, other.Participants, Participant.Equal)
}

// Equal reports whether both participants hold the same values.
func (p Participant) Equal(other Participant) bool {
	return p.ID == other.ID &&
		p.Name == other.Name &&
		p.IsHost == other.IsHost &&
		p.Counters.Equal(other.Counters)
}

// Equal reports whether both counter sets hold the same values.
func (c CounterSet) Equal(other CounterSet) bool {
	return c.Life == other.Life &&
		c.Poison == other.Poison &&
		c.Energy == other.Energy &&
		c.Experience == other.Experience &&
		c.DayNight == other.DayNight &&
		maps.Equal(c.CommanderDamage, other.CommanderDamage)
}

// IndexOf returns the position of participant id or -1.
func (s Session) IndexOf(id string) int {
	for i, p := range s.Participants {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Participant returns the participant with the given id.
func (s Session) Participant(id string) (Participant, bool) {
	if i := s.IndexOf(id); i >= 0 {
		return s.Participants[i], true
	}
	return Participant{}, false
}

// Full reports whether the session is at capacity.
func (s Session) Full() bool {
	return len(s.Participants) >= s.Capacity
}

// ParticipantIDs returns ids in seat order.
func (s Session) ParticipantIDs() []string {
	ids := make([]string, len(s.Participants))
	for i, p := range s.Participants {
		ids[i] = p.ID
	}
	return ids
}

// AddParticipant appends a participant with fresh counters and gives every
// existing participant a zero commander entry for the newcomer. The caller
// is responsible for capacity and duplicate checks.
func (s Session) AddParticipant(ident Identity, isHost bool) Session {
	out := s.Clone()
	counters := NewCounterSet(out.StartingLife, out.ParticipantIDs()...)
	for i := range out.Participants {
		out.Participants[i].Counters.CommanderDamage[ident.ID] = 0
	}
	out.Participants = append(out.Participants, Participant{
		ID:       ident.ID,
		Name:     ident.Name,
		IsHost:   isHost,
		Counters: counters,
	})
	return out
}

// Validate checks the structural invariants of a session value.
func (s Session) Validate() error {
	if s.Capacity < MinCapacity || s.Capacity > MaxCapacity {
		return apperrors.New(apperrors.CodeInvalidCapacity, fmt.Sprintf("capacity %d outside [%d,%d]", s.Capacity, MinCapacity, MaxCapacity))
	}
	if !s.Format.Valid() {
		return apperrors.New(apperrors.CodeInvalidFormat, fmt.Sprintf("unknown format %q", s.Format))
	}
	if !s.Status.Valid() {
		return apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("unknown status %q", s.Status))
	}
	if len(s.Participants) > s.Capacity {
		return apperrors.New(apperrors.CodeSessionFull, fmt.Sprintf("%d participants exceed capacity %d", len(s.Participants), s.Capacity))
	}
	seen := make(map[string]struct{}, len(s.Participants))
	for _, p := range s.Participants {
		if p.ID == "" {
			return apperrors.New(apperrors.CodeInvalidArgument, "participant id is required")
		}
		if _, dup := seen[p.ID]; dup {
			return apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("duplicate participant %q", p.ID))
		}
		seen[p.ID] = struct{}{}
	}
	for _, p := range s.Participants {
		c := p.Counters
		if c.Life < MinLife || c.Life > MaxLife || c.Poison < 0 || c.Energy < 0 || c.Experience < 0 {
			return apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("participant %q has counters out of range", p.ID))
		}
		if !c.DayNight.Valid() {
			return apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("participant %q has unknown day/night %q", p.ID, c.DayNight))
		}
		if _, self := c.CommanderDamage[p.ID]; self {
			return apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("participant %q has a self commander entry", p.ID))
		}
		for other := range seen {
			if other == p.ID {
				continue
			}
			if _, ok := c.CommanderDamage[other]; !ok {
				return apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("participant %q lacks commander entry for %q", p.ID, other))
			}
		}
		for other, v := range c.CommanderDamage {
			if v < 0 {
				return apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("participant %q has negative commander damage from %q", p.ID, other))
			}
		}
	}
	return nil
}

// sortedKeys returns map keys in a stable order for serialization.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
