// Package engine holds the pure counter arithmetic applied to sessions.
//
// Every function takes a session value and returns a new one. Inputs are never
// modified, there is no I/O and no clock, so the same inputs always produce
// the same output.
package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tabletop-sync/lifesync/internal/apperrors"
	"github.com/tabletop-sync/lifesync/internal/models"
)

// ApplyDelta adds amount to one counter of one participant.
//
// Life is clamped to [MinLife, MaxLife]. Poison, energy, experience and
// commander damage are floored at zero and have no upper bound. The amount
// itself never causes a failure.
//
// Parameters:
//   - s: Session to start from
//   - participantID: Owner of the counter
//   - counter: Counter to change; commander damage names the dealer
//   - amount: Signed delta
//
// Returns:
//   - The updated session, or s unchanged when the result equals the input
//   - UnknownParticipant, UnknownField or SessionEnded errors
func ApplyDelta(s models.Session, participantID string, counter models.Counter, amount int) (models.Session, error) {
	return mutateParticipant(s, participantID, func(p *models.Participant, out models.Session) error {
		cur, err := read(p, out, counter)
		if err != nil {
			return err
		}
		return write(p, counter, saturatingAdd(cur, amount))
	})
}

// MaxEntryDigits is the longest numeric entry SetAbsoluteInput accepts.
const MaxEntryDigits = 3

// saturatingAdd returns a+b pinned to the int range instead of wrapping.
func saturatingAdd(a, b int) int {
	switch {
	case b > 0 && a > math.MaxInt-b:
		return math.MaxInt
	case b < 0 && a < math.MinInt-b:
		return math.MinInt
	}
	return a + b
}

// SetAbsolute replaces one counter with value, applying the same clamping as
// ApplyDelta. Applying it twice with the same value is a no-op the second time.
func SetAbsolute(s models.Session, participantID string, counter models.Counter, value int) (models.Session, error) {
	return mutateParticipant(s, participantID, func(p *models.Participant, out models.Session) error {
		if _, err := read(p, out, counter); err != nil {
			return err
		}
		return write(p, counter, value)
	})
}

// SetAbsoluteInput is the numeric entry surface. Input must be one to
// MaxEntryDigits decimal digits. Anything else, including empty input, leaves
// the session unchanged and is not an error.
func SetAbsoluteInput(s models.Session, participantID string, counter models.Counter, raw string) (models.Session, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > MaxEntryDigits || strings.Trim(raw, "0123456789") != "" {
		return s, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return s, nil
	}
	return SetAbsolute(s, participantID, counter, value)
}

// SetDayNight moves a participant's day/night marker to state.
//
// From NONE the only entry is DAY, so a request for NIGHT lands on DAY.
// DAY and NIGHT alternate freely afterwards and NONE always clears.
func SetDayNight(s models.Session, participantID string, state models.DayNight) (models.Session, error) {
	if !state.Valid() {
		return s, apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("unknown day/night state %q", state))
	}
	return mutateParticipant(s, participantID, func(p *models.Participant, _ models.Session) error {
		p.Counters.DayNight = nextDayNight(p.Counters.DayNight, state)
		return nil
	})
}

// ToggleDayNight cycles NONE→DAY→NIGHT→DAY.
func ToggleDayNight(s models.Session, participantID string) (models.Session, error) {
	return mutateParticipant(s, participantID, func(p *models.Participant, _ models.Session) error {
		if p.Counters.DayNight == models.DayNightDay {
			p.Counters.DayNight = models.DayNightNight
		} else {
			p.Counters.DayNight = models.DayNightDay
		}
		return nil
	})
}

// SetDayNightAll applies SetDayNight to every participant.
func SetDayNightAll(s models.Session, state models.DayNight) (models.Session, error) {
	if !state.Valid() {
		return s, apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("unknown day/night state %q", state))
	}
	return mutateSession(s, func(out *models.Session) {
		for i := range out.Participants {
			c := &out.Participants[i].Counters
			c.DayNight = nextDayNight(c.DayNight, state)
		}
	})
}

// ResetSession puts every participant back to StartingLife with all other
// counters at zero and day/night cleared. Membership is untouched.
func ResetSession(s models.Session) (models.Session, error) {
	return mutateSession(s, func(out *models.Session) {
		resetCounters(out)
	})
}

// ToggleFormat swaps between the commander and standard starting life.
//
// A session at CommanderStartingLife switches to StandardStartingLife and
// FormatStandard; anything else switches to CommanderStartingLife and
// FormatCommander. Counters are reset with the new starting life only when
// every participant still sits at the previous starting life, so a game in
// progress keeps its totals.
func ToggleFormat(s models.Session) (models.Session, error) {
	return mutateSession(s, func(out *models.Session) {
		previous := out.StartingLife
		untouched := true
		for _, p := range out.Participants {
			if p.Counters.Life != previous {
				untouched = false
				break
			}
		}

		if previous == models.CommanderStartingLife {
			out.StartingLife = models.StandardStartingLife
			out.Format = models.FormatStandard
		} else {
			out.StartingLife = models.CommanderStartingLife
			out.Format = models.FormatCommander
		}

		if untouched {
			resetCounters(out)
		}
	})
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nextDayNight(cur, requested models.DayNight) models.DayNight {
	if cur == models.DayNightNone && requested == models.DayNightNight {
		return models.DayNightDay
	}
	return requested
}

func resetCounters(s *models.Session) {
	for i := range s.Participants {
		c := &s.Participants[i].Counters
		c.Life = s.StartingLife
		c.Poison = 0
		c.Energy = 0
		c.Experience = 0
		c.DayNight = models.DayNightNone
		for k := range c.CommanderDamage {
			c.CommanderDamage[k] = 0
		}
	}
}

// read returns the current value of counter, validating the commander
// counterparty against the session membership.
func read(p *models.Participant, s models.Session, counter models.Counter) (int, error) {
	c := p.Counters
	switch counter.Kind {
	case models.KindLife:
		return c.Life, nil
	case models.KindPoison:
		return c.Poison, nil
	case models.KindEnergy:
		return c.Energy, nil
	case models.KindExperience:
		return c.Experience, nil
	case models.KindCommanderDamage:
		from := counter.Counterparty
		if from == p.ID || s.IndexOf(from) < 0 {
			return 0, apperrors.New(apperrors.CodeUnknownParticipant, fmt.Sprintf("no commander damage from %q for %q", from, p.ID))
		}
		return c.CommanderDamage[from], nil
	}
	return 0, apperrors.New(apperrors.CodeUnknownField, fmt.Sprintf("unknown counter %q", counter.Kind))
}

func write(p *models.Participant, counter models.Counter, value int) error {
	c := &p.Counters
	switch counter.Kind {
	case models.KindLife:
		c.Life = Clamp(value, models.MinLife, models.MaxLife)
	case models.KindPoison:
		c.Poison = max(0, value)
	case models.KindEnergy:
		c.Energy = max(0, value)
	case models.KindExperience:
		c.Experience = max(0, value)
	case models.KindCommanderDamage:
		c.CommanderDamage[counter.Counterparty] = max(0, value)
	default:
		return apperrors.New(apperrors.CodeUnknownField, fmt.Sprintf("unknown counter %q", counter.Kind))
	}
	return nil
}

func checkWritable(s models.Session) error {
	if s.Status == models.StatusEnded {
		return apperrors.New(apperrors.CodeSessionEnded, fmt.Sprintf("session %s has ended", s.ID))
	}
	return nil
}

func mutateParticipant(s models.Session, participantID string, fn func(*models.Participant, models.Session) error) (models.Session, error) {
	if err := checkWritable(s); err != nil {
		return s, err
	}
	idx := s.IndexOf(participantID)
	if idx < 0 {
		return s, apperrors.New(apperrors.CodeUnknownParticipant, fmt.Sprintf("participant %q not in session", participantID))
	}
	out := s.Clone()
	if err := fn(&out.Participants[idx], out); err != nil {
		return s, err
	}
	return commit(s, out), nil
}

func mutateSession(s models.Session, fn func(*models.Session)) (models.Session, error) {
	if err := checkWritable(s); err != nil {
		return s, err
	}
	out := s.Clone()
	fn(&out)
	return commit(s, out), nil
}

// commit stamps a changed session: the logical clock advances and a waiting
// session becomes active. An unchanged result returns the original.
func commit(before, after models.Session) models.Session {
	if after.Equal(before) {
		return before
	}
	after.LastUpdate = before.LastUpdate + 1
	if after.Status == models.StatusWaiting {
		after.Status = models.StatusActive
	}
	return after
}
