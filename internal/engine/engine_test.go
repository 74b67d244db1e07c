package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/tabletop-sync/lifesync/internal/apperrors"
	"github.com/tabletop-sync/lifesync/internal/models"
)

func newSession(format models.Format, ids ...string) models.Session {
	s := models.Session{
		ID:           "session-1",
		Code:         "ABC234",
		Capacity:     models.MaxCapacity,
		Format:       format,
		StartingLife: models.StartingLifeFor(format),
		Status:       models.StatusWaiting,
	}
	for i, id := range ids {
		s = s.AddParticipant(models.Identity{ID: id, Name: "Player " + id}, i == 0)
	}
	return s
}

func life(t *testing.T, s models.Session, id string) int {
	t.Helper()
	p, ok := s.Participant(id)
	if !ok {
		t.Fatalf("participant %s missing", id)
	}
	return p.Counters.Life
}

func TestApplyDelta_LifeClamped(t *testing.T) {
	tests := []struct {
		name     string
		start    int
		amount   int
		expected int
	}{
		{name: "simple decrement", start: 20, amount: -3, expected: 17},
		{name: "floor at zero", start: 40, amount: -50, expected: 0},
		{name: "ceiling at 999", start: 990, amount: 25, expected: 999},
		{name: "large negative", start: 5, amount: -1 << 30, expected: 0},
		{name: "large positive", start: 5, amount: 1 << 30, expected: 999},
		{name: "zero amount", start: 20, amount: 0, expected: 20},
		{name: "max int saturates high", start: 40, amount: math.MaxInt, expected: 999},
		{name: "min int saturates low", start: 40, amount: math.MinInt, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(models.FormatStandard, "A", "B")
			s.Participants[0].Counters.Life = tt.start

			result, err := ApplyDelta(s, "A", models.Life, tt.amount)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := life(t, result, "A"); got != tt.expected {
				t.Errorf("Expected life %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestApplyDelta_ClampThenResume(t *testing.T) {
	s := newSession(models.FormatStandard, "A", "B")
	var err error
	for i := 0; i < 30; i++ {
		s, err = ApplyDelta(s, "A", models.Life, -1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := life(t, s, "A"); got != 0 {
		t.Fatalf("Expected life to stop at 0, got %d", got)
	}

	s, _ = ApplyDelta(s, "A", models.Life, 1)
	if got := life(t, s, "A"); got != 1 {
		t.Errorf("Expected life to resume at 1 after reversing, got %d", got)
	}
}

func TestApplyDelta_NonLifeCountersUnbounded(t *testing.T) {
	s := newSession(models.FormatStandard, "A", "B")
	var err error
	for i := 0; i < 200; i++ {
		s, err = ApplyDelta(s, "A", models.Poison, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	p, _ := s.Participant("A")
	if p.Counters.Poison != 200 {
		t.Errorf("Expected poison 200, got %d", p.Counters.Poison)
	}

	for _, c := range []models.Counter{models.Energy, models.Experience, models.Poison} {
		s, _ = ApplyDelta(s, "A", c, -1000)
	}
	p, _ = s.Participant("A")
	if p.Counters.Poison != 0 || p.Counters.Energy != 0 || p.Counters.Experience != 0 {
		t.Errorf("Expected counters floored at 0, got %+v", p.Counters)
	}
}

func TestApplyDelta_ExtremeAmounts(t *testing.T) {
	tests := []struct {
		name     string
		counter  models.Counter
		start    int
		amount   int
		expected int
	}{
		{name: "poison max int", counter: models.Poison, start: 5, amount: math.MaxInt, expected: math.MaxInt},
		{name: "poison min int", counter: models.Poison, start: 5, amount: math.MinInt, expected: 0},
		{name: "poison already at max", counter: models.Poison, start: math.MaxInt, amount: 1, expected: math.MaxInt},
		{name: "commander max int", counter: models.CommanderDamage("B"), start: 21, amount: math.MaxInt, expected: math.MaxInt},
		{name: "commander min int", counter: models.CommanderDamage("B"), start: 21, amount: math.MinInt, expected: 0},
		{name: "life max int from zero", counter: models.Life, start: 0, amount: math.MaxInt, expected: 999},
		{name: "life min int from max", counter: models.Life, start: 999, amount: math.MinInt, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(models.FormatCommander, "A", "B")
			c := &s.Participants[0].Counters
			switch tt.counter.Kind {
			case models.KindLife:
				c.Life = tt.start
			case models.KindPoison:
				c.Poison = tt.start
			case models.KindCommanderDamage:
				c.CommanderDamage[tt.counter.Counterparty] = tt.start
			}

			result, err := ApplyDelta(s, "A", tt.counter, tt.amount)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			p, _ := result.Participant("A")
			var got int
			switch tt.counter.Kind {
			case models.KindLife:
				got = p.Counters.Life
			case models.KindPoison:
				got = p.Counters.Poison
			case models.KindCommanderDamage:
				got = p.Counters.CommanderDamage[tt.counter.Counterparty]
			}
			if got != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestApplyDelta_Errors(t *testing.T) {
	s := newSession(models.FormatCommander, "A", "B")

	tests := []struct {
		name          string
		participantID string
		counter       models.Counter
		expected      error
	}{
		{name: "unknown participant", participantID: "Z", counter: models.Life, expected: apperrors.ErrUnknownParticipant},
		{name: "unknown field", participantID: "A", counter: models.Counter{Kind: "storm"}, expected: apperrors.ErrUnknownField},
		{name: "self commander damage", participantID: "A", counter: models.CommanderDamage("A"), expected: apperrors.ErrUnknownParticipant},
		{name: "absent counterparty", participantID: "A", counter: models.CommanderDamage("Z"), expected: apperrors.ErrUnknownParticipant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ApplyDelta(s, tt.participantID, tt.counter, 1)
			if !errors.Is(err, tt.expected) {
				t.Fatalf("Expected %v, got %v", tt.expected, err)
			}
			if !result.Equal(s) {
				t.Error("Expected session unchanged on error")
			}
		})
	}
}

func TestApplyDelta_DoesNotMutateInput(t *testing.T) {
	s := newSession(models.FormatCommander, "A", "B")
	before := s.Clone()

	_, err := ApplyDelta(s, "B", models.CommanderDamage("A"), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Equal(before) {
		t.Error("ApplyDelta mutated its input")
	}
}

func TestApplyDelta_PromotesAndStamps(t *testing.T) {
	s := newSession(models.FormatStandard, "A", "B")

	result, err := ApplyDelta(s, "A", models.Life, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.StatusActive {
		t.Errorf("Expected status ACTIVE, got %s", result.Status)
	}
	if result.LastUpdate != s.LastUpdate+1 {
		t.Errorf("Expected LastUpdate %d, got %d", s.LastUpdate+1, result.LastUpdate)
	}

	// A clamped no-op is not a change.
	s.Participants[0].Counters.Life = 0
	noop, _ := ApplyDelta(s, "A", models.Life, -1)
	if noop.Status != models.StatusWaiting || noop.LastUpdate != s.LastUpdate {
		t.Errorf("Expected no-op to leave status and clock alone, got %s/%d", noop.Status, noop.LastUpdate)
	}
}

func TestMutations_RejectEndedSession(t *testing.T) {
	s := newSession(models.FormatStandard, "A", "B")
	s.Status = models.StatusEnded

	ops := map[string]func() (models.Session, error){
		"ApplyDelta":   func() (models.Session, error) { return ApplyDelta(s, "A", models.Life, 1) },
		"SetAbsolute":  func() (models.Session, error) { return SetAbsolute(s, "A", models.Life, 10) },
		"SetDayNight":  func() (models.Session, error) { return SetDayNight(s, "A", models.DayNightDay) },
		"ResetSession": func() (models.Session, error) { return ResetSession(s) },
		"ToggleFormat": func() (models.Session, error) { return ToggleFormat(s) },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			if _, err := op(); !errors.Is(err, apperrors.ErrSessionEnded) {
				t.Errorf("Expected ErrSessionEnded, got %v", err)
			}
		})
	}
}

func TestSetAbsolute_Idempotent(t *testing.T) {
	s := newSession(models.FormatStandard, "A", "B")

	once, err := SetAbsolute(s, "A", models.Life, 1234)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	twice, err := SetAbsolute(once, "A", models.Life, 1234)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if life(t, once, "A") != 999 {
		t.Errorf("Expected clamp to 999, got %d", life(t, once, "A"))
	}
	if !once.Equal(twice) {
		t.Error("Expected second SetAbsolute to be a no-op")
	}
}

func TestSetAbsoluteInput(t *testing.T) {
	s := newSession(models.FormatStandard, "A", "B")

	tests := []struct {
		name     string
		raw      string
		expected int
	}{
		{name: "digits", raw: "35", expected: 35},
		{name: "padded", raw: " 7 ", expected: 7},
		{name: "empty is no-op", raw: "", expected: 20},
		{name: "garbage is no-op", raw: "1x", expected: 20},
		{name: "three digits", raw: "999", expected: 999},
		{name: "leading zero", raw: "007", expected: 7},
		{name: "four digits is no-op", raw: "5000", expected: 20},
		{name: "sign is no-op", raw: "-5", expected: 20},
		{name: "plus sign is no-op", raw: "+5", expected: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := SetAbsoluteInput(s, "A", models.Life, tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := life(t, result, "A"); got != tt.expected {
				t.Errorf("Expected life %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestSetDayNight_Transitions(t *testing.T) {
	tests := []struct {
		name      string
		current   models.DayNight
		requested models.DayNight
		expected  models.DayNight
	}{
		{name: "none to day", current: models.DayNightNone, requested: models.DayNightDay, expected: models.DayNightDay},
		{name: "none to night enters day", current: models.DayNightNone, requested: models.DayNightNight, expected: models.DayNightDay},
		{name: "day to night", current: models.DayNightDay, requested: models.DayNightNight, expected: models.DayNightNight},
		{name: "night to day", current: models.DayNightNight, requested: models.DayNightDay, expected: models.DayNightDay},
		{name: "clear", current: models.DayNightNight, requested: models.DayNightNone, expected: models.DayNightNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(models.FormatStandard, "A", "B")
			s.Participants[0].Counters.DayNight = tt.current

			result, err := SetDayNight(s, "A", tt.requested)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			p, _ := result.Participant("A")
			if p.Counters.DayNight != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, p.Counters.DayNight)
			}
		})
	}

	if _, err := SetDayNight(newSession(models.FormatStandard, "A", "B"), "A", "DUSK"); !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for unknown state, got %v", err)
	}
}

func TestToggleDayNight_Cycle(t *testing.T) {
	s := newSession(models.FormatStandard, "A", "B")
	want := []models.DayNight{models.DayNightDay, models.DayNightNight, models.DayNightDay, models.DayNightNight}

	for i, expected := range want {
		var err error
		s, err = ToggleDayNight(s, "A")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p, _ := s.Participant("A")
		if p.Counters.DayNight != expected {
			t.Errorf("toggle %d: expected %s, got %s", i+1, expected, p.Counters.DayNight)
		}
	}
}

func TestSetDayNightAll(t *testing.T) {
	s := newSession(models.FormatStandard, "A", "B", "C")
	s.Participants[1].Counters.DayNight = models.DayNightDay

	result, err := SetDayNightAll(s, models.DayNightNight)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := map[string]models.DayNight{
		"A": models.DayNightDay,
		"B": models.DayNightNight,
		"C": models.DayNightDay,
	}
	for id, want := range expected {
		p, _ := result.Participant(id)
		if p.Counters.DayNight != want {
			t.Errorf("participant %s: expected %s, got %s", id, want, p.Counters.DayNight)
		}
	}
}

func TestResetSession_RoundTrip(t *testing.T) {
	s := newSession(models.FormatStandard, "A", "B")
	fresh := s.Clone()

	s, _ = ApplyDelta(s, "A", models.Life, -7)
	s, _ = ApplyDelta(s, "B", models.Poison, 3)
	s, _ = ApplyDelta(s, "A", models.Energy, 2)
	s, _ = ApplyDelta(s, "B", models.Experience, 4)
	s, _ = ApplyDelta(s, "A", models.CommanderDamage("B"), 5)
	s, _ = SetDayNight(s, "B", models.DayNightDay)

	reset, err := ResetSession(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(reset.Participants) != len(fresh.Participants) {
		t.Fatalf("Expected membership untouched")
	}
	for i := range reset.Participants {
		got := reset.Participants[i].Counters
		want := fresh.Participants[i].Counters
		if got.Life != want.Life || got.Poison != 0 || got.Energy != 0 || got.Experience != 0 || got.DayNight != models.DayNightNone {
			t.Errorf("participant %d not reset: %+v", i, got)
		}
		for k, v := range got.CommanderDamage {
			if v != 0 {
				t.Errorf("participant %d commander from %s = %d", i, k, v)
			}
		}
		if len(got.CommanderDamage) != len(want.CommanderDamage) {
			t.Errorf("participant %d lost commander entries", i)
		}
	}
}

func TestCommanderScenario(t *testing.T) {
	s := newSession(models.FormatCommander, "A", "B", "C", "D")

	for _, p := range s.Participants {
		if p.Counters.Life != 40 {
			t.Errorf("%s: expected 40 life, got %d", p.ID, p.Counters.Life)
		}
		if len(p.Counters.CommanderDamage) != 3 {
			t.Errorf("%s: expected 3 commander entries, got %d", p.ID, len(p.Counters.CommanderDamage))
		}
		for _, v := range p.Counters.CommanderDamage {
			if v != 0 {
				t.Errorf("%s: expected zero commander damage", p.ID)
			}
		}
	}

	hit, err := ApplyDelta(s, "B", models.CommanderDamage("A"), 21)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := hit.Participant("B")
	if b.Counters.CommanderDamage["A"] != 21 {
		t.Errorf("Expected B to have taken 21 from A, got %d", b.Counters.CommanderDamage["A"])
	}
	a, _ := hit.Participant("A")
	if a.Counters.CommanderDamage["B"] != 0 {
		t.Error("Expected A's record untouched")
	}

	reset, err := ResetSession(hit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range reset.Participants {
		if p.Counters.Life != 40 {
			t.Errorf("%s: expected 40 after reset, got %d", p.ID, p.Counters.Life)
		}
		for from, v := range p.Counters.CommanderDamage {
			if v != 0 {
				t.Errorf("%s: commander from %s = %d after reset", p.ID, from, v)
			}
		}
	}
}

func TestToggleFormat(t *testing.T) {
	t.Run("untouched commander game resets to 20", func(t *testing.T) {
		s := newSession(models.FormatCommander, "A", "B")

		result, err := ToggleFormat(s)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.StartingLife != 20 || result.Format != models.FormatStandard {
			t.Errorf("Expected STANDARD/20, got %s/%d", result.Format, result.StartingLife)
		}
		if life(t, result, "A") != 20 || life(t, result, "B") != 20 {
			t.Error("Expected lives reset to 20")
		}
	})

	t.Run("game in progress keeps totals", func(t *testing.T) {
		s := newSession(models.FormatStandard, "A", "B")
		s, _ = ApplyDelta(s, "A", models.Life, -5)

		result, err := ToggleFormat(s)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.StartingLife != 40 || result.Format != models.FormatCommander {
			t.Errorf("Expected COMMANDER/40, got %s/%d", result.Format, result.StartingLife)
		}
		if life(t, result, "A") != 15 || life(t, result, "B") != 20 {
			t.Errorf("Expected totals kept, got %d/%d", life(t, result, "A"), life(t, result, "B"))
		}
	})

	t.Run("brawl toggles to commander", func(t *testing.T) {
		s := newSession(models.FormatBrawl, "A", "B")
		result, _ := ToggleFormat(s)
		if result.StartingLife != 40 || life(t, result, "A") != 40 {
			t.Errorf("Expected brawl table to reset at 40, got %d/%d", result.StartingLife, life(t, result, "A"))
		}
	})
}

func BenchmarkApplyDelta(b *testing.B) {
	s := newSession(models.FormatCommander, "A", "B", "C", "D", "E", "F")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ApplyDelta(s, "C", models.Life, -1)
	}
}

func BenchmarkResetSession(b *testing.B) {
	s := newSession(models.FormatCommander, "A", "B", "C", "D", "E", "F")
	s, _ = ApplyDelta(s, "A", models.Life, -10)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ResetSession(s)
	}
}
