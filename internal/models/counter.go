package models

import (
	"fmt"
	"strings"

	"github.com/tabletop-sync/lifesync/internal/apperrors"
)

// CounterKind names one of the tracked counters.
type CounterKind string

const (
	KindLife            CounterKind = "life"
	KindPoison          CounterKind = "poison"
	KindEnergy          CounterKind = "energy"
	KindExperience      CounterKind = "experience"
	KindCommanderDamage CounterKind = "commander"
)

// Counter addresses a single numeric counter. Counterparty is only set for
// commander damage and names the participant who dealt it.
type Counter struct {
	Kind         CounterKind
	Counterparty string
}

var (
	Life       = Counter{Kind: KindLife}
	Poison     = Counter{Kind: KindPoison}
	Energy     = Counter{Kind: KindEnergy}
	Experience = Counter{Kind: KindExperience}
)

// CommanderDamage addresses damage received from the commander of from.
func CommanderDamage(from string) Counter {
	return Counter{Kind: KindCommanderDamage, Counterparty: from}
}

// String renders the wire form: "life", "poison", "commander:<id>".
func (c Counter) String() string {
	if c.Kind == KindCommanderDamage {
		return string(c.Kind) + ":" + c.Counterparty
	}
	return string(c.Kind)
}

// ParseCounter reads the wire form produced by String.
func ParseCounter(raw string) (Counter, error) {
	raw = strings.TrimSpace(raw)
	if from, ok := strings.CutPrefix(raw, string(KindCommanderDamage)+":"); ok {
		if from == "" {
			return Counter{}, apperrors.New(apperrors.CodeUnknownParticipant, "commander counter needs a counterparty")
		}
		return CommanderDamage(from), nil
	}
	switch CounterKind(strings.ToLower(raw)) {
	case KindLife:
		return Life, nil
	case KindPoison:
		return Poison, nil
	case KindEnergy:
		return Energy, nil
	case KindExperience:
		return Experience, nil
	}
	return Counter{}, apperrors.New(apperrors.CodeUnknownField, fmt.Sprintf("unknown counter %q", raw))
}
