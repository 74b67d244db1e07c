package models

import (
	"fmt"
	"time"

	"github.com/tabletop-sync/lifesync/internal/apperrors"
)

// SessionDocument is the persisted and wire layout of a session.
type SessionDocument struct {
	ID           string                `json:"id"`
	Code         string                `json:"code"`
	Host         string                `json:"host"`
	HostName     string                `json:"hostName"`
	Format       string                `json:"format"`
	PlayerCount  int                   `json:"playerCount"`
	StartingLife int                   `json:"startingLife"`
	Status       string                `json:"status"`
	LastUpdate   int64                 `json:"lastUpdate"`
	Players      []ParticipantDocument `json:"players"`
}

// ParticipantDocument is the layout of one entry of players.
type ParticipantDocument struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	IsHost    bool             `json:"isHost"`
	Life      int              `json:"life"`
	Counters  CountersDocument `json:"counters"`
	Commander []CommanderEntry `json:"commander"`
}

type CountersDocument struct {
	Poison     int    `json:"poison"`
	Energy     int    `json:"energy"`
	Experience int    `json:"experience"`
	DayNight   string `json:"dayNight"`
}

type CommanderEntry struct {
	CounterpartyID string `json:"counterpartyId"`
	Damage         int    `json:"damage"`
}

// ToDocument converts a session to its document form. Commander entries are
// sorted by counterparty id.
func ToDocument(s Session) SessionDocument {
	players := make([]ParticipantDocument, len(s.Participants))
	for i, p := range s.Participants {
		players[i] = ParticipantToDocument(p)
	}
	return SessionDocument{
		ID:           s.ID,
		Code:         s.Code,
		Host:         s.HostID,
		HostName:     s.HostName,
		Format:       string(s.Format),
		PlayerCount:  s.Capacity,
		StartingLife: s.StartingLife,
		Status:       string(s.Status),
		LastUpdate:   s.LastUpdate,
		Players:      players,
	}
}

func ParticipantToDocument(p Participant) ParticipantDocument {
	entries := make([]CommanderEntry, 0, len(p.Counters.CommanderDamage))
	for _, id := range sortedKeys(p.Counters.CommanderDamage) {
		entries = append(entries, CommanderEntry{CounterpartyID: id, Damage: p.Counters.CommanderDamage[id]})
	}
	return ParticipantDocument{
		ID:     p.ID,
		Name:   p.Name,
		IsHost: p.IsHost,
		Life:   p.Counters.Life,
		Counters: CountersDocument{
			Poison:     p.Counters.Poison,
			Energy:     p.Counters.Energy,
			Experience: p.Counters.Experience,
			DayNight:   string(p.Counters.DayNight),
		},
		Commander: entries,
	}
}

// FromDocument converts a document back to a session and validates it.
func FromDocument(d SessionDocument) (Session, error) {
	format, err := ParseFormat(d.Format)
	if err != nil {
		return Session{}, err
	}
	s := Session{
		ID:           d.ID,
		Code:         d.Code,
		HostID:       d.Host,
		HostName:     d.HostName,
		Capacity:     d.PlayerCount,
		Format:       format,
		StartingLife: d.StartingLife,
		Status:       Status(d.Status),
		LastUpdate:   d.LastUpdate,
		Participants: make([]Participant, 0, len(d.Players)),
	}
	for _, pd := range d.Players {
		p, err := ParticipantFromDocument(pd)
		if err != nil {
			return Session{}, err
		}
		s.Participants = append(s.Participants, p)
	}
	if err := s.Validate(); err != nil {
		return Session{}, fmt.Errorf("invalid session document: %w", err)
	}
	return s, nil
}

func ParticipantFromDocument(d ParticipantDocument) (Participant, error) {
	dn, err := ParseDayNight(d.Counters.DayNight)
	if err != nil {
		return Participant{}, err
	}
	cd := make(map[string]int, len(d.Commander))
	for _, e := range d.Commander {
		if e.CounterpartyID == "" {
			return Participant{}, apperrors.New(apperrors.CodeInvalidArgument, "commander entry without counterparty")
		}
		cd[e.CounterpartyID] = e.Damage
	}
	return Participant{
		ID:     d.ID,
		Name:   d.Name,
		IsHost: d.IsHost,
		Counters: CounterSet{
			Life:            d.Life,
			Poison:          d.Counters.Poison,
			Energy:          d.Counters.Energy,
			Experience:      d.Counters.Experience,
			DayNight:        dn,
			CommanderDamage: cd,
		},
	}, nil
}

// CreateSessionRequest is the body of POST /v1/sessions.
type CreateSessionRequest struct {
	HostID   string `json:"hostId"`
	HostName string `json:"hostName"`
	Format   string `json:"format"`
	Capacity int    `json:"capacity"`
}

// JoinSessionRequest is the body of POST /v1/sessions/join.
type JoinSessionRequest struct {
	Code          string `json:"code"`
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
}

// LeaveSessionRequest is the body of POST /v1/sessions/{id}/leave.
type LeaveSessionRequest struct {
	ParticipantID string `json:"participantId"`
}

// ArchivedDocument is one entry of the archive routes.
type ArchivedDocument struct {
	Session SessionDocument `json:"session"`
	EndedAt time.Time       `json:"endedAt"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ToArchivedDocument converts an archived session for the wire.
func ToArchivedDocument(s Session, endedAt time.Time) ArchivedDocument {
	return ArchivedDocument{Session: ToDocument(s), EndedAt: endedAt}
}
