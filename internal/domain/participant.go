// Package domain contains entity without logic, just meta-data
package domain

import (
	"sort"
	"time"
)

const (
	MaxNicknameLen = 36
	DefaultName    = "Guest"
)

type (
	// MeetID is the backend meeting identifier (human-facing room code owner).
	MeetID string
	// ParticipantID identifies a roster row on the backend.
	ParticipantID string
	// SessionID is the id the transport assigns to a connected participant.
	SessionID string
)

// Origin says which identity space a participant record came from.
type Origin string

const (
	OriginInner Origin = "inner"
	OriginOuter Origin = "out"
)

// Participant is a read-only roster row owned by the backend.
type Participant struct {
	ParticipantID ParticipantID `json:"participantId"`
	Name          string        `json:"name"`
	Occupation    string        `json:"occupation,omitempty"`
	Device        string        `json:"device"`
	JoinTime      time.Time     `json:"joinTime"`
	Origin        Origin        `json:"type"`
}

// Roster is one fetch of the backend participant lists.
type Roster struct {
	Inner []Participant `json:"innerParticipants"`
	Outer []Participant `json:"outParticipants"`
	Total int           `json:"totalCount"`
}

// LatestOuter returns the most recently joined external participant,
// or nil when there is none. Used to recognize the local session's own
// row right after self-registration.
func (r *Roster) LatestOuter() *Participant {
	if len(r.Outer) == 0 {
		return nil
	}
	outer := make([]Participant, len(r.Outer))
	copy(outer, r.Outer)
	sort.Slice(outer, func(i, j int) bool {
		return outer[i].JoinTime.After(outer[j].JoinTime)
	})
	return &outer[0]
}

// Meeting is backend meeting info, consumed read-only.
type Meeting struct {
	MeetID    MeetID    `json:"meetId"`
	Topic     string    `json:"topic"`
	Status    string    `json:"status"`
	StartTime time.Time `json:"startTime"`
	Duration  int       `json:"duration"`
}
