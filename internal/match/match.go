// Package match owns the Match record and the state machine that turns a
// one-sided like into a mutually confirmed roommate request.
//
// The observable (Type, Status) pair moves along
//
//	LIKE/PENDING -> REQUEST/PENDING -> REQUEST/ACCEPTED | REQUEST/REJECTED
//
// and a LIKE/PENDING record may instead be deleted by its sender. All state
// changes go through the methods in this file; storage only persists what
// they produce.
package match

import (
	"time"

	"github.com/unimate/roommate/internal/apperror"
)

// Type is the phase of a Match.
type Type string

const (
	TypeLike    Type = "LIKE"
	TypeRequest Type = "REQUEST"
)

// Status is both the derived overall outcome and a single participant's
// response.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"

	// StatusNone is used only in projections when no record exists.
	StatusNone Status = "NONE"
)

// TypeNone is used only in projections when no record exists.
const TypeNone Type = "NONE"

// Match is the persisted interest record for one unordered user pair.
type Match struct {
	ID               int64      `json:"id"`
	SenderID         int64      `json:"sender_id"`
	ReceiverID       int64      `json:"receiver_id"`
	Type             Type       `json:"match_type"`
	Status           Status     `json:"match_status"`
	SenderResponse   Status     `json:"sender_response"`
	ReceiverResponse Status     `json:"receiver_response"`
	PreferenceScore  float64    `json:"preference_score"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty"`
	RematchRound     int        `json:"rematch_round"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewLike returns an unsaved LIKE/PENDING record from sender to receiver.
func NewLike(sender, receiver int64, score float64, now time.Time) *Match {
	return &Match{
		SenderID:         sender,
		ReceiverID:       receiver,
		Type:             TypeLike,
		Status:           StatusPending,
		SenderResponse:   StatusPending,
		ReceiverResponse: StatusPending,
		PreferenceScore:  score,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Clone returns a deep copy.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	if m.ConfirmedAt != nil {
		t := *m.ConfirmedAt
		c.ConfirmedAt = &t
	}
	return &c
}

// IsParticipant reports whether user is the sender or the receiver.
func (m *Match) IsParticipant(user int64) bool {
	return user == m.SenderID || user == m.ReceiverID
}

// Partner returns the other participant, or 0 if user is not one.
func (m *Match) Partner(user int64) int64 {
	switch user {
	case m.SenderID:
		return m.ReceiverID
	case m.ReceiverID:
		return m.SenderID
	}
	return 0
}

// ResponseOf returns user's recorded response.
func (m *Match) ResponseOf(user int64) Status {
	switch user {
	case m.SenderID:
		return m.SenderResponse
	case m.ReceiverID:
		return m.ReceiverResponse
	}
	return StatusNone
}

// HasResponded reports whether user already answered the request.
func (m *Match) HasResponded(user int64) bool {
	r := m.ResponseOf(user)
	return r == StatusAccepted || r == StatusRejected
}

// Finalized reports whether the derived status is terminal.
func (m *Match) Finalized() bool {
	return m.Status == StatusAccepted || m.Status == StatusRejected
}

// SpokenFor reports whether the pair is already committed to each other by
// a pending or accepted request.
func (m *Match) SpokenFor() bool {
	return m.Type == TypeRequest && (m.Status == StatusPending || m.Status == StatusAccepted)
}

// LikeAction is the outcome of planning a like against the current record.
type LikeAction int

const (
	// LikeCreate inserts a fresh LIKE record.
	LikeCreate LikeAction = iota + 1
	// LikeUpgrade completes a mutual like on the partner's record.
	LikeUpgrade
)

// PlanLike decides what a like from sender to receiver does given the
// existing record for the pair, which may be nil.
func PlanLike(existing *Match, sender, receiver int64) (LikeAction, error) {
	if sender == receiver {
		return 0, apperror.BadRequest("cannot like yourself")
	}
	if existing == nil {
		return LikeCreate, nil
	}
	if existing.Type == TypeRequest {
		return 0, apperror.Conflict("a match request is already in progress with this user")
	}
	if existing.SenderID == sender {
		return 0, apperror.Conflict("like already sent to this user")
	}
	return LikeUpgrade, nil
}

// UpgradeToRequest turns a LIKE into a REQUEST with initiator recorded as
// sender. Responses and status are left untouched.
func (m *Match) UpgradeToRequest(initiator int64, now time.Time) error {
	if m.Type != TypeLike {
		return apperror.Conflict("match is not a like")
	}
	if !m.IsParticipant(initiator) {
		return apperror.Forbidden("not a participant of this match")
	}
	partner := m.Partner(initiator)
	m.SenderID, m.ReceiverID = initiator, partner
	m.Type = TypeRequest
	m.UpdatedAt = now
	return nil
}

// Respond records user's response and recomputes the derived status. A lone
// LIKE is upgraded in place with its original sender kept.
func (m *Match) Respond(user int64, response Status, now time.Time) error {
	if response != StatusAccepted && response != StatusRejected {
		return apperror.BadRequest("response must be ACCEPTED or REJECTED")
	}
	if !m.IsParticipant(user) {
		return apperror.Forbidden("not a participant of this match")
	}
	switch m.Type {
	case TypeLike:
		if err := m.UpgradeToRequest(m.SenderID, now); err != nil {
			return err
		}
	case TypeRequest:
	default:
		return apperror.BadRequest("invalid match type")
	}
	if m.HasResponded(user) {
		return apperror.Conflict("already responded to this match")
	}

	if user == m.SenderID {
		m.SenderResponse = response
	} else {
		m.ReceiverResponse = response
	}

	m.Status = DeriveStatus(m.SenderResponse, m.ReceiverResponse)
	if m.Finalized() && m.ConfirmedAt == nil {
		t := now
		m.ConfirmedAt = &t
	}
	m.UpdatedAt = now
	return nil
}

// DeriveStatus computes the overall outcome from both responses. A single
// rejection decides the match.
func DeriveStatus(sender, receiver Status) Status {
	switch {
	case sender == StatusRejected || receiver == StatusRejected:
		return StatusRejected
	case sender == StatusAccepted && receiver == StatusAccepted:
		return StatusAccepted
	default:
		return StatusPending
	}
}

// CanCancel reports whether user may withdraw this record.
func (m *Match) CanCancel(user int64) bool {
	return m.Type == TypeLike && m.SenderID == user
}
