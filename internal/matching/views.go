package matching

import (
	"time"

	"github.com/unimate/roommate/internal/match"
	"github.com/unimate/roommate/internal/profile"
)

// Status messages shown next to each match.
const (
	MessagePending  = "Waiting for a match decision."
	MessageAccepted = "Roommate match confirmed!"
	MessageRejected = "Match was rejected."
	MessageNone     = "No relationship."
)

// StatusMessage returns the user-facing message for a derived status.
func StatusMessage(s match.Status) string {
	switch s {
	case match.StatusPending:
		return MessagePending
	case match.StatusAccepted:
		return MessageAccepted
	case match.StatusRejected:
		return MessageRejected
	default:
		return MessageNone
	}
}

// Recommendation is one ranked candidate.
type Recommendation struct {
	ReceiverID        int64          `json:"receiver_id"`
	Name              string         `json:"name"`
	University        string         `json:"university"`
	StudentVerified   bool           `json:"student_verified"`
	Gender            profile.Gender `json:"gender"`
	Age               *int           `json:"age,omitempty"`
	MBTI              string         `json:"mbti,omitempty"`
	PreferenceScore   float64        `json:"preference_score"`
	MatchType         match.Type     `json:"match_type"`
	MatchStatus       match.Status   `json:"match_status"`
	SleepTime         *int           `json:"sleep_time,omitempty"`
	CleaningFrequency *int           `json:"cleaning_frequency,omitempty"`
	Smoker            *bool          `json:"smoker,omitempty"`
	StartUseDate      *time.Time     `json:"start_use_date,omitempty"`
	EndUseDate        *time.Time     `json:"end_use_date,omitempty"`
}

// CandidateDetail is the full profile of one candidate as seen by the
// requester.
type CandidateDetail struct {
	ReceiverID      int64             `json:"receiver_id"`
	Email           string            `json:"email"`
	Name            string            `json:"name"`
	University      string            `json:"university"`
	StudentVerified bool              `json:"student_verified"`
	MBTI            string            `json:"mbti,omitempty"`
	Gender          profile.Gender    `json:"gender"`
	Age             *int              `json:"age,omitempty"`
	BirthDate       *time.Time        `json:"birth_date,omitempty"`
	Lifestyle       profile.Lifestyle `json:"lifestyle"`
	StartUseDate    *time.Time        `json:"start_use_date,omitempty"`
	EndUseDate      *time.Time        `json:"end_use_date,omitempty"`
	PreferenceScore float64           `json:"preference_score"`
	MatchType       match.Type        `json:"match_type"`
	MatchStatus     match.Status      `json:"match_status"`
}

// LikeResult is returned by SendLike. LikesRemaining is how many more likes
// the sender may send in the current rate-limit window.
type LikeResult struct {
	MatchID        int64  `json:"match_id"`
	Mutual         bool   `json:"mutual"`
	ChatroomID     string `json:"chatroom_id,omitempty"`
	LikesRemaining *int   `json:"likes_remaining,omitempty"`
}

// Partner identifies the other participant of a match.
type Partner struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	University string `json:"university"`
}

// StatusItem is one match from the caller's point of view.
type StatusItem struct {
	ID                int64        `json:"id"`
	SenderID          int64        `json:"sender_id"`
	ReceiverID        int64        `json:"receiver_id"`
	MatchType         match.Type   `json:"match_type"`
	MatchStatus       match.Status `json:"match_status"`
	PreferenceScore   float64      `json:"preference_score"`
	CreatedAt         time.Time    `json:"created_at"`
	ConfirmedAt       *time.Time   `json:"confirmed_at,omitempty"`
	Message           string       `json:"message"`
	MyResponse        match.Status `json:"my_response"`
	PartnerResponse   match.Status `json:"partner_response"`
	WaitingForPartner bool         `json:"waiting_for_partner"`
	Partner           Partner      `json:"partner"`
	ChatroomID        string       `json:"chatroom_id,omitempty"`
}

// Summary counts the caller's matches by derived status.
type Summary struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// StatusView is returned by GetStatus.
type StatusView struct {
	Matches []StatusItem `json:"matches"`
	Summary Summary      `json:"summary"`
}

// ResultItem is one accepted match.
type ResultItem struct {
	ID              int64        `json:"id"`
	SenderID        int64        `json:"sender_id"`
	ReceiverID      int64        `json:"receiver_id"`
	PartnerID       int64        `json:"partner_id"`
	PartnerName     string       `json:"partner_name"`
	MatchType       match.Type   `json:"match_type"`
	MatchStatus     match.Status `json:"match_status"`
	PreferenceScore float64      `json:"preference_score"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	ConfirmedAt     *time.Time   `json:"confirmed_at,omitempty"`
	ChatroomID      string       `json:"chatroom_id,omitempty"`
}

func statusItem(m *match.Match, user int64, partner *profile.Profile) StatusItem {
	partnerID := m.Partner(user)
	my, theirs := m.ResponseOf(user), m.ResponseOf(partnerID)
	item := StatusItem{
		ID:                m.ID,
		SenderID:          m.SenderID,
		ReceiverID:        m.ReceiverID,
		MatchType:         m.Type,
		MatchStatus:       m.Status,
		PreferenceScore:   m.PreferenceScore,
		CreatedAt:         m.CreatedAt,
		ConfirmedAt:       m.ConfirmedAt,
		Message:           StatusMessage(m.Status),
		MyResponse:        my,
		PartnerResponse:   theirs,
		WaitingForPartner: my != match.StatusPending && theirs == match.StatusPending,
		Partner:           Partner{ID: partnerID},
	}
	if partner != nil {
		item.Partner.Name = partner.Name
		item.Partner.Email = partner.Email
		item.Partner.University = partner.University
	}
	return item
}

func resultItem(m *match.Match, user int64, partner *profile.Profile) ResultItem {
	item := ResultItem{
		ID:              m.ID,
		SenderID:        m.SenderID,
		ReceiverID:      m.ReceiverID,
		PartnerID:       m.Partner(user),
		MatchType:       m.Type,
		MatchStatus:     m.Status,
		PreferenceScore: m.PreferenceScore,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		ConfirmedAt:     m.ConfirmedAt,
	}
	if partner != nil {
		item.PartnerName = partner.Name
	}
	return item
}

func ageOf(birth *time.Time, now time.Time) *int {
	if birth == nil {
		return nil
	}
	a := profile.Age(*birth, now)
	return &a
}

func matchState(m *match.Match) (match.Type, match.Status) {
	if m == nil {
		return match.TypeNone, match.StatusNone
	}
	return m.Type, m.Status
}
