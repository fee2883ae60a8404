package entitlement

import "time"

type Tier string

const (
	TierFree       Tier = "free"
	TierSubscriber Tier = "subscriber"
)

type Subscription struct {
	StartedAt    time.Time `json:"started_at"`
	DurationDays int       `json:"duration_days"`
}

func (s Subscription) ExpiresAt() time.Time {
	return s.StartedAt.AddDate(0, 0, s.DurationDays)
}

func (s Subscription) ActiveAt(now time.Time) bool {
	return now.Before(s.ExpiresAt())
}

// UserRecord tracks free-tier usage and the optional paid window for one
// user. FreeUsed survives subscription expiry: an expired plan never grants
// more free turns than the user originally had.
type UserRecord struct {
	UserID        string        `json:"user_id"`
	FreeUsed      int           `json:"free_used"`
	Subscription  *Subscription `json:"subscription,omitempty"`
	LastMessageAt time.Time     `json:"last_message_at,omitzero"`
}

type Decision struct {
	Allowed bool
	Tier    Tier
}
