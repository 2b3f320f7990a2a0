package models

import "time"

// CheckIn status values. Transitions are one-way:
// pending -> processing -> completed. A reset deletes the row outright.
const (
	CheckInPending    = "pending"
	CheckInProcessing = "processing"
	CheckInCompleted  = "completed"
)

// ScheduledTalk status values. pending -> started flips exactly once.
const (
	TalkPending = "pending"
	TalkStarted = "started"
)

// Family is the two-person pairing unit
type Family struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	InviteCode string    `json:"invite_code"`
	CreatedAt  time.Time `json:"created_at"`
}

// Profile holds per-user state, one per family membership
type Profile struct {
	ID          string    `json:"id"`
	FamilyID    *string   `json:"family_id,omitempty"`
	DisplayName string    `json:"display_name"`
	CurrentVibe string    `json:"current_vibe"`
	CreatedAt   time.Time `json:"created_at"`
}

// User is an authenticated principal (one profile each)
type User struct {
	ID        string    `json:"id"`
	Token     string    `json:"token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AITopic is the generated conversation topic for a completed check-in.
// TimerNotified is persisted as its own column so the connection-timer
// claim is a plain boolean compare-and-swap, but it travels inside the
// topic object on the wire.
type AITopic struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	TimerNotified bool   `json:"timer_notified,omitempty"`
}

// CheckIn is the weekly check-in record, unique per (family, week start)
type CheckIn struct {
	ID             string     `json:"id"`
	FamilyID       string     `json:"family_id"`
	WeekStartDate  string     `json:"week_start_date"` // YYYY-MM-DD, ISO Monday
	Status         string     `json:"status"`
	AITopic        *AITopic   `json:"ai_topic,omitempty"`
	TimerStartedAt *time.Time `json:"timer_started_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CheckInResponse is one partner's answer, unique per (checkin, user)
type CheckInResponse struct {
	CheckinID   string    `json:"checkin_id"`
	UserID      string    `json:"user_id"`
	Temperature int       `json:"temperature"` // 1-10
	Notes       string    `json:"notes"`
	CreatedAt   time.Time `json:"created_at"`
}

// CheckInConfig is the family's weekly schedule for check-ins
type CheckInConfig struct {
	FamilyID  string `json:"family_id"`
	DayOfWeek int    `json:"day_of_week"` // 0 = Sunday .. 6 = Saturday
	TimeUTC   string `json:"time_utc"`    // HH:MM
}

// ScheduledTalk is a timed conversation proposed by one partner
type ScheduledTalk struct {
	ID          string    `json:"id"`
	FamilyID    string    `json:"family_id"`
	InitiatorID string    `json:"initiator_id"`
	Theme       string    `json:"theme"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Glow is a short encouragement message sent to the partner
type Glow struct {
	ID        string    `json:"id"`
	FamilyID  string    `json:"family_id"`
	SenderID  string    `json:"sender_id"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	IsSaved   bool      `json:"is_saved"`
	CreatedAt time.Time `json:"created_at"`
}

// PushSubscription is one browser push endpoint, upserted by endpoint URL
type PushSubscription struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}
