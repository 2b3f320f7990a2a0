// Package repository holds the Postgres access layer. Every mutation is a
// single statement, so each call is atomic on its own; the race-sensitive
// transitions (check-in status, talk status, timer notification) are
// expressed as conditional UPDATEs whose WHERE clause carries the expected
// current value, and the affected-row count decides who won.
//
// Expected schema:
//
//	families           (id uuid pk, name text, invite_code text unique, created_at timestamptz)
//	users              (id uuid pk, created_at timestamptz)
//	profiles           (id uuid pk references users, family_id uuid null references families,
//	                    display_name text, current_vibe text, created_at timestamptz)
//	checkins           (id uuid pk, family_id uuid, week_start_date date,
//	                    status text default 'pending', ai_topic jsonb null,
//	                    timer_notified boolean default false,
//	                    timer_started_at timestamptz null, created_at timestamptz,
//	                    unique (family_id, week_start_date))
//	checkin_responses  (checkin_id uuid, user_id uuid, temperature int,
//	                    notes text, created_at timestamptz,
//	                    primary key (checkin_id, user_id))
//	checkin_config     (family_id uuid pk, day_of_week int, time_utc text)
//	scheduled_talks    (id uuid pk, family_id uuid, initiator_id uuid, theme text,
//	                    scheduled_at timestamptz, status text default 'pending',
//	                    created_at timestamptz)
//	glows              (id uuid pk, family_id uuid, sender_id uuid, message text,
//	                    is_read boolean, is_saved boolean, created_at timestamptz)
//	push_subscriptions (id uuid pk, user_id uuid, endpoint text unique,
//	                    p256dh text, auth text, created_at timestamptz)
package repository

import "errors"

var (
	// ErrNotFound is returned when a point read matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert loses a uniqueness race.
	ErrDuplicate = errors.New("record already exists")
)
