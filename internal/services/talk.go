package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"echo-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrEmptyTheme is returned when scheduling a talk without a theme
var ErrEmptyTheme = errors.New("theme is required")

// TalkStore is the slice of the record store the talk trigger needs.
// ClaimDue must be an atomic conditional update returning the row only to
// the single winning caller.
type TalkStore interface {
	Create(ctx context.Context, talk *models.ScheduledTalk) error
	GetByID(ctx context.Context, id string) (*models.ScheduledTalk, error)
	ListUpcoming(ctx context.Context, familyID string, now time.Time) ([]models.ScheduledTalk, error)
	ClaimDue(ctx context.Context, id string) (*models.ScheduledTalk, error)
	Delete(ctx context.Context, id string) error
}

// TalkService owns scheduled talks and the claim-once due-trigger
type TalkService struct {
	store    TalkStore
	notifier Notifier
	feed     Publisher
	now      func() time.Time
}

// NewTalkService creates a new talk service
func NewTalkService(store TalkStore, notifier Notifier, feed Publisher) *TalkService {
	return &TalkService{
		store:    store,
		notifier: notifier,
		feed:     feed,
		now:      time.Now,
	}
}

// Schedule creates a pending talk and notifies the partner of the proposal
func (s *TalkService) Schedule(ctx context.Context, familyID, initiatorID, theme string, scheduledAt time.Time) (*models.ScheduledTalk, error) {
	if theme == "" {
		return nil, ErrEmptyTheme
	}

	talk := &models.ScheduledTalk{
		ID:          uuid.New().String(),
		FamilyID:    familyID,
		InitiatorID: initiatorID,
		Theme:       theme,
		ScheduledAt: scheduledAt,
		Status:      models.TalkPending,
		CreatedAt:   s.now(),
	}
	if err := s.store.Create(ctx, talk); err != nil {
		return nil, fmt.Errorf("failed to schedule talk: %w", err)
	}

	log.Info().
		Str("talk_id", talk.ID).
		Str("family_id", familyID).
		Time("scheduled_at", scheduledAt).
		Msg("Talk scheduled")

	if s.notifier != nil {
		timeStr := scheduledAt.UTC().Format("Mon 15:04")
		title := fmt.Sprintf("🗣️ Let's Talk: %s", theme)
		if _, err := s.notifier.NotifyPartner(ctx, familyID, initiatorID, title, "Proposed time: "+timeStr, "/"); err != nil {
			log.Error().Err(err).Str("talk_id", talk.ID).Msg("Failed to notify partner about talk")
		}
	}
	s.publish(familyID)

	return talk, nil
}

// Get retrieves a talk by ID
func (s *TalkService) Get(ctx context.Context, talkID string) (*models.ScheduledTalk, error) {
	return s.store.GetByID(ctx, talkID)
}

// Cancel deletes a talk
func (s *TalkService) Cancel(ctx context.Context, talkID string) error {
	talk, err := s.store.GetByID(ctx, talkID)
	if err != nil {
		return fmt.Errorf("failed to get talk: %w", err)
	}
	if err := s.store.Delete(ctx, talkID); err != nil {
		return fmt.Errorf("failed to cancel talk: %w", err)
	}
	s.publish(talk.FamilyID)
	return nil
}

// Upcoming lists pending and recently started talks for a family
func (s *TalkService) Upcoming(ctx context.Context, familyID string) ([]models.ScheduledTalk, error) {
	return s.store.ListUpcoming(ctx, familyID, s.now())
}

// NotifyDue is the claim-once trigger for a talk's scheduled time
// arriving. Every device whose poll notices the talk is due calls this;
// the pending -> started swap picks a single winner, which alone
// broadcasts the notification. Returns whether this caller won.
func (s *TalkService) NotifyDue(ctx context.Context, talkID string) (bool, error) {
	talk, err := s.store.ClaimDue(ctx, talkID)
	if err != nil {
		return false, fmt.Errorf("failed to claim talk trigger: %w", err)
	}
	if talk == nil {
		log.Debug().Str("talk_id", talkID).Msg("Talk trigger claimed elsewhere")
		return false, nil
	}

	log.Info().
		Str("talk_id", talk.ID).
		Str("theme", talk.Theme).
		Msg("Claimed talk due notification")

	if s.notifier != nil {
		body := fmt.Sprintf("Theme: %q", talk.Theme)
		if _, err := s.notifier.NotifyFamily(ctx, talk.FamilyID, "⏰ It's time to talk!", body, "/"); err != nil {
			log.Error().Err(err).Str("talk_id", talk.ID).Msg("Failed to send talk notification")
		}
	}
	s.publish(talk.FamilyID)

	return true, nil
}

func (s *TalkService) publish(familyID string) {
	if s.feed != nil {
		s.feed.Publish(familyID, FeedEvent{Table: "scheduled_talks"})
	}
}
