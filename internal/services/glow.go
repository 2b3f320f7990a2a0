package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"echo-backend/internal/models"
	"echo-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrEmptyMessage is returned when sending a glow without text
var ErrEmptyMessage = errors.New("message is required")

// GlowService handles encouragement messages between partners
type GlowService struct {
	glowRepo    *repository.GlowRepository
	profileRepo *repository.ProfileRepository
	notifier    Notifier
	feed        Publisher
}

// NewGlowService creates a new glow service
func NewGlowService(
	glowRepo *repository.GlowRepository,
	profileRepo *repository.ProfileRepository,
	notifier Notifier,
	feed Publisher,
) *GlowService {
	return &GlowService{
		glowRepo:    glowRepo,
		profileRepo: profileRepo,
		notifier:    notifier,
		feed:        feed,
	}
}

// Send creates a glow and pushes it to the partner
func (s *GlowService) Send(ctx context.Context, senderID, message string) (*models.Glow, error) {
	if message == "" {
		return nil, ErrEmptyMessage
	}

	profile, err := s.profileRepo.GetByID(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sender profile: %w", err)
	}
	if profile.FamilyID == nil {
		return nil, ErrNoFamily
	}

	glow := &models.Glow{
		ID:        uuid.New().String(),
		FamilyID:  *profile.FamilyID,
		SenderID:  senderID,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if err := s.glowRepo.Create(ctx, glow); err != nil {
		return nil, fmt.Errorf("failed to create glow: %w", err)
	}

	senderName := profile.DisplayName
	if senderName == "" {
		senderName = "Partner"
	}
	if s.notifier != nil {
		title := fmt.Sprintf("✨ New Glow from %s", senderName)
		if _, err := s.notifier.NotifyPartner(ctx, glow.FamilyID, senderID, title, message, "/"); err != nil {
			log.Error().Err(err).Str("glow_id", glow.ID).Msg("Failed to notify partner about glow")
		}
	}
	if s.feed != nil {
		s.feed.Publish(glow.FamilyID, FeedEvent{Table: "glows"})
	}

	return glow, nil
}

// Unread lists unread glows sent to the user
func (s *GlowService) Unread(ctx context.Context, familyID, userID string) ([]models.Glow, error) {
	return s.glowRepo.ListUnread(ctx, familyID, userID)
}

// Saved lists glows the user has kept in the bank
func (s *GlowService) Saved(ctx context.Context, familyID, userID string) ([]models.Glow, error) {
	return s.glowRepo.ListSaved(ctx, familyID, userID)
}

// MarkRead marks a glow as read
func (s *GlowService) MarkRead(ctx context.Context, glowID string) error {
	return s.setFlags(ctx, glowID, true, nil)
}

// Save keeps a glow in the bank (and marks it read)
func (s *GlowService) Save(ctx context.Context, glowID string) error {
	saved := true
	return s.setFlags(ctx, glowID, true, &saved)
}

// Unsave drops a glow from the bank
func (s *GlowService) Unsave(ctx context.Context, glowID string) error {
	saved := false
	return s.setFlags(ctx, glowID, true, &saved)
}

func (s *GlowService) setFlags(ctx context.Context, glowID string, read bool, saved *bool) error {
	glow, err := s.glowRepo.GetByID(ctx, glowID)
	if err != nil {
		return fmt.Errorf("failed to get glow: %w", err)
	}
	isSaved := glow.IsSaved
	if saved != nil {
		isSaved = *saved
	}
	if err := s.glowRepo.SetFlags(ctx, glowID, read, isSaved); err != nil {
		return fmt.Errorf("failed to update glow: %w", err)
	}
	if s.feed != nil {
		s.feed.Publish(glow.FamilyID, FeedEvent{Table: "glows"})
	}
	return nil
}
