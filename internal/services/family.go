package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"echo-backend/internal/models"
	"echo-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	inviteCodeLength = 6
	inviteCodeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// familySize is the intended number of members per family. Joins past
	// this are refused, though the coordination protocol tolerates
	// malformed families without crashing.
	familySize = 2
)

var (
	// ErrNoFamily is returned when an operation needs a family the user
	// has not set up yet
	ErrNoFamily = errors.New("user has no family")
	// ErrSpaceFull is returned when joining a family that already has two
	// members
	ErrSpaceFull = errors.New("family already has two members")
	// ErrInvalidInviteCode is returned for unknown invite codes
	ErrInvalidInviteCode = errors.New("invalid invite code")
)

// Space is a family together with its member profiles
type Space struct {
	Family   *models.Family   `json:"family"`
	Profiles []models.Profile `json:"profiles"`
}

// FamilyService handles space setup and membership
type FamilyService struct {
	familyRepo  *repository.FamilyRepository
	profileRepo *repository.ProfileRepository
	feed        Publisher
}

// NewFamilyService creates a new family service
func NewFamilyService(familyRepo *repository.FamilyRepository, profileRepo *repository.ProfileRepository, feed Publisher) *FamilyService {
	return &FamilyService{
		familyRepo:  familyRepo,
		profileRepo: profileRepo,
		feed:        feed,
	}
}

// generateInviteCode generates a random 6-character code
func generateInviteCode() string {
	code := make([]byte, inviteCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(inviteCodeChars))))
		code[i] = inviteCodeChars[n.Int64()]
	}
	return string(code)
}

// uniqueInviteCode generates an invite code no other family uses
func (s *FamilyService) uniqueInviteCode(ctx context.Context) (string, error) {
	maxAttempts := 10
	for i := 0; i < maxAttempts; i++ {
		code := generateInviteCode()
		exists, err := s.familyRepo.InviteCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check invite code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique invite code after %d attempts", maxAttempts)
}

// CreateSpace creates a family and links the creator's profile to it
func (s *FamilyService) CreateSpace(ctx context.Context, userID, displayName string) (*Space, error) {
	if displayName == "" {
		displayName = "Member"
	}

	code, err := s.uniqueInviteCode(ctx)
	if err != nil {
		return nil, err
	}

	family := &models.Family{
		ID:         uuid.New().String(),
		Name:       fmt.Sprintf("%s's Family", displayName),
		InviteCode: code,
		CreatedAt:  time.Now(),
	}
	if err := s.familyRepo.Create(ctx, family); err != nil {
		return nil, fmt.Errorf("failed to create family: %w", err)
	}

	profile := &models.Profile{
		ID:          userID,
		FamilyID:    &family.ID,
		DisplayName: displayName,
		CurrentVibe: "Neutral",
		CreatedAt:   time.Now(),
	}
	if err := s.profileRepo.Upsert(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	log.Info().
		Str("family_id", family.ID).
		Str("user_id", userID).
		Msg("Family created")

	return &Space{Family: family, Profiles: []models.Profile{*profile}}, nil
}

// JoinSpace links a user's profile to an existing family by invite code
func (s *FamilyService) JoinSpace(ctx context.Context, userID, inviteCode, displayName string) (*Space, error) {
	if displayName == "" {
		displayName = "Member"
	}

	family, err := s.familyRepo.GetByInviteCode(ctx, inviteCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidInviteCode
		}
		return nil, fmt.Errorf("failed to look up family: %w", err)
	}

	members, err := s.profileRepo.ListByFamily(ctx, family.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list family members: %w", err)
	}
	alreadyMember := false
	for _, m := range members {
		if m.ID == userID {
			alreadyMember = true
		}
	}
	if !alreadyMember && len(members) >= familySize {
		return nil, ErrSpaceFull
	}

	profile := &models.Profile{
		ID:          userID,
		FamilyID:    &family.ID,
		DisplayName: displayName,
		CurrentVibe: "Neutral",
		CreatedAt:   time.Now(),
	}
	if err := s.profileRepo.Upsert(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to link profile: %w", err)
	}

	log.Info().
		Str("family_id", family.ID).
		Str("user_id", userID).
		Msg("User joined family")

	if s.feed != nil {
		s.feed.Publish(family.ID, FeedEvent{Table: "profiles"})
	}

	return s.GetSpaceByFamily(ctx, family.ID)
}

// GetSpace retrieves the caller's family and both member profiles
func (s *FamilyService) GetSpace(ctx context.Context, userID string) (*Space, error) {
	profile, err := s.profileRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoFamily
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if profile.FamilyID == nil {
		return nil, ErrNoFamily
	}
	return s.GetSpaceByFamily(ctx, *profile.FamilyID)
}

// GetSpaceByFamily retrieves a family and its member profiles
func (s *FamilyService) GetSpaceByFamily(ctx context.Context, familyID string) (*Space, error) {
	family, err := s.familyRepo.GetByID(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get family: %w", err)
	}
	profiles, err := s.profileRepo.ListByFamily(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return &Space{Family: family, Profiles: profiles}, nil
}

// FamilyOf returns the family ID the user belongs to
func (s *FamilyService) FamilyOf(ctx context.Context, userID string) (string, error) {
	profile, err := s.profileRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNoFamily
		}
		return "", fmt.Errorf("failed to get profile: %w", err)
	}
	if profile.FamilyID == nil {
		return "", ErrNoFamily
	}
	return *profile.FamilyID, nil
}

// RenameFamily updates the family's display name
func (s *FamilyService) RenameFamily(ctx context.Context, familyID, name string) error {
	if name == "" {
		return fmt.Errorf("family name is required")
	}
	if err := s.familyRepo.UpdateName(ctx, familyID, name); err != nil {
		return fmt.Errorf("failed to rename family: %w", err)
	}
	return nil
}

// UpdateVibe sets the caller's current mood value. Vibe values are either
// a named category or a stringified score, the clients agree on the format.
func (s *FamilyService) UpdateVibe(ctx context.Context, userID, vibe string) error {
	if vibe == "" {
		return fmt.Errorf("vibe is required")
	}
	if err := s.profileRepo.UpdateVibe(ctx, userID, vibe); err != nil {
		return fmt.Errorf("failed to update vibe: %w", err)
	}
	if s.feed != nil {
		if familyID, err := s.FamilyOf(ctx, userID); err == nil {
			s.feed.Publish(familyID, FeedEvent{Table: "profiles"})
		}
	}
	return nil
}
