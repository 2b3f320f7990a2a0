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

const (
	// partySize is the number of responses that completes a check-in
	partySize = 2
	// graceWindow bounds how long after the configured time a device may
	// still create the week's check-in
	graceWindow = 120 * time.Minute
	// ConnectionDuration is the shared countdown length. Remaining time is
	// always derived from timer_started_at, so every device computes the
	// same value.
	ConnectionDuration = 15 * time.Minute
)

// Fallback topic used whenever generation fails. A generic topic beats a
// check-in stuck in processing.
const (
	fallbackTopicTitle       = "Connection Time"
	fallbackTopicDescription = "Take 15 minutes to simply sit together and talk about your week. How are you really doing?"
)

var (
	// ErrInvalidTemperature is returned for temperatures outside 1-10
	ErrInvalidTemperature = errors.New("temperature must be between 1 and 10")
	// ErrInvalidSchedule is returned for malformed check-in schedule settings
	ErrInvalidSchedule = errors.New("invalid check-in schedule")
)

// CheckinStore is the slice of the record store the coordinator needs.
// AcquireProcessing and ClaimTimerNotified must be atomic conditional
// updates; the bool result is the sole arbiter of who won a transition.
type CheckinStore interface {
	CreateCheckin(ctx context.Context, checkin *models.CheckIn) error
	GetCheckinByID(ctx context.Context, id string) (*models.CheckIn, error)
	GetCheckinByWeek(ctx context.Context, familyID, weekStart string) (*models.CheckIn, error)
	AcquireProcessing(ctx context.Context, id string) (bool, error)
	CompleteWithTopic(ctx context.Context, id string, topic models.AITopic) error
	SetTimerStartedAt(ctx context.Context, id string, at *time.Time) error
	ClaimTimerNotified(ctx context.Context, id string) (bool, error)
	DeleteCheckin(ctx context.Context, id string) error
	UpsertResponse(ctx context.Context, response *models.CheckInResponse) error
	CountResponses(ctx context.Context, checkinID string) (int, error)
	ListResponses(ctx context.Context, checkinID string) ([]models.CheckInResponse, error)
	HasResponded(ctx context.Context, checkinID, userID string) (bool, error)
	GetConfig(ctx context.Context, familyID string) (*models.CheckInConfig, error)
	UpsertConfig(ctx context.Context, cfg *models.CheckInConfig) error
}

// ProfileDirectory resolves display names for topic generation
type ProfileDirectory interface {
	ListByFamily(ctx context.Context, familyID string) ([]models.Profile, error)
}

// PartnerMood is one partner's input to the topic generator
type PartnerMood struct {
	Name        string
	Temperature int
	Notes       string
}

// TopicGenerator produces a conversation topic from both partners' moods.
// Any failure is recovered by the coordinator with a fallback topic.
type TopicGenerator interface {
	Generate(ctx context.Context, a, b PartnerMood) (models.AITopic, error)
}

// Notifier delivers best-effort push notifications
type Notifier interface {
	NotifyUser(ctx context.Context, userID, title, body, url string) (int, error)
	NotifyFamily(ctx context.Context, familyID, title, body, url string) (int, error)
	NotifyPartner(ctx context.Context, familyID, excludeUserID, title, body, url string) (int, error)
}

// CheckInService coordinates the weekly check-in lifecycle. Multiple
// devices call these operations concurrently; the store's conditional
// updates decide which caller performs each once-only side effect.
type CheckInService struct {
	store     CheckinStore
	profiles  ProfileDirectory
	generator TopicGenerator
	notifier  Notifier
	feed      Publisher
	now       func() time.Time
}

// NewCheckInService creates a new check-in service
func NewCheckInService(
	store CheckinStore,
	profiles ProfileDirectory,
	generator TopicGenerator,
	notifier Notifier,
	feed Publisher,
) *CheckInService {
	return &CheckInService{
		store:     store,
		profiles:  profiles,
		generator: generator,
		notifier:  notifier,
		feed:      feed,
		now:       time.Now,
	}
}

// WeekStartDate returns the ISO start of week (Monday) for t as YYYY-MM-DD.
// It is the uniqueness key for the weekly check-in alongside the family ID.
func WeekStartDate(t time.Time) string {
	t = t.UTC()
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return t.AddDate(0, 0, 1-weekday).Format("2006-01-02")
}

// withinTriggerWindow reports whether now falls on the configured day, at
// or after the configured time, within the grace window
func withinTriggerWindow(cfg *models.CheckInConfig, now time.Time) bool {
	now = now.UTC()
	if int(now.Weekday()) != cfg.DayOfWeek {
		return false
	}
	scheduled, err := time.Parse("15:04", cfg.TimeUTC)
	if err != nil {
		log.Warn().Str("family_id", cfg.FamilyID).Str("time_utc", cfg.TimeUTC).Msg("Invalid check-in time config")
		return false
	}
	diff := time.Duration(now.Hour()*60+now.Minute()-scheduled.Hour()*60-scheduled.Minute()) * time.Minute
	return diff >= 0 && diff <= graceWindow
}

// EnsureWeeklyCheckIn returns the authoritative check-in for the current
// week, creating it when the configured trigger window has opened. Every
// polling device calls this; the store's uniqueness constraint resolves
// the creation race and losers re-read the winner's row.
func (s *CheckInService) EnsureWeeklyCheckIn(ctx context.Context, familyID string, now time.Time) (*models.CheckIn, error) {
	weekStart := WeekStartDate(now)

	checkin, err := s.store.GetCheckinByWeek(ctx, familyID, weekStart)
	if err == nil {
		return checkin, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up weekly checkin: %w", err)
	}

	cfg, err := s.store.GetConfig(ctx, familyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkin config: %w", err)
	}
	if !withinTriggerWindow(cfg, now) {
		return nil, nil
	}

	checkin = &models.CheckIn{
		ID:            uuid.New().String(),
		FamilyID:      familyID,
		WeekStartDate: weekStart,
		Status:        models.CheckInPending,
		CreatedAt:     s.now(),
	}
	if err := s.store.CreateCheckin(ctx, checkin); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Another device won the insert race; its row is authoritative
			return s.store.GetCheckinByWeek(ctx, familyID, weekStart)
		}
		return nil, fmt.Errorf("failed to create weekly checkin: %w", err)
	}

	log.Info().
		Str("family_id", familyID).
		Str("checkin_id", checkin.ID).
		Str("week_start", weekStart).
		Msg("Weekly check-in created")

	s.notify(ctx, familyID, "📊 Weekly Connection", "It's time for our weekly check-in! Click to respond.")
	s.publish(familyID, "checkins")

	return checkin, nil
}

// SubmitResponse records one partner's answer. Resubmission overwrites the
// previous answer. When the response count reaches the party size the
// caller races for the generation lock; losing that race is a normal
// outcome, not an error.
func (s *CheckInService) SubmitResponse(ctx context.Context, checkinID, userID string, temperature int, notes string) error {
	if temperature < 1 || temperature > 10 {
		return ErrInvalidTemperature
	}

	checkin, err := s.store.GetCheckinByID(ctx, checkinID)
	if err != nil {
		return fmt.Errorf("failed to get checkin: %w", err)
	}

	response := &models.CheckInResponse{
		CheckinID:   checkinID,
		UserID:      userID,
		Temperature: temperature,
		Notes:       notes,
		CreatedAt:   s.now(),
	}
	if err := s.store.UpsertResponse(ctx, response); err != nil {
		return fmt.Errorf("failed to record response: %w", err)
	}
	s.publish(checkin.FamilyID, "checkin_responses")

	count, err := s.store.CountResponses(ctx, checkinID)
	if err != nil {
		return fmt.Errorf("failed to count responses: %w", err)
	}
	if count < partySize {
		return nil
	}
	return s.tryComplete(ctx, checkin)
}

// Reconcile re-runs the completion sequence for a check-in that has all
// responses but is still pending, e.g. when the original lock holder died
// before flipping the status. Safe to call redundantly.
func (s *CheckInService) Reconcile(ctx context.Context, checkinID string) error {
	checkin, err := s.store.GetCheckinByID(ctx, checkinID)
	if err != nil {
		return fmt.Errorf("failed to get checkin: %w", err)
	}
	if checkin.Status != models.CheckInPending {
		return nil
	}
	count, err := s.store.CountResponses(ctx, checkinID)
	if err != nil {
		return fmt.Errorf("failed to count responses: %w", err)
	}
	if count < partySize {
		return nil
	}
	return s.tryComplete(ctx, checkin)
}

// tryComplete races for the generation lock. Exactly one concurrent caller
// wins the pending -> processing swap and runs generation; everyone else
// no-ops.
func (s *CheckInService) tryComplete(ctx context.Context, checkin *models.CheckIn) error {
	won, err := s.store.AcquireProcessing(ctx, checkin.ID)
	if err != nil {
		return fmt.Errorf("failed to acquire generation lock: %w", err)
	}
	if !won {
		log.Debug().Str("checkin_id", checkin.ID).Msg("Generation lock held elsewhere")
		return nil
	}
	return s.generate(ctx, checkin)
}

// generate produces the topic and completes the check-in. Generation
// failures are swallowed in favor of the fallback topic so the record can
// never stay stuck in processing. Only the lock holder reaches this path.
func (s *CheckInService) generate(ctx context.Context, checkin *models.CheckIn) error {
	topic := models.AITopic{
		Title:       fallbackTopicTitle,
		Description: fallbackTopicDescription,
	}

	responses, err := s.store.ListResponses(ctx, checkin.ID)
	if err != nil {
		log.Error().Err(err).Str("checkin_id", checkin.ID).Msg("Failed to load responses, using fallback topic")
	} else if len(responses) >= partySize {
		a := s.partnerMood(ctx, checkin.FamilyID, responses[0], "Partner A")
		b := s.partnerMood(ctx, checkin.FamilyID, responses[1], "Partner B")

		generated, err := s.generator.Generate(ctx, a, b)
		if err != nil {
			log.Warn().Err(err).Str("checkin_id", checkin.ID).Msg("Topic generation failed, using fallback")
		} else {
			topic = generated
		}
	}

	if err := s.store.CompleteWithTopic(ctx, checkin.ID, topic); err != nil {
		return fmt.Errorf("failed to complete checkin: %w", err)
	}

	log.Info().
		Str("checkin_id", checkin.ID).
		Str("topic", topic.Title).
		Msg("Check-in completed")

	s.publish(checkin.FamilyID, "checkins")
	return nil
}

func (s *CheckInService) partnerMood(ctx context.Context, familyID string, response models.CheckInResponse, fallbackName string) PartnerMood {
	mood := PartnerMood{
		Name:        fallbackName,
		Temperature: response.Temperature,
		Notes:       response.Notes,
	}
	profiles, err := s.profiles.ListByFamily(ctx, familyID)
	if err != nil {
		return mood
	}
	for _, p := range profiles {
		if p.ID == response.UserID && p.DisplayName != "" {
			mood.Name = p.DisplayName
		}
	}
	return mood
}

// RegenerateTopic re-runs generation on demand, overwriting the topic of
// an already completed check-in
func (s *CheckInService) RegenerateTopic(ctx context.Context, checkinID string) error {
	checkin, err := s.store.GetCheckinByID(ctx, checkinID)
	if err != nil {
		return fmt.Errorf("failed to get checkin: %w", err)
	}
	return s.generate(ctx, checkin)
}

// ResetWeek deletes the check-in and its responses so the week can start
// over with a fresh pending record
func (s *CheckInService) ResetWeek(ctx context.Context, checkinID string) error {
	checkin, err := s.store.GetCheckinByID(ctx, checkinID)
	if err != nil {
		return fmt.Errorf("failed to get checkin: %w", err)
	}
	if err := s.store.DeleteCheckin(ctx, checkinID); err != nil {
		return fmt.Errorf("failed to reset week: %w", err)
	}
	log.Info().Str("checkin_id", checkinID).Msg("Week reset")
	s.publish(checkin.FamilyID, "checkins")
	return nil
}

// StartTimer starts (or restarts) the shared connection countdown
func (s *CheckInService) StartTimer(ctx context.Context, checkinID string) error {
	checkin, err := s.store.GetCheckinByID(ctx, checkinID)
	if err != nil {
		return fmt.Errorf("failed to get checkin: %w", err)
	}
	startedAt := s.now()
	if err := s.store.SetTimerStartedAt(ctx, checkinID, &startedAt); err != nil {
		return fmt.Errorf("failed to start timer: %w", err)
	}
	s.publish(checkin.FamilyID, "checkins")
	return nil
}

// ResetTimer clears the shared connection countdown
func (s *CheckInService) ResetTimer(ctx context.Context, checkinID string) error {
	checkin, err := s.store.GetCheckinByID(ctx, checkinID)
	if err != nil {
		return fmt.Errorf("failed to get checkin: %w", err)
	}
	if err := s.store.SetTimerStartedAt(ctx, checkinID, nil); err != nil {
		return fmt.Errorf("failed to reset timer: %w", err)
	}
	s.publish(checkin.FamilyID, "checkins")
	return nil
}

// RemainingTime derives the countdown from the shared start timestamp.
// Every device computes the same remainder from the same stored instant.
func RemainingTime(checkin *models.CheckIn, now time.Time) time.Duration {
	if checkin.TimerStartedAt == nil {
		return 0
	}
	remaining := ConnectionDuration - now.Sub(*checkin.TimerStartedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ClaimTimerFinished is the claim-once trigger for the countdown reaching
// zero. Any device whose local countdown hits zero calls this; the
// conditional update picks a single winner, which alone sends the
// completion notification. Returns whether this caller won.
func (s *CheckInService) ClaimTimerFinished(ctx context.Context, checkinID string) (bool, error) {
	checkin, err := s.store.GetCheckinByID(ctx, checkinID)
	if err != nil {
		return false, fmt.Errorf("failed to get checkin: %w", err)
	}
	if checkin.AITopic != nil && checkin.AITopic.TimerNotified {
		return false, nil
	}

	won, err := s.store.ClaimTimerNotified(ctx, checkinID)
	if err != nil {
		return false, fmt.Errorf("failed to claim timer notification: %w", err)
	}
	if !won {
		log.Debug().Str("checkin_id", checkinID).Msg("Timer notification claimed elsewhere")
		return false, nil
	}

	s.notify(ctx, checkin.FamilyID, "✨ Connection Complete", "The connection timer has finished. Take a moment to appreciate each other.")
	s.publish(checkin.FamilyID, "checkins")
	return true, nil
}

// HasResponded reports whether the user already answered this check-in
func (s *CheckInService) HasResponded(ctx context.Context, checkinID, userID string) (bool, error) {
	return s.store.HasResponded(ctx, checkinID, userID)
}

// GetCheckin retrieves a check-in by ID
func (s *CheckInService) GetCheckin(ctx context.Context, checkinID string) (*models.CheckIn, error) {
	return s.store.GetCheckinByID(ctx, checkinID)
}

// GetConfig retrieves the family's check-in schedule
func (s *CheckInService) GetConfig(ctx context.Context, familyID string) (*models.CheckInConfig, error) {
	return s.store.GetConfig(ctx, familyID)
}

// UpdateConfig replaces the family's check-in schedule (last write wins)
func (s *CheckInService) UpdateConfig(ctx context.Context, cfg *models.CheckInConfig) error {
	if cfg.DayOfWeek < 0 || cfg.DayOfWeek > 6 {
		return fmt.Errorf("%w: day_of_week must be between 0 and 6", ErrInvalidSchedule)
	}
	if _, err := time.Parse("15:04", cfg.TimeUTC); err != nil {
		return fmt.Errorf("%w: time_utc must be HH:MM", ErrInvalidSchedule)
	}
	if err := s.store.UpsertConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to update checkin config: %w", err)
	}
	s.publish(cfg.FamilyID, "checkin_config")
	return nil
}

// notify sends a best-effort family broadcast; delivery failure never
// fails the operation that triggered it
func (s *CheckInService) notify(ctx context.Context, familyID, title, body string) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.NotifyFamily(ctx, familyID, title, body, "/"); err != nil {
		log.Error().Err(err).Str("family_id", familyID).Msg("Failed to send family notification")
	}
}

func (s *CheckInService) publish(familyID, table string) {
	if s.feed != nil {
		s.feed.Publish(familyID, FeedEvent{Table: table})
	}
}
