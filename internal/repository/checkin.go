package repository

import (
	"context"
	"fmt"
	"time"

	"echo-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CheckinRepository handles database operations for weekly check-ins,
// their responses and the per-family schedule. The status and
// timer_notified columns are only ever advanced through conditional
// updates, so concurrent devices can race on them safely.
type CheckinRepository struct {
	db *pgxpool.Pool
}

// NewCheckinRepository creates a new check-in repository
func NewCheckinRepository(db *pgxpool.Pool) *CheckinRepository {
	return &CheckinRepository{db: db}
}

// CreateCheckin inserts a new pending check-in. Returns ErrDuplicate when
// another device already created the week's record.
func (r *CheckinRepository) CreateCheckin(ctx context.Context, checkin *models.CheckIn) error {
	query := `
		INSERT INTO checkins (id, family_id, week_start_date, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Exec(ctx, query,
		checkin.ID, checkin.FamilyID, checkin.WeekStartDate, checkin.Status, checkin.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create checkin: %w", err)
	}
	return nil
}

const checkinColumns = `id, family_id, to_char(week_start_date, 'YYYY-MM-DD'), status,
	ai_topic, timer_notified, timer_started_at, created_at`

func scanCheckin(row pgx.Row) (*models.CheckIn, error) {
	var (
		checkin       models.CheckIn
		topic         *models.AITopic
		timerNotified bool
	)
	err := row.Scan(
		&checkin.ID, &checkin.FamilyID, &checkin.WeekStartDate, &checkin.Status,
		&topic, &timerNotified, &checkin.TimerStartedAt, &checkin.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if topic != nil {
		topic.TimerNotified = timerNotified
	}
	checkin.AITopic = topic
	return &checkin, nil
}

// GetCheckinByID retrieves a check-in by ID
func (r *CheckinRepository) GetCheckinByID(ctx context.Context, id string) (*models.CheckIn, error) {
	query := `SELECT ` + checkinColumns + ` FROM checkins WHERE id = $1`
	checkin, err := scanCheckin(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get checkin: %w", err)
	}
	return checkin, nil
}

// GetCheckinByWeek retrieves the check-in for a family and week start date
func (r *CheckinRepository) GetCheckinByWeek(ctx context.Context, familyID, weekStart string) (*models.CheckIn, error) {
	query := `SELECT ` + checkinColumns + ` FROM checkins
		WHERE family_id = $1 AND week_start_date = $2`
	checkin, err := scanCheckin(r.db.QueryRow(ctx, query, familyID, weekStart))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get checkin by week: %w", err)
	}
	return checkin, nil
}

// AcquireProcessing attempts the pending -> processing transition. The
// predicate on the current status makes this a compare-and-swap: exactly
// one concurrent caller sees an affected row and owns generation.
func (r *CheckinRepository) AcquireProcessing(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE checkins SET status = $1
		WHERE id = $2 AND status = $3
	`
	result, err := r.db.Exec(ctx, query, models.CheckInProcessing, id, models.CheckInPending)
	if err != nil {
		return false, fmt.Errorf("failed to acquire processing lock: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// CompleteWithTopic sets status to completed with the final topic. The
// update is unconditional: only the processing-lock holder reaches it.
// timer_notified is cleared so every generated topic opens a fresh
// notification epoch, including regeneration over a completed check-in.
func (r *CheckinRepository) CompleteWithTopic(ctx context.Context, id string, topic models.AITopic) error {
	query := `
		UPDATE checkins SET status = $1, ai_topic = $2, timer_notified = FALSE
		WHERE id = $3
	`
	stored := models.AITopic{Title: topic.Title, Description: topic.Description}
	result, err := r.db.Exec(ctx, query, models.CheckInCompleted, stored, id)
	if err != nil {
		return fmt.Errorf("failed to complete checkin: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTimerStartedAt sets or clears the shared countdown start timestamp
func (r *CheckinRepository) SetTimerStartedAt(ctx context.Context, id string, at *time.Time) error {
	query := `UPDATE checkins SET timer_started_at = $1 WHERE id = $2`
	result, err := r.db.Exec(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to update timer: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimTimerNotified attempts the timer_notified false -> true flip on a
// completed check-in. At most one caller per generation epoch wins.
func (r *CheckinRepository) ClaimTimerNotified(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE checkins SET timer_notified = TRUE
		WHERE id = $1 AND status = $2 AND timer_notified = FALSE
	`
	result, err := r.db.Exec(ctx, query, id, models.CheckInCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to claim timer notification: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// DeleteCheckin removes a check-in and all its responses in one transaction
func (r *CheckinRepository) DeleteCheckin(ctx context.Context, id string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin reset transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM checkin_responses WHERE checkin_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete checkin responses: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM checkins WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete checkin: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}
	return nil
}

// UpsertResponse records one partner's answer, overwriting any previous
// answer by the same user for the same check-in
func (r *CheckinRepository) UpsertResponse(ctx context.Context, response *models.CheckInResponse) error {
	query := `
		INSERT INTO checkin_responses (checkin_id, user_id, temperature, notes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (checkin_id, user_id) DO UPDATE
		SET temperature = EXCLUDED.temperature, notes = EXCLUDED.notes
	`
	_, err := r.db.Exec(ctx, query,
		response.CheckinID, response.UserID, response.Temperature, response.Notes, response.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert response: %w", err)
	}
	return nil
}

// CountResponses counts responses recorded for a check-in
func (r *CheckinRepository) CountResponses(ctx context.Context, checkinID string) (int, error) {
	query := `SELECT COUNT(*) FROM checkin_responses WHERE checkin_id = $1`
	var count int
	err := r.db.QueryRow(ctx, query, checkinID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count responses: %w", err)
	}
	return count, nil
}

// ListResponses retrieves all responses for a check-in
func (r *CheckinRepository) ListResponses(ctx context.Context, checkinID string) ([]models.CheckInResponse, error) {
	query := `
		SELECT checkin_id, user_id, temperature, notes, created_at
		FROM checkin_responses
		WHERE checkin_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, checkinID)
	if err != nil {
		return nil, fmt.Errorf("failed to list responses: %w", err)
	}
	defer rows.Close()

	var responses []models.CheckInResponse
	for rows.Next() {
		var resp models.CheckInResponse
		if err := rows.Scan(&resp.CheckinID, &resp.UserID, &resp.Temperature, &resp.Notes, &resp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		responses = append(responses, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read responses: %w", err)
	}
	return responses, nil
}

// HasResponded checks whether a user already answered a check-in
func (r *CheckinRepository) HasResponded(ctx context.Context, checkinID, userID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM checkin_responses WHERE checkin_id = $1 AND user_id = $2)`
	var exists bool
	err := r.db.QueryRow(ctx, query, checkinID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check response existence: %w", err)
	}
	return exists, nil
}

// GetConfig retrieves the family's check-in schedule
func (r *CheckinRepository) GetConfig(ctx context.Context, familyID string) (*models.CheckInConfig, error) {
	query := `
		SELECT family_id, day_of_week, time_utc
		FROM checkin_config
		WHERE family_id = $1
	`
	var cfg models.CheckInConfig
	err := r.db.QueryRow(ctx, query, familyID).Scan(&cfg.FamilyID, &cfg.DayOfWeek, &cfg.TimeUTC)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get checkin config: %w", err)
	}
	return &cfg, nil
}

// UpsertConfig creates or replaces the family's check-in schedule.
// Settings are last-write-wins between partners.
func (r *CheckinRepository) UpsertConfig(ctx context.Context, cfg *models.CheckInConfig) error {
	query := `
		INSERT INTO checkin_config (family_id, day_of_week, time_utc)
		VALUES ($1, $2, $3)
		ON CONFLICT (family_id) DO UPDATE
		SET day_of_week = EXCLUDED.day_of_week, time_utc = EXCLUDED.time_utc
	`
	_, err := r.db.Exec(ctx, query, cfg.FamilyID, cfg.DayOfWeek, cfg.TimeUTC)
	if err != nil {
		return fmt.Errorf("failed to upsert checkin config: %w", err)
	}
	return nil
}
