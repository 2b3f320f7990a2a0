package repository

import (
	"context"
	"fmt"
	"time"

	"echo-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TalkRepository handles database operations for scheduled talks
type TalkRepository struct {
	db *pgxpool.Pool
}

// NewTalkRepository creates a new talk repository
func NewTalkRepository(db *pgxpool.Pool) *TalkRepository {
	return &TalkRepository{db: db}
}

// Create creates a new scheduled talk
func (r *TalkRepository) Create(ctx context.Context, talk *models.ScheduledTalk) error {
	query := `
		INSERT INTO scheduled_talks (id, family_id, initiator_id, theme, scheduled_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		talk.ID, talk.FamilyID, talk.InitiatorID, talk.Theme, talk.ScheduledAt, talk.Status, talk.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create talk: %w", err)
	}
	return nil
}

// GetByID retrieves a talk by ID
func (r *TalkRepository) GetByID(ctx context.Context, id string) (*models.ScheduledTalk, error) {
	query := `
		SELECT id, family_id, initiator_id, theme, scheduled_at, status, created_at
		FROM scheduled_talks
		WHERE id = $1
	`
	var talk models.ScheduledTalk
	err := r.db.QueryRow(ctx, query, id).Scan(
		&talk.ID, &talk.FamilyID, &talk.InitiatorID, &talk.Theme,
		&talk.ScheduledAt, &talk.Status, &talk.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get talk: %w", err)
	}
	return &talk, nil
}

// ListUpcoming retrieves pending and recently started talks for a family.
// Started talks stay visible until an hour past their scheduled time.
func (r *TalkRepository) ListUpcoming(ctx context.Context, familyID string, now time.Time) ([]models.ScheduledTalk, error) {
	query := `
		SELECT id, family_id, initiator_id, theme, scheduled_at, status, created_at
		FROM scheduled_talks
		WHERE family_id = $1
		  AND status = ANY($2)
		  AND scheduled_at > $3
		ORDER BY scheduled_at
	`
	cutoff := now.Add(-time.Hour)
	rows, err := r.db.Query(ctx, query, familyID, []string{models.TalkPending, models.TalkStarted}, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list talks: %w", err)
	}
	defer rows.Close()

	var talks []models.ScheduledTalk
	for rows.Next() {
		var talk models.ScheduledTalk
		if err := rows.Scan(
			&talk.ID, &talk.FamilyID, &talk.InitiatorID, &talk.Theme,
			&talk.ScheduledAt, &talk.Status, &talk.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan talk: %w", err)
		}
		talks = append(talks, talk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read talks: %w", err)
	}
	return talks, nil
}

// ClaimDue attempts the pending -> started transition and returns the
// updated row when this caller won it. The status predicate guarantees a
// single winner among concurrently polling devices; losers get nil, nil.
func (r *TalkRepository) ClaimDue(ctx context.Context, id string) (*models.ScheduledTalk, error) {
	query := `
		UPDATE scheduled_talks SET status = $1
		WHERE id = $2 AND status = $3
		RETURNING id, family_id, initiator_id, theme, scheduled_at, status, created_at
	`
	var talk models.ScheduledTalk
	err := r.db.QueryRow(ctx, query, models.TalkStarted, id, models.TalkPending).Scan(
		&talk.ID, &talk.FamilyID, &talk.InitiatorID, &talk.Theme,
		&talk.ScheduledAt, &talk.Status, &talk.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim talk: %w", err)
	}
	return &talk, nil
}

// Delete removes a talk (cancellation)
func (r *TalkRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM scheduled_talks WHERE id = $1`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete talk: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
