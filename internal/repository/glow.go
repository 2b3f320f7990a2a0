package repository

import (
	"context"
	"fmt"

	"echo-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GlowRepository handles database operations for glows
type GlowRepository struct {
	db *pgxpool.Pool
}

// NewGlowRepository creates a new glow repository
func NewGlowRepository(db *pgxpool.Pool) *GlowRepository {
	return &GlowRepository{db: db}
}

// Create creates a new glow
func (r *GlowRepository) Create(ctx context.Context, glow *models.Glow) error {
	query := `
		INSERT INTO glows (id, family_id, sender_id, message, is_read, is_saved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		glow.ID, glow.FamilyID, glow.SenderID, glow.Message, glow.IsRead, glow.IsSaved, glow.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create glow: %w", err)
	}
	return nil
}

func (r *GlowRepository) list(ctx context.Context, query string, args ...any) ([]models.Glow, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list glows: %w", err)
	}
	defer rows.Close()

	var glows []models.Glow
	for rows.Next() {
		var g models.Glow
		if err := rows.Scan(&g.ID, &g.FamilyID, &g.SenderID, &g.Message, &g.IsRead, &g.IsSaved, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan glow: %w", err)
		}
		glows = append(glows, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read glows: %w", err)
	}
	return glows, nil
}

// ListUnread retrieves unread glows sent to the given user (sender excluded)
func (r *GlowRepository) ListUnread(ctx context.Context, familyID, recipientID string) ([]models.Glow, error) {
	query := `
		SELECT id, family_id, sender_id, message, is_read, is_saved, created_at
		FROM glows
		WHERE family_id = $1 AND is_read = FALSE AND sender_id <> $2
		ORDER BY created_at
	`
	return r.list(ctx, query, familyID, recipientID)
}

// ListSaved retrieves saved glows the given user received, newest first
func (r *GlowRepository) ListSaved(ctx context.Context, familyID, recipientID string) ([]models.Glow, error) {
	query := `
		SELECT id, family_id, sender_id, message, is_read, is_saved, created_at
		FROM glows
		WHERE family_id = $1 AND is_saved = TRUE AND sender_id <> $2
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, familyID, recipientID)
}

// SetFlags updates the read/saved flags on a glow
func (r *GlowRepository) SetFlags(ctx context.Context, id string, isRead, isSaved bool) error {
	query := `UPDATE glows SET is_read = $1, is_saved = $2 WHERE id = $3`
	result, err := r.db.Exec(ctx, query, isRead, isSaved, id)
	if err != nil {
		return fmt.Errorf("failed to update glow flags: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a glow by ID
func (r *GlowRepository) GetByID(ctx context.Context, id string) (*models.Glow, error) {
	query := `
		SELECT id, family_id, sender_id, message, is_read, is_saved, created_at
		FROM glows
		WHERE id = $1
	`
	var g models.Glow
	err := r.db.QueryRow(ctx, query, id).Scan(
		&g.ID, &g.FamilyID, &g.SenderID, &g.Message, &g.IsRead, &g.IsSaved, &g.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get glow: %w", err)
	}
	return &g, nil
}
