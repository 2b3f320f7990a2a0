package repository

import (
	"context"
	"fmt"

	"echo-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfileRepository handles database operations for profiles
type ProfileRepository struct {
	db *pgxpool.Pool
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Upsert creates or replaces a profile keyed by user ID
func (r *ProfileRepository) Upsert(ctx context.Context, profile *models.Profile) error {
	query := `
		INSERT INTO profiles (id, family_id, display_name, current_vibe, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET family_id = EXCLUDED.family_id,
		    display_name = EXCLUDED.display_name,
		    current_vibe = EXCLUDED.current_vibe
	`
	_, err := r.db.Exec(ctx, query,
		profile.ID, profile.FamilyID, profile.DisplayName, profile.CurrentVibe, profile.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// GetByID retrieves a profile by user ID
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	query := `
		SELECT id, family_id, display_name, current_vibe, created_at
		FROM profiles
		WHERE id = $1
	`
	var profile models.Profile
	err := r.db.QueryRow(ctx, query, id).Scan(
		&profile.ID, &profile.FamilyID, &profile.DisplayName, &profile.CurrentVibe, &profile.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &profile, nil
}

// ListByFamily retrieves all profiles linked to a family
func (r *ProfileRepository) ListByFamily(ctx context.Context, familyID string) ([]models.Profile, error) {
	query := `
		SELECT id, family_id, display_name, current_vibe, created_at
		FROM profiles
		WHERE family_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list family profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(&p.ID, &p.FamilyID, &p.DisplayName, &p.CurrentVibe, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}
	return profiles, nil
}

// CountByFamily counts profiles linked to a family
func (r *ProfileRepository) CountByFamily(ctx context.Context, familyID string) (int, error) {
	query := `SELECT COUNT(*) FROM profiles WHERE family_id = $1`
	var count int
	err := r.db.QueryRow(ctx, query, familyID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count family profiles: %w", err)
	}
	return count, nil
}

// UpdateVibe updates the current mood value on the user's own profile
func (r *ProfileRepository) UpdateVibe(ctx context.Context, userID, vibe string) error {
	query := `UPDATE profiles SET current_vibe = $1 WHERE id = $2`
	result, err := r.db.Exec(ctx, query, vibe, userID)
	if err != nil {
		return fmt.Errorf("failed to update vibe: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
