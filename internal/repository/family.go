package repository

import (
	"context"
	"errors"
	"fmt"

	"echo-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres error code for duplicate keys
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// FamilyRepository handles database operations for families
type FamilyRepository struct {
	db *pgxpool.Pool
}

// NewFamilyRepository creates a new family repository
func NewFamilyRepository(db *pgxpool.Pool) *FamilyRepository {
	return &FamilyRepository{db: db}
}

// Create creates a new family
func (r *FamilyRepository) Create(ctx context.Context, family *models.Family) error {
	query := `
		INSERT INTO families (id, name, invite_code, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.Exec(ctx, query, family.ID, family.Name, family.InviteCode, family.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create family: %w", err)
	}
	return nil
}

// GetByID retrieves a family by ID
func (r *FamilyRepository) GetByID(ctx context.Context, id string) (*models.Family, error) {
	query := `
		SELECT id, name, invite_code, created_at
		FROM families
		WHERE id = $1
	`
	var family models.Family
	err := r.db.QueryRow(ctx, query, id).Scan(
		&family.ID, &family.Name, &family.InviteCode, &family.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get family: %w", err)
	}
	return &family, nil
}

// GetByInviteCode retrieves a family by its invite code
func (r *FamilyRepository) GetByInviteCode(ctx context.Context, code string) (*models.Family, error) {
	query := `
		SELECT id, name, invite_code, created_at
		FROM families
		WHERE invite_code = $1
	`
	var family models.Family
	err := r.db.QueryRow(ctx, query, code).Scan(
		&family.ID, &family.Name, &family.InviteCode, &family.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get family by invite code: %w", err)
	}
	return &family, nil
}

// InviteCodeExists checks if an invite code is already taken
func (r *FamilyRepository) InviteCodeExists(ctx context.Context, code string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM families WHERE invite_code = $1)`
	var exists bool
	err := r.db.QueryRow(ctx, query, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check invite code existence: %w", err)
	}
	return exists, nil
}

// UpdateName updates a family's display name
func (r *FamilyRepository) UpdateName(ctx context.Context, id, name string) error {
	query := `UPDATE families SET name = $1 WHERE id = $2`
	result, err := r.db.Exec(ctx, query, name, id)
	if err != nil {
		return fmt.Errorf("failed to update family name: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
