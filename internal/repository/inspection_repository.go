package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/stwalsh4118/inspections/api/internal/database"
	"github.com/stwalsh4118/inspections/api/internal/models"
)

// AccountRepository defines the interface for account record access.
type AccountRepository interface {
	// FindAccount returns the account with the given id.
	// Returns nil, nil if no account exists (not an error).
	FindAccount(ctx context.Context, id string) (*models.Account, error)
}

// InspectionRepository defines the interface for inspection record access.
type InspectionRepository interface {
	// ListInspections returns every inspection of the account, newest first.
	// Returns an empty slice if the account has none.
	ListInspections(ctx context.Context, accountID string) ([]models.Inspection, error)

	// AverageRating returns the mean overall rating across the account's
	// rated inspections, or nil when none are rated.
	AverageRating(ctx context.Context, accountID string) (*float64, error)
}

type accountRepository struct {
	db *database.Database
}

// NewAccountRepository creates a new instance of AccountRepository.
func NewAccountRepository(db *database.Database) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) FindAccount(ctx context.Context, id string) (*models.Account, error) {
	const query = `SELECT id, name FROM accounts WHERE id = $1`

	var account models.Account
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&account.ID, &account.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query account %s: %w", id, err)
	}
	return &account, nil
}

type inspectionRepository struct {
	db *database.Database
}

// NewInspectionRepository creates a new instance of InspectionRepository.
func NewInspectionRepository(db *database.Database) InspectionRepository {
	return &inspectionRepository{db: db}
}

// ListInspections returns the account's inspections. Undated inspections
// sort after dated ones; ties break on name so the order is stable.
func (r *inspectionRepository) ListInspections(ctx context.Context, accountID string) ([]models.Inspection, error) {
	query := `
		SELECT
			id,
			name,
			inspection_status,
			inspection_type,
			inspection_date,
			overall_rating::float8,
			related_property_id,
			inspector_name,
			notes
		FROM property_inspections
		WHERE related_property_id = $1
		ORDER BY inspection_date DESC NULLS LAST, name
	`

	rows, err := r.db.Pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query inspections for account %s: %w", accountID, err)
	}
	defer rows.Close()

	inspections := []models.Inspection{}
	for rows.Next() {
		var inspection models.Inspection
		err := rows.Scan(
			&inspection.ID,
			&inspection.Name,
			&inspection.Status,
			&inspection.Type,
			&inspection.InspectionDate,
			&inspection.OverallRating,
			&inspection.RelatedPropertyID,
			&inspection.InspectorName,
			&inspection.Notes,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inspection row: %w", err)
		}
		inspections = append(inspections, inspection)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inspection rows: %w", err)
	}

	return inspections, nil
}

func (r *inspectionRepository) AverageRating(ctx context.Context, accountID string) (*float64, error) {
	const query = `
		SELECT AVG(overall_rating)::float8
		FROM property_inspections
		WHERE related_property_id = $1 AND overall_rating IS NOT NULL
	`

	var avg *float64
	if err := r.db.Pool.QueryRow(ctx, query, accountID).Scan(&avg); err != nil {
		return nil, fmt.Errorf("failed to query average rating for account %s: %w", accountID, err)
	}
	return avg, nil
}
