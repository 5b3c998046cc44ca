package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/opencampus/course-reg-api/internal/models"
)

// TermRepository reads term reference data. Terms have no mutation path from
// this service.
type TermRepository struct {
	db *sqlx.DB
}

// NewTermRepository constructs the repository.
func NewTermRepository(db *sqlx.DB) *TermRepository {
	return &TermRepository{db: db}
}

const termColumns = `id, name, academic_year, start_date, end_date, is_active, created_at, updated_at`

// FindByID returns a term by its ID.
func (r *TermRepository) FindByID(ctx context.Context, id string) (*models.Term, error) {
	var term models.Term
	if err := r.db.GetContext(ctx, &term, `SELECT `+termColumns+` FROM terms WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &term, nil
}

// FindActive returns the currently active term.
func (r *TermRepository) FindActive(ctx context.Context) (*models.Term, error) {
	var term models.Term
	if err := r.db.GetContext(ctx, &term, `SELECT `+termColumns+` FROM terms WHERE is_active = TRUE ORDER BY start_date DESC LIMIT 1`); err != nil {
		return nil, err
	}
	return &term, nil
}

// List returns all terms ordered by start date.
func (r *TermRepository) List(ctx context.Context) ([]models.Term, error) {
	var terms []models.Term
	if err := r.db.SelectContext(ctx, &terms, `SELECT `+termColumns+` FROM terms ORDER BY start_date DESC`); err != nil {
		return nil, err
	}
	return terms, nil
}
