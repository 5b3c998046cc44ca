package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/opencampus/course-reg-api/internal/models"
	appErrors "github.com/opencampus/course-reg-api/pkg/errors"
)

type termReader interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
	FindActive(ctx context.Context) (*models.Term, error)
	List(ctx context.Context) ([]models.Term, error)
}

// TermService exposes read access to academic terms.
type TermService struct {
	repo termReader
}

func NewTermService(repo termReader) *TermService {
	return &TermService{repo: repo}
}

// Get returns a term by ID.
func (s *TermService) Get(ctx context.Context, id string) (*models.Term, error) {
	term, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch term")
	}
	return term, nil
}

// Active returns the currently active term.
func (s *TermService) Active(ctx context.Context) (*models.Term, error) {
	term, err := s.repo.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active term")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch active term")
	}
	return term, nil
}

// List returns all terms, newest first.
func (s *TermService) List(ctx context.Context) ([]models.Term, error) {
	terms, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list terms")
	}
	return terms, nil
}
