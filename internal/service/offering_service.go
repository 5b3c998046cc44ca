package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/opencampus/course-reg-api/internal/models"
	appErrors "github.com/opencampus/course-reg-api/pkg/errors"
)

type offeringCatalogue interface {
	FindByID(ctx context.Context, id string) (*models.CourseOffering, error)
	List(ctx context.Context, filter models.OfferingFilter) ([]models.CourseOffering, int, error)
}

// OfferingService serves the offering catalogue. Seat counts on reads go
// through the cache first; the authoritative value always lives in the
// database row and the cache is refilled from it on every miss.
type OfferingService struct {
	repo   offeringCatalogue
	cache  *CacheService
	logger *zap.Logger
}

// NewOfferingService constructs an OfferingService instance.
func NewOfferingService(repo offeringCatalogue, cache *CacheService, logger *zap.Logger) *OfferingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OfferingService{repo: repo, cache: cache, logger: logger}
}

// Get returns a single offering with meeting times and prerequisites.
func (s *OfferingService) Get(ctx context.Context, id string) (*models.CourseOffering, error) {
	offering, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch offering")
	}
	if s.cache != nil {
		if seats, ok := s.cache.SeatSnapshot(ctx, offering.ID); ok {
			offering.SeatsRemaining = seats
		} else {
			s.cache.StoreSeatSnapshot(ctx, offering.ID, offering.SeatsRemaining)
		}
	}
	return offering, nil
}

// List returns offerings matching the filter along with pagination info.
func (s *OfferingService) List(ctx context.Context, filter models.OfferingFilter) ([]models.CourseOffering, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	offerings, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list offerings")
	}
	return offerings, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}
