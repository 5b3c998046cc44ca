package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/opencampus/course-reg-api/internal/models"
)

// OfferingRepository handles persistence of course offerings.
type OfferingRepository struct {
	db *sqlx.DB
}

// NewOfferingRepository constructs the repository.
func NewOfferingRepository(db *sqlx.DB) *OfferingRepository {
	return &OfferingRepository{db: db}
}

const offeringColumns = `id, course_id, term_id, title, credits, capacity, seats_remaining, fee_cents, created_at, updated_at`

// FindByID returns an offering with its meeting times and prerequisite set.
func (r *OfferingRepository) FindByID(ctx context.Context, id string) (*models.CourseOffering, error) {
	query := fmt.Sprintf(`SELECT %s FROM course_offerings WHERE id = $1`, offeringColumns)
	var offering models.CourseOffering
	if err := r.db.GetContext(ctx, &offering, query, id); err != nil {
		return nil, err
	}
	if err := r.attachDetails(ctx, &offering); err != nil {
		return nil, err
	}
	return &offering, nil
}

// LockTx loads an offering row under FOR UPDATE, serialising all seat and
// waitlist mutations for that offering within the surrounding transaction.
// Callers must acquire offering locks before student ledger locks.
func (r *OfferingRepository) LockTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.CourseOffering, error) {
	query := fmt.Sprintf(`SELECT %s FROM course_offerings WHERE id = $1 FOR UPDATE`, offeringColumns)
	var offering models.CourseOffering
	if err := tx.GetContext(ctx, &offering, query, id); err != nil {
		return nil, err
	}
	return &offering, nil
}

// MeetingTimesTx loads the meeting intervals of an offering inside a
// transaction so decision reads are not stale.
func (r *OfferingRepository) MeetingTimesTx(ctx context.Context, tx *sqlx.Tx, offeringID string) ([]models.MeetingTime, error) {
	const query = `SELECT offering_id, day_of_week, start_minute, end_minute
        FROM offering_meeting_times WHERE offering_id = $1
        ORDER BY day_of_week, start_minute`
	var meetings []models.MeetingTime
	if err := tx.SelectContext(ctx, &meetings, query, offeringID); err != nil {
		return nil, fmt.Errorf("load meeting times: %w", err)
	}
	return meetings, nil
}

// PrerequisitesTx loads the prerequisite course ids of an offering.
func (r *OfferingRepository) PrerequisitesTx(ctx context.Context, tx *sqlx.Tx, offeringID string) ([]string, error) {
	const query = `SELECT course_id FROM offering_prerequisites WHERE offering_id = $1 ORDER BY course_id`
	var prereqs []string
	if err := tx.SelectContext(ctx, &prereqs, query, offeringID); err != nil {
		return nil, fmt.Errorf("load prerequisites: %w", err)
	}
	return prereqs, nil
}

// UpdateSeatsTx writes a new remaining-seat count. Only called while the
// offering row is locked by the same transaction.
func (r *OfferingRepository) UpdateSeatsTx(ctx context.Context, tx *sqlx.Tx, id string, seatsRemaining int) error {
	const query = `UPDATE course_offerings SET seats_remaining = $2, updated_at = NOW() WHERE id = $1`
	result, err := tx.ExecContext(ctx, query, id, seatsRemaining)
	if err != nil {
		return fmt.Errorf("update seats: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update seats rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update seats: offering %s not found", id)
	}
	return nil
}

// List returns offerings filtered by the provided criteria.
func (r *OfferingRepository) List(ctx context.Context, filter models.OfferingFilter) ([]models.CourseOffering, int, error) {
	base := `FROM course_offerings o`
	var conditions []string
	var args []interface{}

	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("o.term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("o.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Available != nil {
		if *filter.Available {
			conditions = append(conditions, "o.seats_remaining > 0")
		} else {
			conditions = append(conditions, "o.seats_remaining = 0")
		}
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"title":   "o.title",
		"credits": "o.credits",
		"seats":   "o.seats_remaining",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "o.title"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT o.id, o.course_id, o.term_id, o.title, o.credits, o.capacity, o.seats_remaining, o.fee_cents, o.created_at, o.updated_at
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var offerings []models.CourseOffering
	if err := r.db.SelectContext(ctx, &offerings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list offerings: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count offerings: %w", err)
	}
	return offerings, total, nil
}

func (r *OfferingRepository) attachDetails(ctx context.Context, offering *models.CourseOffering) error {
	const meetingsQuery = `SELECT offering_id, day_of_week, start_minute, end_minute
        FROM offering_meeting_times WHERE offering_id = $1
        ORDER BY day_of_week, start_minute`
	if err := r.db.SelectContext(ctx, &offering.MeetingTimes, meetingsQuery, offering.ID); err != nil {
		return fmt.Errorf("load meeting times: %w", err)
	}
	const prereqQuery = `SELECT course_id FROM offering_prerequisites WHERE offering_id = $1 ORDER BY course_id`
	if err := r.db.SelectContext(ctx, &offering.Prerequisites, prereqQuery, offering.ID); err != nil {
		return fmt.Errorf("load prerequisites: %w", err)
	}
	return nil
}
