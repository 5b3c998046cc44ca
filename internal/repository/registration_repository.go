package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opencampus/course-reg-api/internal/models"
)

// RegistrationRepository handles persistence of registrations.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

const registrationColumns = `id, student_id, offering_id, term_id, status, reason, created_at, updated_at`

// FindByID returns a registration by its ID.
func (r *RegistrationRepository) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrations WHERE id = $1`, registrationColumns)
	var reg models.Registration
	if err := r.db.GetContext(ctx, &reg, query, id); err != nil {
		return nil, err
	}
	return &reg, nil
}

// FindByIDTx loads a registration under FOR UPDATE inside a decision
// transaction. The surrounding code must already hold the offering lock.
func (r *RegistrationRepository) FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Registration, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrations WHERE id = $1 FOR UPDATE`, registrationColumns)
	var reg models.Registration
	if err := tx.GetContext(ctx, &reg, query, id); err != nil {
		return nil, err
	}
	return &reg, nil
}

// FindLiveTx returns the live (Pending/Approved/Waitlisted) registration for a
// (student, offering) pair, or nil when none exists.
func (r *RegistrationRepository) FindLiveTx(ctx context.Context, tx *sqlx.Tx, studentID, offeringID string) (*models.Registration, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrations
        WHERE student_id = $1 AND offering_id = $2 AND status IN ('PENDING', 'APPROVED', 'WAITLISTED')`, registrationColumns)
	var reg models.Registration
	if err := tx.GetContext(ctx, &reg, query, studentID, offeringID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find live registration: %w", err)
	}
	return &reg, nil
}

// CreateTx inserts a new registration.
func (r *RegistrationRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, reg *models.Registration) error {
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	reg.CreatedAt = now
	reg.UpdatedAt = now
	const query = `INSERT INTO registrations (id, student_id, offering_id, term_id, status, reason, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.ExecContext(ctx, query, reg.ID, reg.StudentID, reg.OfferingID, reg.TermID, reg.Status, reg.Reason, reg.CreatedAt, reg.UpdatedAt); err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

// UpdateStatusTx moves a registration to a new status with an optional reason.
func (r *RegistrationRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.RegistrationStatus, reason *string) error {
	const query = `UPDATE registrations SET status = $2, reason = $3, updated_at = NOW() WHERE id = $1`
	result, err := tx.ExecContext(ctx, query, id, status, reason)
	if err != nil {
		return fmt.Errorf("update registration status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update registration status rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update registration status: registration %s not found", id)
	}
	return nil
}

// CommittedScheduleTx returns the meeting intervals of every Approved or
// Pending registration the student holds for the term. Waitlisted
// registrations hold no time slot and are excluded.
func (r *RegistrationRepository) CommittedScheduleTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string) ([]models.ScheduleEntry, error) {
	const query = `SELECT reg.id AS registration_id, reg.offering_id, mt.day_of_week, mt.start_minute, mt.end_minute
        FROM registrations reg
        JOIN offering_meeting_times mt ON mt.offering_id = reg.offering_id
        WHERE reg.student_id = $1 AND reg.term_id = $2 AND reg.status IN ('PENDING', 'APPROVED')`
	var entries []models.ScheduleEntry
	if err := tx.SelectContext(ctx, &entries, query, studentID, termID); err != nil {
		return nil, fmt.Errorf("load committed schedule: %w", err)
	}
	return entries, nil
}

// ScheduleByStudent returns the weekly schedule of a student's Approved
// registrations for a term, ordered for display.
func (r *RegistrationRepository) ScheduleByStudent(ctx context.Context, studentID, termID string) ([]models.ScheduleSlot, error) {
	const query = `SELECT reg.id AS registration_id, reg.offering_id, o.title AS offering_title,
        mt.day_of_week, mt.start_minute, mt.end_minute
        FROM registrations reg
        JOIN course_offerings o ON o.id = reg.offering_id
        JOIN offering_meeting_times mt ON mt.offering_id = reg.offering_id
        WHERE reg.student_id = $1 AND reg.term_id = $2 AND reg.status = 'APPROVED'
        ORDER BY mt.day_of_week, mt.start_minute`
	var slots []models.ScheduleSlot
	if err := r.db.SelectContext(ctx, &slots, query, studentID, termID); err != nil {
		return nil, fmt.Errorf("load student schedule: %w", err)
	}
	return slots, nil
}

// CountSeatHoldersTx counts registrations that occupy a seat, used to verify
// the seat conservation invariant before commit. A Completed registration
// keeps its seat: term close does not reopen capacity.
func (r *RegistrationRepository) CountSeatHoldersTx(ctx context.Context, tx *sqlx.Tx, offeringID string) (int, error) {
	const query = `SELECT COUNT(*) FROM registrations WHERE offering_id = $1 AND status IN ('APPROVED', 'COMPLETED')`
	var count int
	if err := tx.GetContext(ctx, &count, query, offeringID); err != nil {
		return 0, fmt.Errorf("count seat holders: %w", err)
	}
	return count, nil
}

// ListApprovedByTermTx returns Approved registrations for a term joined with
// offering info, consumed by term close.
func (r *RegistrationRepository) ListApprovedByTermTx(ctx context.Context, tx *sqlx.Tx, termID string) ([]models.RegistrationDetail, error) {
	const query = `SELECT reg.id, reg.student_id, reg.offering_id, reg.term_id, reg.status, reg.reason, reg.created_at, reg.updated_at,
        o.title AS offering_title, o.credits, s.full_name AS student_name
        FROM registrations reg
        JOIN course_offerings o ON o.id = reg.offering_id
        JOIN students s ON s.id = reg.student_id
        WHERE reg.term_id = $1 AND reg.status = 'APPROVED'
        ORDER BY reg.created_at`
	var regs []models.RegistrationDetail
	if err := tx.SelectContext(ctx, &regs, query, termID); err != nil {
		return nil, fmt.Errorf("list approved registrations: %w", err)
	}
	return regs, nil
}

// List returns registrations filtered by the provided criteria.
func (r *RegistrationRepository) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	base := `FROM registrations reg
JOIN course_offerings o ON o.id = reg.offering_id
JOIN students s ON s.id = reg.student_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("reg.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.OfferingID != "" {
		conditions = append(conditions, fmt.Sprintf("reg.offering_id = $%d", len(args)+1))
		args = append(args, filter.OfferingID)
	}
	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("reg.term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("reg.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "reg.created_at",
		"student_name": "s.full_name",
		"title":        "o.title",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "reg.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf(`SELECT reg.id, reg.student_id, reg.offering_id, reg.term_id, reg.status, reg.reason, reg.created_at, reg.updated_at,
        o.title AS offering_title, o.credits, s.full_name AS student_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var regs []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &regs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list registrations: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count registrations: %w", err)
	}
	return regs, total, nil
}
