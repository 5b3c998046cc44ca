package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/opencampus/course-reg-api/internal/models"
)

// StudentRepository handles persistence of students, their completed-course
// history, and the per-term credit ledger rows.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID returns a student by its ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, number, full_name, active, min_credits, max_credits, created_at, updated_at
        FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByIDTx is FindByID evaluated inside a decision transaction.
func (r *StudentRepository) FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Student, error) {
	const query = `SELECT id, number, full_name, active, min_credits, max_credits, created_at, updated_at
        FROM students WHERE id = $1`
	var student models.Student
	if err := tx.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// CompletedCoursesTx loads a student's completed-course history within the
// decision transaction so the prerequisite check never sees a stale read.
func (r *StudentRepository) CompletedCoursesTx(ctx context.Context, tx *sqlx.Tx, studentID string) ([]models.CompletedCourse, error) {
	const query = `SELECT student_id, course_id, grade, passed, completed_at
        FROM completed_courses WHERE student_id = $1`
	var courses []models.CompletedCourse
	if err := tx.SelectContext(ctx, &courses, query, studentID); err != nil {
		return nil, fmt.Errorf("load completed courses: %w", err)
	}
	return courses, nil
}

// AddCompletedCourseTx records a finished course for a student. Idempotent on
// (student, course).
func (r *StudentRepository) AddCompletedCourseTx(ctx context.Context, tx *sqlx.Tx, course models.CompletedCourse) error {
	const query = `INSERT INTO completed_courses (student_id, course_id, grade, passed, completed_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (student_id, course_id) DO UPDATE SET grade = EXCLUDED.grade, passed = EXCLUDED.passed, completed_at = EXCLUDED.completed_at`
	if _, err := tx.ExecContext(ctx, query, course.StudentID, course.CourseID, course.Grade, course.Passed, course.CompletedAt); err != nil {
		return fmt.Errorf("insert completed course: %w", err)
	}
	return nil
}

// LockTermCreditTx returns the student's ledger row for the term under
// FOR UPDATE, creating a zero row first if none exists. This serialises all
// credit mutations per (student, term); lock ordering is offering first, then
// this row.
func (r *StudentRepository) LockTermCreditTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string) (*models.TermCredit, error) {
	const ensure = `INSERT INTO term_credits (student_id, term_id, enrolled_credits, updated_at)
        VALUES ($1, $2, 0, NOW())
        ON CONFLICT (student_id, term_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, ensure, studentID, termID); err != nil {
		return nil, fmt.Errorf("ensure term credit row: %w", err)
	}

	const query = `SELECT student_id, term_id, enrolled_credits, updated_at
        FROM term_credits WHERE student_id = $1 AND term_id = $2 FOR UPDATE`
	var credit models.TermCredit
	if err := tx.GetContext(ctx, &credit, query, studentID, termID); err != nil {
		return nil, fmt.Errorf("lock term credit row: %w", err)
	}
	return &credit, nil
}

// UpdateTermCreditTx writes a new enrolled-credit total. Only called while the
// ledger row is locked by the same transaction.
func (r *StudentRepository) UpdateTermCreditTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string, total int) error {
	const query = `UPDATE term_credits SET enrolled_credits = $3, updated_at = NOW()
        WHERE student_id = $1 AND term_id = $2`
	result, err := tx.ExecContext(ctx, query, studentID, termID, total)
	if err != nil {
		return fmt.Errorf("update term credit: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update term credit rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update term credit: ledger row missing for student %s term %s", studentID, termID)
	}
	return nil
}

// ListUnderMinCredits returns students whose enrolled total for the term sits
// below their minimum bound, for the term-close report. defaultMin applies to
// students without an explicit bound.
func (r *StudentRepository) ListUnderMinCredits(ctx context.Context, termID string, defaultMin int) ([]models.MinCreditReportRow, error) {
	const query = `SELECT s.id AS student_id, s.number AS student_number, s.full_name AS student_name,
        COALESCE(tc.enrolled_credits, 0) AS enrolled_credits,
        CASE WHEN s.min_credits > 0 THEN s.min_credits ELSE $2 END AS min_credits
        FROM students s
        LEFT JOIN term_credits tc ON tc.student_id = s.id AND tc.term_id = $1
        WHERE s.active = TRUE
          AND COALESCE(tc.enrolled_credits, 0) < CASE WHEN s.min_credits > 0 THEN s.min_credits ELSE $2 END
        ORDER BY s.full_name`
	var rows []models.MinCreditReportRow
	if err := r.db.SelectContext(ctx, &rows, query, termID, defaultMin); err != nil {
		return nil, fmt.Errorf("list under-minimum students: %w", err)
	}
	return rows, nil
}
