package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opencampus/course-reg-api/internal/models"
)

// WaitlistRepository handles persistence of per-offering FIFO waitlists.
// Sequence numbers are allocated under the offering row lock, so MAX+1 cannot
// race and allocated numbers are strictly increasing and never reused.
type WaitlistRepository struct {
	db *sqlx.DB
}

// NewWaitlistRepository constructs the repository.
func NewWaitlistRepository(db *sqlx.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

const waitlistColumns = `id, offering_id, student_id, registration_id, sequence, enqueued_at, removed_at`

// NextSequenceTx allocates the next sequence number for an offering. Counts
// removed entries too: numbers are never reused.
func (r *WaitlistRepository) NextSequenceTx(ctx context.Context, tx *sqlx.Tx, offeringID string) (int64, error) {
	const query = `SELECT COALESCE(MAX(sequence), 0) + 1 FROM waitlist_entries WHERE offering_id = $1`
	var next int64
	if err := tx.GetContext(ctx, &next, query, offeringID); err != nil {
		return 0, fmt.Errorf("allocate waitlist sequence: %w", err)
	}
	return next, nil
}

// InsertTx appends an entry to an offering's queue.
func (r *WaitlistRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, entry *models.WaitlistEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.EnqueuedAt = time.Now().UTC()
	const query = `INSERT INTO waitlist_entries (id, offering_id, student_id, registration_id, sequence, enqueued_at)
        VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.ExecContext(ctx, query, entry.ID, entry.OfferingID, entry.StudentID, entry.RegistrationID, entry.Sequence, entry.EnqueuedAt); err != nil {
		return fmt.Errorf("insert waitlist entry: %w", err)
	}
	return nil
}

// FindLiveByStudentTx returns the student's live entry for an offering, or nil.
func (r *WaitlistRepository) FindLiveByStudentTx(ctx context.Context, tx *sqlx.Tx, offeringID, studentID string) (*models.WaitlistEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries
        WHERE offering_id = $1 AND student_id = $2 AND removed_at IS NULL`, waitlistColumns)
	var entry models.WaitlistEntry
	if err := tx.GetContext(ctx, &entry, query, offeringID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find live waitlist entry: %w", err)
	}
	return &entry, nil
}

// HeadTx returns the live entry with the lowest sequence number, or nil when
// the queue is empty.
func (r *WaitlistRepository) HeadTx(ctx context.Context, tx *sqlx.Tx, offeringID string) (*models.WaitlistEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries
        WHERE offering_id = $1 AND removed_at IS NULL
        ORDER BY sequence LIMIT 1`, waitlistColumns)
	var entry models.WaitlistEntry
	if err := tx.GetContext(ctx, &entry, query, offeringID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("peek waitlist head: %w", err)
	}
	return &entry, nil
}

// RemoveTx marks an entry as removed (promotion or withdrawal). The row stays
// so its sequence number is never reallocated.
func (r *WaitlistRepository) RemoveTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	const query = `UPDATE waitlist_entries SET removed_at = NOW() WHERE id = $1 AND removed_at IS NULL`
	result, err := tx.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("remove waitlist entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove waitlist entry rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("remove waitlist entry: entry %s not live", id)
	}
	return nil
}

// DepthTx counts live entries for an offering.
func (r *WaitlistRepository) DepthTx(ctx context.Context, tx *sqlx.Tx, offeringID string) (int, error) {
	const query = `SELECT COUNT(*) FROM waitlist_entries WHERE offering_id = $1 AND removed_at IS NULL`
	var depth int
	if err := tx.GetContext(ctx, &depth, query, offeringID); err != nil {
		return 0, fmt.Errorf("count waitlist depth: %w", err)
	}
	return depth, nil
}

// Position returns the student's 1-based queue position: one plus the number
// of live entries ahead of them. sql.ErrNoRows when the student is not queued.
func (r *WaitlistRepository) Position(ctx context.Context, offeringID, studentID string) (int, error) {
	const seqQuery = `SELECT sequence FROM waitlist_entries
        WHERE offering_id = $1 AND student_id = $2 AND removed_at IS NULL`
	var sequence int64
	if err := r.db.GetContext(ctx, &sequence, seqQuery, offeringID, studentID); err != nil {
		return 0, err
	}

	const aheadQuery = `SELECT COUNT(*) FROM waitlist_entries
        WHERE offering_id = $1 AND removed_at IS NULL AND sequence < $2`
	var ahead int
	if err := r.db.GetContext(ctx, &ahead, aheadQuery, offeringID, sequence); err != nil {
		return 0, fmt.Errorf("count entries ahead: %w", err)
	}
	return ahead + 1, nil
}

// ListLiveByTermTx returns every live entry whose offering belongs to the
// term, with the offering credits. Term close consumes this to clear the
// remaining queues.
func (r *WaitlistRepository) ListLiveByTermTx(ctx context.Context, tx *sqlx.Tx, termID string) ([]models.TermWaitlistEntry, error) {
	const query = `SELECT w.id, w.offering_id, w.student_id, w.registration_id, w.sequence, w.enqueued_at, w.removed_at,
        o.credits AS offering_credits
        FROM waitlist_entries w
        JOIN course_offerings o ON o.id = w.offering_id
        WHERE o.term_id = $1 AND w.removed_at IS NULL
        ORDER BY w.offering_id, w.sequence`
	var entries []models.TermWaitlistEntry
	if err := tx.SelectContext(ctx, &entries, query, termID); err != nil {
		return nil, fmt.Errorf("list term waitlist entries: %w", err)
	}
	return entries, nil
}

// ListByOffering returns the live queue in sequence order with student info.
func (r *WaitlistRepository) ListByOffering(ctx context.Context, offeringID string) ([]models.WaitlistEntryDetail, error) {
	const query = `SELECT w.id, w.offering_id, w.student_id, w.registration_id, w.sequence, w.enqueued_at, w.removed_at,
        s.full_name AS student_name, s.number AS student_number
        FROM waitlist_entries w
        JOIN students s ON s.id = w.student_id
        WHERE w.offering_id = $1 AND w.removed_at IS NULL
        ORDER BY w.sequence`
	var entries []models.WaitlistEntryDetail
	if err := r.db.SelectContext(ctx, &entries, query, offeringID); err != nil {
		return nil, fmt.Errorf("list waitlist entries: %w", err)
	}
	return entries, nil
}
