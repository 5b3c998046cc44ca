package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/opencampus/course-reg-api/internal/models"
	appErrors "github.com/opencampus/course-reg-api/pkg/errors"
)

type seatStore interface {
	UpdateSeatsTx(ctx context.Context, tx *sqlx.Tx, id string, seatsRemaining int) error
}

type waitlistQueue interface {
	NextSequenceTx(ctx context.Context, tx *sqlx.Tx, offeringID string) (int64, error)
	InsertTx(ctx context.Context, tx *sqlx.Tx, entry *models.WaitlistEntry) error
	FindLiveByStudentTx(ctx context.Context, tx *sqlx.Tx, offeringID, studentID string) (*models.WaitlistEntry, error)
	HeadTx(ctx context.Context, tx *sqlx.Tx, offeringID string) (*models.WaitlistEntry, error)
	RemoveTx(ctx context.Context, tx *sqlx.Tx, id string) error
	DepthTx(ctx context.Context, tx *sqlx.Tx, offeringID string) (int, error)
}

type registrationTransitioner interface {
	UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.RegistrationStatus, reason *string) error
}

// CapacityManager owns an offering's remaining-seat count and its FIFO
// waitlist. Callers hold the offering row lock for the whole transaction, so
// seat reads and writes here cannot interleave with another request for the
// same offering.
type CapacityManager struct {
	seats         seatStore
	queue         waitlistQueue
	registrations registrationTransitioner
	waitlistCap   int
	logger        *zap.Logger
}

// NewCapacityManager constructs the manager. waitlistCap <= 0 means unbounded.
func NewCapacityManager(seats seatStore, queue waitlistQueue, registrations registrationTransitioner, waitlistCap int, logger *zap.Logger) *CapacityManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapacityManager{seats: seats, queue: queue, registrations: registrations, waitlistCap: waitlistCap, logger: logger}
}

// TryReserveSeatTx consumes one seat when any remain, updating both the row
// and the in-memory offering. Returns false without mutation when full.
func (m *CapacityManager) TryReserveSeatTx(ctx context.Context, tx *sqlx.Tx, offering *models.CourseOffering) (bool, error) {
	if offering.SeatsRemaining <= 0 {
		return false, nil
	}
	offering.SeatsRemaining--
	if err := m.seats.UpdateSeatsTx(ctx, tx, offering.ID, offering.SeatsRemaining); err != nil {
		return false, err
	}
	return true, nil
}

// EnqueueTx appends the student to the offering's waitlist with the next
// sequence number. Rejects a student who already holds a live entry, and
// reports CourseFull when a configured waitlist cap is reached.
func (m *CapacityManager) EnqueueTx(ctx context.Context, tx *sqlx.Tx, offering *models.CourseOffering, studentID, registrationID string) (*models.WaitlistEntry, error) {
	existing, err := m.queue.FindLiveByStudentTx(ctx, tx, offering.ID, studentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, appErrors.Clone(appErrors.ErrWaitlistDuplicate, "")
	}

	if m.waitlistCap > 0 {
		depth, err := m.queue.DepthTx(ctx, tx, offering.ID)
		if err != nil {
			return nil, err
		}
		if depth >= m.waitlistCap {
			return nil, appErrors.Clone(appErrors.ErrCourseFull, "waitlist is full")
		}
	}

	sequence, err := m.queue.NextSequenceTx(ctx, tx, offering.ID)
	if err != nil {
		return nil, err
	}
	entry := &models.WaitlistEntry{
		OfferingID:     offering.ID,
		StudentID:      studentID,
		RegistrationID: registrationID,
		Sequence:       sequence,
	}
	if err := m.queue.InsertTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ReleaseSeatTx returns one seat to the offering and immediately offers it to
// the waitlist: while seats remain and the queue is non-empty, the entry with
// the lowest sequence number is removed and its registration approved. This
// runs inside the same transaction as the triggering drop, so a freed seat is
// never visible as available before the waitlist has had first right of
// refusal. Promoted entries are returned for post-commit notification.
func (m *CapacityManager) ReleaseSeatTx(ctx context.Context, tx *sqlx.Tx, offering *models.CourseOffering) ([]models.WaitlistEntry, error) {
	seats := offering.SeatsRemaining + 1

	var promoted []models.WaitlistEntry
	for seats > 0 {
		head, err := m.queue.HeadTx(ctx, tx, offering.ID)
		if err != nil {
			return nil, err
		}
		if head == nil {
			break
		}
		if err := m.queue.RemoveTx(ctx, tx, head.ID); err != nil {
			return nil, err
		}
		if err := m.registrations.UpdateStatusTx(ctx, tx, head.RegistrationID, models.RegistrationStatusApproved, nil); err != nil {
			return nil, err
		}
		seats--
		promoted = append(promoted, *head)
		m.logger.Info("waitlist promotion",
			zap.String("offering_id", offering.ID),
			zap.String("student_id", head.StudentID),
			zap.Int64("sequence", head.Sequence),
		)
	}

	offering.SeatsRemaining = seats
	if err := m.seats.UpdateSeatsTx(ctx, tx, offering.ID, seats); err != nil {
		return nil, err
	}
	return promoted, nil
}

// RemoveEntryTx removes a live waitlist entry without touching the seat count,
// used for withdrawals and failed promotions. The entry keeps its sequence
// number; sequences are never reused.
func (m *CapacityManager) RemoveEntryTx(ctx context.Context, tx *sqlx.Tx, entryID string) error {
	return m.queue.RemoveTx(ctx, tx, entryID)
}

// ConsumeSeatForPromotionTx consumes a free seat on behalf of a specific
// waitlist entry, used by administrative force-promote. The entry is removed
// out of FIFO order and its registration approved.
func (m *CapacityManager) ConsumeSeatForPromotionTx(ctx context.Context, tx *sqlx.Tx, offering *models.CourseOffering, entry *models.WaitlistEntry) error {
	if offering.SeatsRemaining <= 0 {
		return appErrors.Clone(appErrors.ErrCourseFull, "")
	}
	if err := m.queue.RemoveTx(ctx, tx, entry.ID); err != nil {
		return err
	}
	if err := m.registrations.UpdateStatusTx(ctx, tx, entry.RegistrationID, models.RegistrationStatusApproved, nil); err != nil {
		return err
	}
	offering.SeatsRemaining--
	return m.seats.UpdateSeatsTx(ctx, tx, offering.ID, offering.SeatsRemaining)
}
