package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/opencampus/course-reg-api/internal/models"
	appErrors "github.com/opencampus/course-reg-api/pkg/errors"
)

type ledgerStore interface {
	LockTermCreditTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string) (*models.TermCredit, error)
	UpdateTermCreditTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string, total int) error
}

// CreditBounds are the fallback min/max applied to students without explicit
// bounds of their own.
type CreditBounds struct {
	Min int
	Max int
}

// CreditLedger tracks a student's enrolled credit total per term and enforces
// the maximum bound at reserve time. The minimum bound is deliberately not
// enforced here: students register incrementally below it, so it is a
// term-close report concern.
type CreditLedger struct {
	store    ledgerStore
	defaults CreditBounds
	logger   *zap.Logger
}

// NewCreditLedger constructs the ledger component.
func NewCreditLedger(store ledgerStore, defaults CreditBounds, logger *zap.Logger) *CreditLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreditLedger{store: store, defaults: defaults, logger: logger}
}

// MaxFor resolves the effective maximum bound for a student.
func (l *CreditLedger) MaxFor(student *models.Student) int {
	if student != nil && student.MaxCredits > 0 {
		return student.MaxCredits
	}
	return l.defaults.Max
}

// HeldTx locks the student's ledger row for the term and returns the current
// enrolled total.
func (l *CreditLedger) HeldTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string) (int, error) {
	row, err := l.store.LockTermCreditTx(ctx, tx, studentID, termID)
	if err != nil {
		return 0, err
	}
	return row.EnrolledCredits, nil
}

// ReserveTx locks the student's ledger row for the term and adds credits to
// the total. Returns ok=false with no mutation when the new total would exceed
// the student's maximum bound.
func (l *CreditLedger) ReserveTx(ctx context.Context, tx *sqlx.Tx, student *models.Student, termID string, credits int) (bool, int, error) {
	row, err := l.store.LockTermCreditTx(ctx, tx, student.ID, termID)
	if err != nil {
		return false, 0, err
	}

	newTotal := row.EnrolledCredits + credits
	if newTotal > l.MaxFor(student) {
		return false, row.EnrolledCredits, nil
	}

	if err := l.store.UpdateTermCreditTx(ctx, tx, student.ID, termID, newTotal); err != nil {
		return false, 0, err
	}
	return true, newTotal, nil
}

// ReleaseTx locks the ledger row and subtracts credits. A total that would go
// negative signals a double release or a corrupt ledger: the transaction is
// aborted with an invariant violation rather than clamped silently.
func (l *CreditLedger) ReleaseTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string, credits int) (int, error) {
	row, err := l.store.LockTermCreditTx(ctx, tx, studentID, termID)
	if err != nil {
		return 0, err
	}

	newTotal := row.EnrolledCredits - credits
	if newTotal < 0 {
		l.logger.Error("credit ledger underflow",
			zap.String("student_id", studentID),
			zap.String("term_id", termID),
			zap.Int("enrolled", row.EnrolledCredits),
			zap.Int("release", credits),
		)
		return 0, appErrors.Clone(appErrors.ErrInvariantViolation, "credit ledger would go negative")
	}

	if err := l.store.UpdateTermCreditTx(ctx, tx, studentID, termID, newTotal); err != nil {
		return 0, err
	}
	return newTotal, nil
}
