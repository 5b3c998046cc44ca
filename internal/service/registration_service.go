package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/opencampus/course-reg-api/internal/models"
	appErrors "github.com/opencampus/course-reg-api/pkg/errors"
)

type txRunner interface {
	WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type offeringStore interface {
	FindByID(ctx context.Context, id string) (*models.CourseOffering, error)
	LockTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.CourseOffering, error)
	MeetingTimesTx(ctx context.Context, tx *sqlx.Tx, offeringID string) ([]models.MeetingTime, error)
	PrerequisitesTx(ctx context.Context, tx *sqlx.Tx, offeringID string) ([]string, error)
}

type studentStore interface {
	FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Student, error)
	CompletedCoursesTx(ctx context.Context, tx *sqlx.Tx, studentID string) ([]models.CompletedCourse, error)
	AddCompletedCourseTx(ctx context.Context, tx *sqlx.Tx, course models.CompletedCourse) error
}

type registrationStore interface {
	FindByID(ctx context.Context, id string) (*models.Registration, error)
	FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Registration, error)
	FindLiveTx(ctx context.Context, tx *sqlx.Tx, studentID, offeringID string) (*models.Registration, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, reg *models.Registration) error
	UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.RegistrationStatus, reason *string) error
	CommittedScheduleTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string) ([]models.ScheduleEntry, error)
	CountSeatHoldersTx(ctx context.Context, tx *sqlx.Tx, offeringID string) (int, error)
	ListApprovedByTermTx(ctx context.Context, tx *sqlx.Tx, termID string) ([]models.RegistrationDetail, error)
	List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error)
	ScheduleByStudent(ctx context.Context, studentID, termID string) ([]models.ScheduleSlot, error)
}

type waitlistReader interface {
	FindLiveByStudentTx(ctx context.Context, tx *sqlx.Tx, offeringID, studentID string) (*models.WaitlistEntry, error)
	Position(ctx context.Context, offeringID, studentID string) (int, error)
	ListByOffering(ctx context.Context, offeringID string) ([]models.WaitlistEntryDetail, error)
	ListLiveByTermTx(ctx context.Context, tx *sqlx.Tx, termID string) ([]models.TermWaitlistEntry, error)
}

// EventSink receives registration events fire-and-forget after a decision
// commits. Implementations must not block.
type EventSink interface {
	Emit(event models.RegistrationEvent)
}

type decisionMetrics interface {
	ObserveDecision(outcome string, duration time.Duration)
	CountPromotion(forced bool)
}

type decisionCache interface {
	WaitlistPosition(ctx context.Context, offeringID, studentID string) (int, bool)
	StoreWaitlistPosition(ctx context.Context, offeringID, studentID string, position int)
	InvalidateOffering(ctx context.Context, offeringID string, studentIDs ...string)
}

// SubmitRegistrationRequest describes a registration request.
type SubmitRegistrationRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	OfferingID string `json:"offering_id" validate:"required"`
}

// RegistrationService composes the prerequisite checker, conflict detector,
// credit ledger, and capacity manager into one atomic decision per request,
// and owns the registration state machine.
type RegistrationService struct {
	store         txRunner
	offerings     offeringStore
	students      studentStore
	registrations registrationStore
	waitlist      waitlistReader

	prereqs   *PrerequisiteChecker
	conflicts *ConflictDetector
	ledger    *CreditLedger
	capacity  *CapacityManager

	events    EventSink
	metrics   decisionMetrics
	cache     decisionCache
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRegistrationService constructs the orchestrator. events, metrics, and
// cache may be nil.
func NewRegistrationService(
	store txRunner,
	offerings offeringStore,
	students studentStore,
	registrations registrationStore,
	waitlist waitlistReader,
	prereqs *PrerequisiteChecker,
	conflicts *ConflictDetector,
	ledger *CreditLedger,
	capacity *CapacityManager,
	events EventSink,
	metrics decisionMetrics,
	cache decisionCache,
	validate *validator.Validate,
	logger *zap.Logger,
) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{
		store:         store,
		offerings:     offerings,
		students:      students,
		registrations: registrations,
		waitlist:      waitlist,
		prereqs:       prereqs,
		conflicts:     conflicts,
		ledger:        ledger,
		capacity:      capacity,
		events:        events,
		metrics:       metrics,
		cache:         cache,
		validator:     validate,
		logger:        logger,
	}
}

// Submit decides a registration request inside a single transaction. Rejection
// priority is fixed: duplicate, prerequisites, schedule conflict, credit
// limit, then capacity. Validation rejections are persisted as Rejected
// registrations and returned as results, not errors; only a duplicate request
// fails outright with no side effects.
func (s *RegistrationService) Submit(ctx context.Context, req SubmitRegistrationRequest) (*models.Registration, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	start := time.Now()
	var (
		registration *models.Registration
		pending      []models.RegistrationEvent
	)

	err := s.store.WithinTx(ctx, func(tx *sqlx.Tx) error {
		// Offering lock first, student ledger second: the fixed global
		// order that keeps concurrent requests deadlock free.
		offering, err := s.offerings.LockTx(ctx, tx, req.OfferingID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "offering not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock offering")
		}

		student, err := s.students.FindByIDTx(ctx, tx, req.StudentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}
		if !student.Active {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "student inactive")
		}

		live, err := s.registrations.FindLiveTx(ctx, tx, student.ID, offering.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing registration")
		}
		if live != nil {
			return appErrors.Clone(appErrors.ErrDuplicateRegistration, "")
		}

		registration = &models.Registration{
			StudentID:  student.ID,
			OfferingID: offering.ID,
			TermID:     offering.TermID,
			Status:     models.RegistrationStatusPending,
		}

		prereqList, err := s.offerings.PrerequisitesTx(ctx, tx, offering.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
		}
		completed, err := s.students.CompletedCoursesTx(ctx, tx, student.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course history")
		}
		if result := s.prereqs.Check(prereqList, completed); !result.Satisfied {
			return s.rejectTx(ctx, tx, registration, appErrors.ErrPrerequisitesNotMet.Code, &pending)
		}

		meetings, err := s.offerings.MeetingTimesTx(ctx, tx, offering.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load meeting times")
		}
		schedule, err := s.registrations.CommittedScheduleTx(ctx, tx, student.ID, offering.TermID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
		}
		if result := s.conflicts.Check(meetings, schedule); result.Conflict {
			return s.rejectTx(ctx, tx, registration, appErrors.ErrScheduleConflict.Code, &pending)
		}

		ok, _, err := s.ledger.ReserveTx(ctx, tx, student, offering.TermID, offering.Credits)
		if err != nil {
			return err
		}
		if !ok {
			return s.rejectTx(ctx, tx, registration, appErrors.ErrCreditLimitExceeded.Code, &pending)
		}

		reserved, err := s.capacity.TryReserveSeatTx(ctx, tx, offering)
		if err != nil {
			return err
		}
		if reserved {
			registration.Status = models.RegistrationStatusApproved
			if err := s.registrations.CreateTx(ctx, tx, registration); err != nil {
				return err
			}
			pending = append(pending, s.event(models.EventRegistrationApproved, registration, "", false))
		} else {
			// Credits stay held while waitlisted so a later promotion
			// cannot push the student over the limit.
			registration.Status = models.RegistrationStatusWaitlisted
			if err := s.registrations.CreateTx(ctx, tx, registration); err != nil {
				return err
			}
			if _, err := s.capacity.EnqueueTx(ctx, tx, offering, student.ID, registration.ID); err != nil {
				return err
			}
			pending = append(pending, s.event(models.EventRegistrationWaitlisted, registration, "", false))
		}

		return s.verifySeatInvariantTx(ctx, tx, offering)
	})
	if err != nil {
		return nil, err
	}

	s.finish(ctx, registration.OfferingID, []string{registration.StudentID}, pending, strings.ToLower(string(registration.Status)), start)
	return registration, nil
}

// Drop withdraws a registration. Dropping an Approved registration releases
// its seat (promoting the waitlist head in the same transaction) and its
// credits; dropping a Waitlisted one removes the queue entry and releases the
// held credits. Anything else is an invalid transition.
func (s *RegistrationService) Drop(ctx context.Context, registrationID string) (*models.Registration, error) {
	current, err := s.registrations.FindByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}

	start := time.Now()
	var (
		registration *models.Registration
		pending      []models.RegistrationEvent
		students     []string
	)

	err = s.store.WithinTx(ctx, func(tx *sqlx.Tx) error {
		offering, err := s.offerings.LockTx(ctx, tx, current.OfferingID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock offering")
		}

		// Re-read under the offering lock: the status may have moved
		// since the unlocked read above.
		registration, err = s.registrations.FindByIDTx(ctx, tx, registrationID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
		}
		if !registration.Status.CanTransition(models.RegistrationStatusDropped) {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "registration cannot be dropped from status "+string(registration.Status))
		}
		students = append(students, registration.StudentID)

		switch registration.Status {
		case models.RegistrationStatusApproved:
			promoted, err := s.capacity.ReleaseSeatTx(ctx, tx, offering)
			if err != nil {
				return err
			}
			for _, entry := range promoted {
				promotedReg, err := s.registrations.FindByIDTx(ctx, tx, entry.RegistrationID)
				if err != nil {
					return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load promoted registration")
				}
				students = append(students, entry.StudentID)
				pending = append(pending, s.event(models.EventRegistrationPromoted, promotedReg, "", false))
				if s.metrics != nil {
					s.metrics.CountPromotion(false)
				}
			}
		case models.RegistrationStatusWaitlisted:
			entry, err := s.waitlist.FindLiveByStudentTx(ctx, tx, offering.ID, registration.StudentID)
			if err != nil {
				return err
			}
			if entry != nil {
				if err := s.capacity.RemoveEntryTx(ctx, tx, entry.ID); err != nil {
					return err
				}
			}
		}

		if _, err := s.ledger.ReleaseTx(ctx, tx, registration.StudentID, registration.TermID, offering.Credits); err != nil {
			return err
		}
		if err := s.registrations.UpdateStatusTx(ctx, tx, registration.ID, models.RegistrationStatusDropped, nil); err != nil {
			return err
		}
		registration.Status = models.RegistrationStatusDropped
		pending = append(pending, s.event(models.EventRegistrationDropped, registration, "", false))

		return s.verifySeatInvariantTx(ctx, tx, offering)
	})
	if err != nil {
		return nil, err
	}

	s.finish(ctx, registration.OfferingID, students, pending, "dropped", start)
	return registration, nil
}

// ForcePromote promotes a waitlisted student out of FIFO order. The promotion
// re-validates prerequisites, conflicts, and the credit limit: state may have
// changed since enqueue, and a promotion that now fails validation becomes a
// terminal Rejected, freeing the seat for the next in queue.
func (s *RegistrationService) ForcePromote(ctx context.Context, offeringID, studentID string) (*models.Registration, error) {
	start := time.Now()
	var (
		registration *models.Registration
		pending      []models.RegistrationEvent
	)

	err := s.store.WithinTx(ctx, func(tx *sqlx.Tx) error {
		offering, err := s.offerings.LockTx(ctx, tx, offeringID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "offering not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock offering")
		}

		entry, err := s.waitlist.FindLiveByStudentTx(ctx, tx, offeringID, studentID)
		if err != nil {
			return err
		}
		if entry == nil {
			return appErrors.Clone(appErrors.ErrNotFound, "student is not on the waitlist for this offering")
		}

		registration, err = s.registrations.FindByIDTx(ctx, tx, entry.RegistrationID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
		}
		if registration.Status != models.RegistrationStatusWaitlisted {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "registration is not waitlisted")
		}

		student, err := s.students.FindByIDTx(ctx, tx, studentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}

		prereqList, err := s.offerings.PrerequisitesTx(ctx, tx, offering.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
		}
		completed, err := s.students.CompletedCoursesTx(ctx, tx, student.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course history")
		}
		if result := s.prereqs.Check(prereqList, completed); !result.Satisfied {
			return s.rejectPromotionTx(ctx, tx, registration, entry, offering, appErrors.ErrPrerequisitesNotMet.Code, &pending)
		}

		meetings, err := s.offerings.MeetingTimesTx(ctx, tx, offering.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load meeting times")
		}
		schedule, err := s.registrations.CommittedScheduleTx(ctx, tx, student.ID, offering.TermID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
		}
		if result := s.conflicts.Check(meetings, schedule); result.Conflict {
			return s.rejectPromotionTx(ctx, tx, registration, entry, offering, appErrors.ErrScheduleConflict.Code, &pending)
		}

		// Credits were held at enqueue time; re-check the total against
		// the bound in case it moved since.
		held, err := s.ledger.HeldTx(ctx, tx, student.ID, offering.TermID)
		if err != nil {
			return err
		}
		if held > s.ledger.MaxFor(student) {
			return s.rejectPromotionTx(ctx, tx, registration, entry, offering, appErrors.ErrCreditLimitExceeded.Code, &pending)
		}

		if err := s.capacity.ConsumeSeatForPromotionTx(ctx, tx, offering, entry); err != nil {
			return err
		}
		registration.Status = models.RegistrationStatusApproved
		registration.Reason = nil
		s.logger.Info("force promote",
			zap.String("offering_id", offering.ID),
			zap.String("student_id", studentID),
			zap.Int64("sequence", entry.Sequence),
		)
		pending = append(pending, s.event(models.EventRegistrationPromoted, registration, "", true))
		if s.metrics != nil {
			s.metrics.CountPromotion(true)
		}

		return s.verifySeatInvariantTx(ctx, tx, offering)
	})
	if err != nil {
		return nil, err
	}

	s.finish(ctx, offeringID, []string{studentID}, pending, "force_promote_"+strings.ToLower(string(registration.Status)), start)
	return registration, nil
}

// WaitlistPosition returns the student's 1-based position in an offering's
// queue, or found=false when the student is not queued. Positions are served
// read-through the cache; decision commits invalidate the cached entries, so
// a stale hit cannot outlive the next decision on the offering.
func (s *RegistrationService) WaitlistPosition(ctx context.Context, offeringID, studentID string) (int, bool, error) {
	if s.cache != nil {
		if position, ok := s.cache.WaitlistPosition(ctx, offeringID, studentID); ok {
			return position, true, nil
		}
	}
	position, err := s.waitlist.Position(ctx, offeringID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read waitlist position")
	}
	if s.cache != nil {
		s.cache.StoreWaitlistPosition(ctx, offeringID, studentID, position)
	}
	return position, true, nil
}

// ListWaitlist returns an offering's live queue in sequence order.
func (s *RegistrationService) ListWaitlist(ctx context.Context, offeringID string) ([]models.WaitlistEntryDetail, error) {
	entries, err := s.waitlist.ListByOffering(ctx, offeringID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list waitlist")
	}
	return entries, nil
}

// List returns registrations with pagination metadata.
func (s *RegistrationService) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, *models.Pagination, error) {
	regs, total, err := s.registrations.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return regs, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a registration by ID.
func (s *RegistrationService) Get(ctx context.Context, id string) (*models.Registration, error) {
	reg, err := s.registrations.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	return reg, nil
}

// Schedule returns a student's weekly schedule of approved courses.
func (s *RegistrationService) Schedule(ctx context.Context, studentID, termID string) ([]models.ScheduleSlot, error) {
	slots, err := s.registrations.ScheduleByStudent(ctx, studentID, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	return slots, nil
}

// reasonTermClosed marks registrations dropped because their term closed
// while they were still queued.
const reasonTermClosed = "TERM_CLOSED"

// CompleteTerm closes a term: every Approved registration becomes Completed
// and the course lands in the student's history, then the remaining queues of
// the term are cleared, dropping each waitlisted registration and releasing
// its held credits. A Completed registration keeps its seat, so seat
// conservation holds across the close.
func (s *RegistrationService) CompleteTerm(ctx context.Context, termID string) (int, error) {
	var (
		completed int
		dropped   int
		cleared   = make(map[string][]string)
	)
	err := s.store.WithinTx(ctx, func(tx *sqlx.Tx) error {
		regs, err := s.registrations.ListApprovedByTermTx(ctx, tx, termID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list approved registrations")
		}
		now := time.Now().UTC()
		for _, reg := range regs {
			offering, err := s.offerings.LockTx(ctx, tx, reg.OfferingID)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock offering")
			}
			if err := s.registrations.UpdateStatusTx(ctx, tx, reg.ID, models.RegistrationStatusCompleted, nil); err != nil {
				return err
			}
			if err := s.students.AddCompletedCourseTx(ctx, tx, models.CompletedCourse{
				StudentID:   reg.StudentID,
				CourseID:    offering.CourseID,
				Passed:      true,
				CompletedAt: now,
			}); err != nil {
				return err
			}
			completed++
		}

		entries, err := s.waitlist.ListLiveByTermTx(ctx, tx, termID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list term waitlist entries")
		}
		reason := reasonTermClosed
		for _, entry := range entries {
			// Offering lock first, ledger second, same order as a decision.
			if _, err := s.offerings.LockTx(ctx, tx, entry.OfferingID); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock offering")
			}
			if err := s.capacity.RemoveEntryTx(ctx, tx, entry.ID); err != nil {
				return err
			}
			if _, err := s.ledger.ReleaseTx(ctx, tx, entry.StudentID, termID, entry.OfferingCredits); err != nil {
				return err
			}
			if err := s.registrations.UpdateStatusTx(ctx, tx, entry.RegistrationID, models.RegistrationStatusDropped, &reason); err != nil {
				return err
			}
			cleared[entry.OfferingID] = append(cleared[entry.OfferingID], entry.StudentID)
			dropped++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		for offeringID, studentIDs := range cleared {
			s.cache.InvalidateOffering(ctx, offeringID, studentIDs...)
		}
	}
	s.logger.Info("term completed",
		zap.String("term_id", termID),
		zap.Int("registrations", completed),
		zap.Int("waitlist_cleared", dropped))
	return completed, nil
}

// rejectTx persists a terminal Rejected registration with the given reason
// code and queues the notification. Returns nil: a rejection is a committed
// outcome, not a transaction failure.
func (s *RegistrationService) rejectTx(ctx context.Context, tx *sqlx.Tx, registration *models.Registration, reasonCode string, pending *[]models.RegistrationEvent) error {
	registration.Status = models.RegistrationStatusRejected
	registration.Reason = &reasonCode
	if err := s.registrations.CreateTx(ctx, tx, registration); err != nil {
		return err
	}
	*pending = append(*pending, s.event(models.EventRegistrationRejected, registration, reasonCode, false))
	return nil
}

// rejectPromotionTx converts a failed force-promote into a terminal Rejected
// state: the queue entry is removed and the held credits released, while the
// seat stays available for the next in queue.
func (s *RegistrationService) rejectPromotionTx(ctx context.Context, tx *sqlx.Tx, registration *models.Registration, entry *models.WaitlistEntry, offering *models.CourseOffering, reasonCode string, pending *[]models.RegistrationEvent) error {
	if err := s.capacity.RemoveEntryTx(ctx, tx, entry.ID); err != nil {
		return err
	}
	if _, err := s.ledger.ReleaseTx(ctx, tx, registration.StudentID, registration.TermID, offering.Credits); err != nil {
		return err
	}
	if err := s.registrations.UpdateStatusTx(ctx, tx, registration.ID, models.RegistrationStatusRejected, &reasonCode); err != nil {
		return err
	}
	registration.Status = models.RegistrationStatusRejected
	registration.Reason = &reasonCode
	*pending = append(*pending, s.event(models.EventRegistrationRejected, registration, reasonCode, true))
	return nil
}

// verifySeatInvariantTx checks seats_remaining + seat holders == capacity
// before commit, where Approved and Completed registrations each hold a seat.
// A violation is a defect signal: the transaction aborts and the error
// surfaces for operator attention.
func (s *RegistrationService) verifySeatInvariantTx(ctx context.Context, tx *sqlx.Tx, offering *models.CourseOffering) error {
	if offering.SeatsRemaining < 0 {
		return appErrors.Clone(appErrors.ErrInvariantViolation, "seat count negative")
	}
	holders, err := s.registrations.CountSeatHoldersTx(ctx, tx, offering.ID)
	if err != nil {
		return err
	}
	if offering.SeatsRemaining+holders != offering.Capacity {
		s.logger.Error("seat conservation violated",
			zap.String("offering_id", offering.ID),
			zap.Int("seats_remaining", offering.SeatsRemaining),
			zap.Int("seat_holders", holders),
			zap.Int("capacity", offering.Capacity),
		)
		return appErrors.Clone(appErrors.ErrInvariantViolation, "seat conservation violated")
	}
	return nil
}

func (s *RegistrationService) event(eventType models.RegistrationEventType, reg *models.Registration, reason string, forced bool) models.RegistrationEvent {
	return models.RegistrationEvent{
		Type:           eventType,
		RegistrationID: reg.ID,
		StudentID:      reg.StudentID,
		OfferingID:     reg.OfferingID,
		TermID:         reg.TermID,
		Status:         reg.Status,
		Reason:         reason,
		Forced:         forced,
		OccurredAt:     time.Now().UTC(),
	}
}

// finish runs the post-commit side effects: notifications, metrics, and cache
// invalidation. All fire-and-forget.
func (s *RegistrationService) finish(ctx context.Context, offeringID string, studentIDs []string, events []models.RegistrationEvent, outcome string, start time.Time) {
	if s.events != nil {
		for _, event := range events {
			s.events.Emit(event)
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveDecision(outcome, time.Since(start))
	}
	if s.cache != nil {
		s.cache.InvalidateOffering(ctx, offeringID, studentIDs...)
	}
}
