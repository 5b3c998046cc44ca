package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opencampus/course-reg-api/internal/models"
	appErrors "github.com/opencampus/course-reg-api/pkg/errors"
)

type mockTxRunner struct{}

func (m *mockTxRunner) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

type mockOfferingRepo struct {
	offerings map[string]*models.CourseOffering
	meetings  map[string][]models.MeetingTime
	prereqs   map[string][]string
}

func (m *mockOfferingRepo) FindByID(ctx context.Context, id string) (*models.CourseOffering, error) {
	offering, ok := m.offerings[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return offering, nil
}

func (m *mockOfferingRepo) LockTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.CourseOffering, error) {
	return m.FindByID(ctx, id)
}

func (m *mockOfferingRepo) MeetingTimesTx(ctx context.Context, tx *sqlx.Tx, offeringID string) ([]models.MeetingTime, error) {
	return m.meetings[offeringID], nil
}

func (m *mockOfferingRepo) PrerequisitesTx(ctx context.Context, tx *sqlx.Tx, offeringID string) ([]string, error) {
	return m.prereqs[offeringID], nil
}

func (m *mockOfferingRepo) UpdateSeatsTx(ctx context.Context, tx *sqlx.Tx, id string, seatsRemaining int) error {
	offering, ok := m.offerings[id]
	if !ok {
		return sql.ErrNoRows
	}
	offering.SeatsRemaining = seatsRemaining
	return nil
}

type mockStudentRepo struct {
	students  map[string]*models.Student
	completed map[string][]models.CompletedCourse
	credits   map[string]int
}

func (m *mockStudentRepo) FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Student, error) {
	student, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

func (m *mockStudentRepo) CompletedCoursesTx(ctx context.Context, tx *sqlx.Tx, studentID string) ([]models.CompletedCourse, error) {
	return m.completed[studentID], nil
}

func (m *mockStudentRepo) AddCompletedCourseTx(ctx context.Context, tx *sqlx.Tx, course models.CompletedCourse) error {
	m.completed[course.StudentID] = append(m.completed[course.StudentID], course)
	return nil
}

func (m *mockStudentRepo) LockTermCreditTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string) (*models.TermCredit, error) {
	return &models.TermCredit{
		StudentID:       studentID,
		TermID:          termID,
		EnrolledCredits: m.credits[ledgerKey(studentID, termID)],
	}, nil
}

func (m *mockStudentRepo) UpdateTermCreditTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string, total int) error {
	m.credits[ledgerKey(studentID, termID)] = total
	return nil
}

type mockRegistrationRepo struct {
	regs      map[string]*models.Registration
	offerings *mockOfferingRepo
	nextID    int
}

func (m *mockRegistrationRepo) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	reg, ok := m.regs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *reg
	return &copied, nil
}

func (m *mockRegistrationRepo) FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Registration, error) {
	return m.FindByID(ctx, id)
}

func (m *mockRegistrationRepo) FindLiveTx(ctx context.Context, tx *sqlx.Tx, studentID, offeringID string) (*models.Registration, error) {
	for _, reg := range m.regs {
		if reg.StudentID == studentID && reg.OfferingID == offeringID && reg.Status.IsLive() {
			copied := *reg
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockRegistrationRepo) CreateTx(ctx context.Context, tx *sqlx.Tx, reg *models.Registration) error {
	m.nextID++
	reg.ID = fmt.Sprintf("reg-%d", m.nextID)
	copied := *reg
	m.regs[reg.ID] = &copied
	return nil
}

func (m *mockRegistrationRepo) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.RegistrationStatus, reason *string) error {
	reg, ok := m.regs[id]
	if !ok {
		return sql.ErrNoRows
	}
	reg.Status = status
	reg.Reason = reason
	return nil
}

func (m *mockRegistrationRepo) CommittedScheduleTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string) ([]models.ScheduleEntry, error) {
	var entries []models.ScheduleEntry
	for _, reg := range m.regs {
		if reg.StudentID != studentID || reg.TermID != termID {
			continue
		}
		if reg.Status != models.RegistrationStatusPending && reg.Status != models.RegistrationStatusApproved {
			continue
		}
		for _, meeting := range m.offerings.meetings[reg.OfferingID] {
			entries = append(entries, models.ScheduleEntry{
				RegistrationID: reg.ID,
				OfferingID:     reg.OfferingID,
				DayOfWeek:      meeting.DayOfWeek,
				StartMinute:    meeting.StartMinute,
				EndMinute:      meeting.EndMinute,
			})
		}
	}
	return entries, nil
}

func (m *mockRegistrationRepo) CountSeatHoldersTx(ctx context.Context, tx *sqlx.Tx, offeringID string) (int, error) {
	count := 0
	for _, reg := range m.regs {
		if reg.OfferingID != offeringID {
			continue
		}
		if reg.Status == models.RegistrationStatusApproved || reg.Status == models.RegistrationStatusCompleted {
			count++
		}
	}
	return count, nil
}

func (m *mockRegistrationRepo) ListApprovedByTermTx(ctx context.Context, tx *sqlx.Tx, termID string) ([]models.RegistrationDetail, error) {
	var details []models.RegistrationDetail
	for _, reg := range m.regs {
		if reg.TermID == termID && reg.Status == models.RegistrationStatusApproved {
			details = append(details, models.RegistrationDetail{Registration: *reg})
		}
	}
	sort.Slice(details, func(i, j int) bool { return details[i].ID < details[j].ID })
	return details, nil
}

func (m *mockRegistrationRepo) ScheduleByStudent(ctx context.Context, studentID, termID string) ([]models.ScheduleSlot, error) {
	var slots []models.ScheduleSlot
	for _, reg := range m.regs {
		if reg.StudentID != studentID || reg.TermID != termID || reg.Status != models.RegistrationStatusApproved {
			continue
		}
		for _, mt := range m.offerings.meetings[reg.OfferingID] {
			slots = append(slots, models.ScheduleSlot{
				RegistrationID: reg.ID,
				OfferingID:     reg.OfferingID,
				DayOfWeek:      mt.DayOfWeek,
				StartMinute:    mt.StartMinute,
				EndMinute:      mt.EndMinute,
			})
		}
	}
	return slots, nil
}

func (m *mockRegistrationRepo) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	var details []models.RegistrationDetail
	for _, reg := range m.regs {
		if filter.StudentID != "" && reg.StudentID != filter.StudentID {
			continue
		}
		if filter.Status != "" && reg.Status != filter.Status {
			continue
		}
		details = append(details, models.RegistrationDetail{Registration: *reg})
	}
	sort.Slice(details, func(i, j int) bool { return details[i].ID < details[j].ID })
	return details, len(details), nil
}

func (m *mockWaitlistQueue) Position(ctx context.Context, offeringID, studentID string) (int, error) {
	var own *models.WaitlistEntry
	for _, e := range m.entries {
		if e.OfferingID == offeringID && e.StudentID == studentID && e.RemovedAt == nil {
			own = e
			break
		}
	}
	if own == nil {
		return 0, sql.ErrNoRows
	}
	position := 1
	for _, e := range m.entries {
		if e.OfferingID == offeringID && e.RemovedAt == nil && e.Sequence < own.Sequence {
			position++
		}
	}
	return position, nil
}

func (m *mockWaitlistQueue) ListByOffering(ctx context.Context, offeringID string) ([]models.WaitlistEntryDetail, error) {
	var details []models.WaitlistEntryDetail
	for _, e := range m.entries {
		if e.OfferingID == offeringID && e.RemovedAt == nil {
			details = append(details, models.WaitlistEntryDetail{WaitlistEntry: *e})
		}
	}
	sort.Slice(details, func(i, j int) bool { return details[i].Sequence < details[j].Sequence })
	return details, nil
}

type mockEventSink struct {
	events []models.RegistrationEvent
}

func (m *mockEventSink) Emit(event models.RegistrationEvent) {
	m.events = append(m.events, event)
}

func (m *mockEventSink) ofType(eventType models.RegistrationEventType) []models.RegistrationEvent {
	var matched []models.RegistrationEvent
	for _, event := range m.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

type mockDecisionCache struct {
	positions   map[string]int
	invalidated []string
}

func newMockDecisionCache() *mockDecisionCache {
	return &mockDecisionCache{positions: make(map[string]int)}
}

func positionKey(offeringID, studentID string) string {
	return offeringID + "/" + studentID
}

func (m *mockDecisionCache) WaitlistPosition(ctx context.Context, offeringID, studentID string) (int, bool) {
	position, ok := m.positions[positionKey(offeringID, studentID)]
	return position, ok
}

func (m *mockDecisionCache) StoreWaitlistPosition(ctx context.Context, offeringID, studentID string, position int) {
	m.positions[positionKey(offeringID, studentID)] = position
}

func (m *mockDecisionCache) InvalidateOffering(ctx context.Context, offeringID string, studentIDs ...string) {
	m.invalidated = append(m.invalidated, offeringID)
	for _, studentID := range studentIDs {
		delete(m.positions, positionKey(offeringID, studentID))
	}
}

type regFixture struct {
	svc       *RegistrationService
	offerings *mockOfferingRepo
	students  *mockStudentRepo
	regs      *mockRegistrationRepo
	queue     *mockWaitlistQueue
	events    *mockEventSink
	cache     *mockDecisionCache
}

func newRegFixture() *regFixture {
	offerings := &mockOfferingRepo{
		offerings: make(map[string]*models.CourseOffering),
		meetings:  make(map[string][]models.MeetingTime),
		prereqs:   make(map[string][]string),
	}
	students := &mockStudentRepo{
		students:  make(map[string]*models.Student),
		completed: make(map[string][]models.CompletedCourse),
		credits:   make(map[string]int),
	}
	regs := &mockRegistrationRepo{regs: make(map[string]*models.Registration), offerings: offerings}
	queue := &mockWaitlistQueue{offerings: offerings}
	events := &mockEventSink{}
	cache := newMockDecisionCache()

	ledger := NewCreditLedger(students, CreditBounds{Min: 12, Max: 18}, zap.NewNop())
	capacity := NewCapacityManager(offerings, queue, regs, 0, zap.NewNop())
	svc := NewRegistrationService(
		&mockTxRunner{},
		offerings,
		students,
		regs,
		queue,
		NewPrerequisiteChecker(),
		NewConflictDetector(),
		ledger,
		capacity,
		events,
		nil,
		cache,
		nil,
		zap.NewNop(),
	)

	return &regFixture{svc: svc, offerings: offerings, students: students, regs: regs, queue: queue, events: events, cache: cache}
}

func (f *regFixture) addOffering(id string, credits, capacity, seats int, meetings ...models.MeetingTime) {
	f.offerings.offerings[id] = &models.CourseOffering{
		ID:             id,
		CourseID:       "course-" + id,
		TermID:         "term-1",
		Title:          "Offering " + id,
		Credits:        credits,
		Capacity:       capacity,
		SeatsRemaining: seats,
	}
	f.offerings.meetings[id] = meetings
}

func (f *regFixture) addStudent(id string) {
	f.students.students[id] = &models.Student{ID: id, Number: "N-" + id, FullName: "Student " + id, Active: true}
}

func (f *regFixture) heldCredits(studentID string) int {
	return f.students.credits[ledgerKey(studentID, "term-1")]
}

// seedWaitlisted places a student directly into Waitlisted state with the
// held credits and queue entry a real submit would have produced.
func (f *regFixture) seedWaitlisted(studentID, offeringID string, sequence int64) *models.Registration {
	offering := f.offerings.offerings[offeringID]
	reg := &models.Registration{
		StudentID:  studentID,
		OfferingID: offeringID,
		TermID:     offering.TermID,
		Status:     models.RegistrationStatusWaitlisted,
	}
	_ = f.regs.CreateTx(context.Background(), nil, reg)
	entry := &models.WaitlistEntry{
		OfferingID:     offeringID,
		StudentID:      studentID,
		RegistrationID: reg.ID,
		Sequence:       sequence,
	}
	_ = f.queue.InsertTx(context.Background(), nil, entry)
	f.students.credits[ledgerKey(studentID, offering.TermID)] += offering.Credits
	return reg
}

func TestSubmitApprovesWhenSeatAvailable(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 2, 2)
	f.addStudent("s1")

	reg, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})

	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusApproved, reg.Status)
	assert.Equal(t, 1, f.offerings.offerings["off-1"].SeatsRemaining)
	assert.Equal(t, 3, f.heldCredits("s1"))
	require.Len(t, f.events.ofType(models.EventRegistrationApproved), 1)
}

func TestSubmitWaitlistsWhenFull(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 1, 1)
	f.addStudent("s1")
	f.addStudent("s2")

	_, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)

	reg, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s2", OfferingID: "off-1"})
	require.NoError(t, err)

	assert.Equal(t, models.RegistrationStatusWaitlisted, reg.Status)
	assert.Equal(t, 0, f.offerings.offerings["off-1"].SeatsRemaining)
	assert.Equal(t, 3, f.heldCredits("s2"), "credits are held while waitlisted")

	position, found, err := f.svc.WaitlistPosition(context.Background(), "off-1", "s2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, position)
}

func TestSubmitDuplicateFailsWithoutSideEffects(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 2, 2)
	f.addStudent("s1")

	_, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDuplicateRegistration))
	assert.Len(t, f.regs.regs, 1, "a duplicate must not create a row")
	assert.Equal(t, 3, f.heldCredits("s1"))
	assert.Equal(t, 1, f.offerings.offerings["off-1"].SeatsRemaining)
}

func TestSubmitDuplicateWhileWaitlisted(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 1, 0)
	f.addStudent("s2")
	f.seedWaitlisted("s2", "off-1", 1)

	_, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s2", OfferingID: "off-1"})

	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDuplicateRegistration))
}

func TestSubmitPrerequisitesNotMetPersistsRejection(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 2, 2)
	f.offerings.prereqs["off-1"] = []string{"MATH-101"}
	f.addStudent("s1")

	reg, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})

	require.NoError(t, err, "a validation rejection is a result, not an error")
	assert.Equal(t, models.RegistrationStatusRejected, reg.Status)
	require.NotNil(t, reg.Reason)
	assert.Equal(t, appErrors.ErrPrerequisitesNotMet.Code, *reg.Reason)
	assert.Equal(t, 0, f.heldCredits("s1"))
	assert.Equal(t, 2, f.offerings.offerings["off-1"].SeatsRemaining)
	require.Len(t, f.events.ofType(models.EventRegistrationRejected), 1)
}

func TestSubmitScheduleConflictRejected(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 2, 2, meeting("MON", 540, 630))
	f.addOffering("off-2", 3, 2, 2, meeting("MON", 600, 690))
	f.addStudent("s1")

	_, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)

	reg, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-2"})
	require.NoError(t, err)

	assert.Equal(t, models.RegistrationStatusRejected, reg.Status)
	require.NotNil(t, reg.Reason)
	assert.Equal(t, appErrors.ErrScheduleConflict.Code, *reg.Reason)
	assert.Equal(t, 3, f.heldCredits("s1"), "only the approved course holds credits")
}

func TestSubmitBackToBackMeetingsApproved(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 2, 2, meeting("MON", 540, 630))
	f.addOffering("off-2", 3, 2, 2, meeting("MON", 630, 720))
	f.addStudent("s1")

	_, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)

	reg, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-2"})
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusApproved, reg.Status)
}

func TestSubmitCreditLimitRejected(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 4, 2, 2)
	f.addStudent("s1")
	f.students.credits[ledgerKey("s1", "term-1")] = 15

	reg, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})

	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusRejected, reg.Status)
	require.NotNil(t, reg.Reason)
	assert.Equal(t, appErrors.ErrCreditLimitExceeded.Code, *reg.Reason)
	assert.Equal(t, 15, f.heldCredits("s1"), "a rejected request must not change the ledger")
	assert.Equal(t, 2, f.offerings.offerings["off-1"].SeatsRemaining)
}

// The waitlist holds credits too: a held total blocks further requests the
// same way an approved one does.
func TestSubmitCreditLimitCountsWaitlistedHold(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 15, 1, 0)
	f.addOffering("off-2", 4, 5, 5)
	f.addStudent("s1")
	f.seedWaitlisted("s1", "off-1", 1)

	reg, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-2"})

	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusRejected, reg.Status)
	require.NotNil(t, reg.Reason)
	assert.Equal(t, appErrors.ErrCreditLimitExceeded.Code, *reg.Reason)
}

// When several checks would fail at once, the recorded reason follows the
// fixed order: prerequisites, then conflict, then credits, then capacity.
func TestSubmitRejectionPriorityDeterministic(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 2, 2, meeting("MON", 540, 630))
	f.addOffering("off-2", 10, 2, 0, meeting("MON", 600, 690))
	f.offerings.prereqs["off-2"] = []string{"MATH-101"}
	f.addStudent("s1")
	f.students.credits[ledgerKey("s1", "term-1")] = 12

	_, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)

	reg, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-2"})
	require.NoError(t, err)
	require.NotNil(t, reg.Reason)
	assert.Equal(t, appErrors.ErrPrerequisitesNotMet.Code, *reg.Reason)

	// Same setup with the prerequisite satisfied fails on the conflict next.
	g := newRegFixture()
	g.addOffering("off-1", 3, 2, 2, meeting("MON", 540, 630))
	g.addOffering("off-2", 10, 2, 0, meeting("MON", 600, 690))
	g.offerings.prereqs["off-2"] = []string{"MATH-101"}
	g.addStudent("s1")
	g.students.completed["s1"] = []models.CompletedCourse{completedCourse("MATH-101", true)}
	g.students.credits[ledgerKey("s1", "term-1")] = 12

	_, err = g.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)

	reg, err = g.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-2"})
	require.NoError(t, err)
	require.NotNil(t, reg.Reason)
	assert.Equal(t, appErrors.ErrScheduleConflict.Code, *reg.Reason)
}

func TestSubmitUnknownOffering(t *testing.T) {
	f := newRegFixture()
	f.addStudent("s1")

	_, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "missing"})

	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}

func TestSubmitInactiveStudent(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 2, 2)
	f.students.students["s1"] = &models.Student{ID: "s1", Active: false}

	_, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})

	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPreconditionFailed))
}

func TestDropApprovedPromotesWaitlistHead(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 1, 1)
	f.addStudent("s1")
	f.addStudent("s2")
	f.addStudent("s3")

	first, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s2", OfferingID: "off-1"})
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s3", OfferingID: "off-1"})
	require.NoError(t, err)

	dropped, err := f.svc.Drop(context.Background(), first.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RegistrationStatusDropped, dropped.Status)
	assert.Equal(t, 0, f.heldCredits("s1"), "dropping releases the credits")
	assert.Equal(t, 3, f.heldCredits("s2"), "promotion keeps the held credits")
	assert.Equal(t, 0, f.offerings.offerings["off-1"].SeatsRemaining, "the freed seat goes to the queue head")

	promoted, err := f.regs.FindLiveTx(context.Background(), nil, "s2", "off-1")
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, models.RegistrationStatusApproved, promoted.Status)

	position, found, err := f.svc.WaitlistPosition(context.Background(), "off-1", "s3")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, position, "the next in queue moves up")

	require.Len(t, f.events.ofType(models.EventRegistrationPromoted), 1)
	require.Len(t, f.events.ofType(models.EventRegistrationDropped), 1)
}

func TestDropWaitlistedRemovesQueueEntryAndCredits(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 1, 0)
	f.addStudent("s2")
	seatHolder := &models.Registration{StudentID: "s9", OfferingID: "off-1", TermID: "term-1", Status: models.RegistrationStatusApproved}
	require.NoError(t, f.regs.CreateTx(context.Background(), nil, seatHolder))
	reg := f.seedWaitlisted("s2", "off-1", 1)

	dropped, err := f.svc.Drop(context.Background(), reg.ID)

	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusDropped, dropped.Status)
	assert.Equal(t, 0, f.heldCredits("s2"))

	_, found, err := f.svc.WaitlistPosition(context.Background(), "off-1", "s2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDropTwiceIsInvalidTransition(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 2, 2)
	f.addStudent("s1")

	reg, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)
	_, err = f.svc.Drop(context.Background(), reg.ID)
	require.NoError(t, err)

	_, err = f.svc.Drop(context.Background(), reg.ID)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition))
	assert.Equal(t, 0, f.heldCredits("s1"), "the second drop must not release credits again")
}

func TestDropUnknownRegistration(t *testing.T) {
	f := newRegFixture()

	_, err := f.svc.Drop(context.Background(), "missing")

	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}

func TestForcePromoteSkipsQueueOrder(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 2, 1)
	f.addStudent("s1")
	f.addStudent("s2")
	f.addStudent("s3")
	// One approved seat holder plus two in the queue, one seat free.
	approved := &models.Registration{StudentID: "s1", OfferingID: "off-1", TermID: "term-1", Status: models.RegistrationStatusApproved}
	require.NoError(t, f.regs.CreateTx(context.Background(), nil, approved))
	f.students.credits[ledgerKey("s1", "term-1")] = 3
	f.seedWaitlisted("s2", "off-1", 1)
	f.seedWaitlisted("s3", "off-1", 2)

	reg, err := f.svc.ForcePromote(context.Background(), "off-1", "s3")

	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusApproved, reg.Status)
	assert.Equal(t, 0, f.offerings.offerings["off-1"].SeatsRemaining)
	assert.Equal(t, 3, f.heldCredits("s3"))

	position, found, err := f.svc.WaitlistPosition(context.Background(), "off-1", "s2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, position, "skipped entries keep their place")

	events := f.events.ofType(models.EventRegistrationPromoted)
	require.Len(t, events, 1)
	assert.True(t, events[0].Forced)
}

func TestForcePromoteRevalidationFailureRejects(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 2, 2, meeting("MON", 540, 630))
	f.addOffering("off-2", 3, 1, 1, meeting("MON", 600, 690))
	f.addStudent("s1")
	f.seedWaitlisted("s1", "off-1", 1)

	// The student picked up a conflicting approved course after enqueueing.
	_, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-2"})
	require.NoError(t, err)

	reg, err := f.svc.ForcePromote(context.Background(), "off-1", "s1")

	require.NoError(t, err, "a failed promotion is a committed rejection, not an error")
	assert.Equal(t, models.RegistrationStatusRejected, reg.Status)
	require.NotNil(t, reg.Reason)
	assert.Equal(t, appErrors.ErrScheduleConflict.Code, *reg.Reason)
	assert.Equal(t, 2, f.offerings.offerings["off-1"].SeatsRemaining, "the seat stays free for the next in queue")
	assert.Equal(t, 3, f.heldCredits("s1"), "only the conflicting approval holds credits now")

	_, found, err := f.svc.WaitlistPosition(context.Background(), "off-1", "s1")
	require.NoError(t, err)
	assert.False(t, found, "the rejected entry leaves the queue")
}

func TestForcePromoteLapsedPrerequisitesRejects(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 1, 1)
	f.addStudent("s1")
	f.seedWaitlisted("s1", "off-1", 1)

	// The prerequisite was attached after the student enqueued.
	f.offerings.prereqs["off-1"] = []string{"MATH-101"}

	reg, err := f.svc.ForcePromote(context.Background(), "off-1", "s1")

	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusRejected, reg.Status)
	require.NotNil(t, reg.Reason)
	assert.Equal(t, appErrors.ErrPrerequisitesNotMet.Code, *reg.Reason)
	assert.Equal(t, 1, f.offerings.offerings["off-1"].SeatsRemaining, "the seat stays free for the next in queue")
	assert.Equal(t, 0, f.heldCredits("s1"))

	_, found, err := f.svc.WaitlistPosition(context.Background(), "off-1", "s1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestForcePromoteWithoutFreeSeat(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 1, 0)
	f.addStudent("s2")
	f.seedWaitlisted("s2", "off-1", 1)
	approved := &models.Registration{StudentID: "s9", OfferingID: "off-1", TermID: "term-1", Status: models.RegistrationStatusApproved}
	require.NoError(t, f.regs.CreateTx(context.Background(), nil, approved))

	_, err := f.svc.ForcePromote(context.Background(), "off-1", "s2")

	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCourseFull))
}

func TestForcePromoteStudentNotQueued(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 2, 1)
	f.addStudent("s1")

	_, err := f.svc.ForcePromote(context.Background(), "off-1", "s1")

	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}

func TestWaitlistPositionNotQueued(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 1, 1)

	position, found, err := f.svc.WaitlistPosition(context.Background(), "off-1", "s1")

	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, position)
}

func TestSubmitSeatInvariantViolationAborts(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 10, 5)
	f.addStudent("s1")
	// Seats and approvals disagree with capacity: 5 remaining, 2 approved, 10 total.
	for _, studentID := range []string{"s8", "s9"} {
		reg := &models.Registration{StudentID: studentID, OfferingID: "off-1", TermID: "term-1", Status: models.RegistrationStatusApproved}
		require.NoError(t, f.regs.CreateTx(context.Background(), nil, reg))
	}

	_, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})

	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvariantViolation))
}

func TestCompleteTerm(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 2, 2)
	f.addOffering("off-2", 4, 2, 2)
	f.addStudent("s1")

	_, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-2"})
	require.NoError(t, err)

	count, err := f.svc.CompleteTerm(context.Background(), "term-1")

	require.NoError(t, err)
	assert.Equal(t, 2, count)
	for _, reg := range f.regs.regs {
		assert.Equal(t, models.RegistrationStatusCompleted, reg.Status)
	}
	require.Len(t, f.students.completed["s1"], 2)
	for _, course := range f.students.completed["s1"] {
		assert.True(t, course.Passed)
	}
}

func TestCompleteTermClearsWaitlist(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 1, 1)
	f.addStudent("s1")
	f.addStudent("s2")

	_, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)
	waitlisted, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s2", OfferingID: "off-1"})
	require.NoError(t, err)
	require.Equal(t, models.RegistrationStatusWaitlisted, waitlisted.Status)

	count, err := f.svc.CompleteTerm(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	reg := f.regs.regs[waitlisted.ID]
	assert.Equal(t, models.RegistrationStatusDropped, reg.Status)
	require.NotNil(t, reg.Reason)
	assert.Equal(t, "TERM_CLOSED", *reg.Reason)
	assert.Equal(t, 0, f.heldCredits("s2"), "the hold is released with the queue entry")

	_, found, err := f.svc.WaitlistPosition(context.Background(), "off-1", "s2")
	require.NoError(t, err)
	assert.False(t, found, "no live queue entries survive the close")
}

func TestSubmitAfterTermCloseKeepsSeatsConsumed(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 1, 1)
	f.addStudent("s1")
	f.addStudent("s2")

	_, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)
	_, err = f.svc.CompleteTerm(context.Background(), "term-1")
	require.NoError(t, err)

	// A Completed registration still occupies its seat, so a new request
	// queues instead of tripping the conservation check.
	result, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s2", OfferingID: "off-1"})
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusWaitlisted, result.Status)
	assert.Equal(t, 0, f.offerings.offerings["off-1"].SeatsRemaining)
}

func TestWaitlistPositionReadThroughCache(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 1, 0)
	f.addStudent("s2")
	f.seedWaitlisted("s2", "off-1", 1)

	position, found, err := f.svc.WaitlistPosition(context.Background(), "off-1", "s2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, position)
	cached, ok := f.cache.positions[positionKey("off-1", "s2")]
	require.True(t, ok, "a miss populates the cache")
	assert.Equal(t, 1, cached)

	// Served from the cache, not the queue.
	f.cache.positions[positionKey("off-1", "s2")] = 7
	position, found, err = f.svc.WaitlistPosition(context.Background(), "off-1", "s2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, position)
}

func TestDropInvalidatesCachedPositions(t *testing.T) {
	f := newRegFixture()
	f.addOffering("off-1", 3, 1, 1)
	f.addStudent("s1")
	f.addStudent("s2")

	approved, err := f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), SubmitRegistrationRequest{StudentID: "s2", OfferingID: "off-1"})
	require.NoError(t, err)

	_, found, err := f.svc.WaitlistPosition(context.Background(), "off-1", "s2")
	require.NoError(t, err)
	require.True(t, found)

	_, err = f.svc.Drop(context.Background(), approved.ID)
	require.NoError(t, err)

	_, ok := f.cache.positions[positionKey("off-1", "s2")]
	assert.False(t, ok, "the promotion drops the stale cached position")
}
