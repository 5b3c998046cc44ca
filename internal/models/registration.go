package models

import "time"

// RegistrationStatus represents the lifecycle of a registration.
type RegistrationStatus string

// Registration states. Rejected, Dropped, and Completed are terminal.
const (
	RegistrationStatusPending    RegistrationStatus = "PENDING"
	RegistrationStatusApproved   RegistrationStatus = "APPROVED"
	RegistrationStatusWaitlisted RegistrationStatus = "WAITLISTED"
	RegistrationStatusRejected   RegistrationStatus = "REJECTED"
	RegistrationStatusDropped    RegistrationStatus = "DROPPED"
	RegistrationStatusCompleted  RegistrationStatus = "COMPLETED"
)

// allowedTransitions encodes the registration state machine. Transitions are
// monotonic: nothing leaves a terminal state.
var allowedTransitions = map[RegistrationStatus][]RegistrationStatus{
	RegistrationStatusPending:    {RegistrationStatusApproved, RegistrationStatusWaitlisted, RegistrationStatusRejected},
	RegistrationStatusApproved:   {RegistrationStatusDropped, RegistrationStatusCompleted},
	RegistrationStatusWaitlisted: {RegistrationStatusApproved, RegistrationStatusRejected, RegistrationStatusDropped},
}

// CanTransition reports whether moving from s to next is a legal edge.
// Waitlisted -> Rejected covers a force-promote that fails re-validation.
func (s RegistrationStatus) CanTransition(next RegistrationStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s RegistrationStatus) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// IsLive reports whether the registration still occupies the unique
// (student, offering) slot: live registrations block duplicates.
func (s RegistrationStatus) IsLive() bool {
	switch s {
	case RegistrationStatusPending, RegistrationStatusApproved, RegistrationStatusWaitlisted:
		return true
	}
	return false
}

// Registration captures one student/offering decision and its outcome.
// At most one live registration exists per (student, offering, term).
type Registration struct {
	ID         string             `db:"id" json:"id"`
	StudentID  string             `db:"student_id" json:"student_id"`
	OfferingID string             `db:"offering_id" json:"offering_id"`
	TermID     string             `db:"term_id" json:"term_id"`
	Status     RegistrationStatus `db:"status" json:"status"`
	Reason     *string            `db:"reason" json:"reason,omitempty"`
	CreatedAt  time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time          `db:"updated_at" json:"updated_at"`
}

// RegistrationDetail enriches Registration with offering context.
type RegistrationDetail struct {
	Registration
	OfferingTitle string `db:"offering_title" json:"offering_title"`
	Credits       int    `db:"credits" json:"credits"`
	StudentName   string `db:"student_name" json:"student_name"`
}

// ScheduleEntry is a committed registration joined with one meeting interval,
// used by the conflict detector. Waitlisted registrations hold no time slot
// and never appear here.
type ScheduleEntry struct {
	RegistrationID string `db:"registration_id"`
	OfferingID     string `db:"offering_id"`
	DayOfWeek      string `db:"day_of_week"`
	StartMinute    int    `db:"start_minute"`
	EndMinute      int    `db:"end_minute"`
}

// ScheduleSlot is one meeting interval in a student's weekly schedule view.
type ScheduleSlot struct {
	RegistrationID string `db:"registration_id" json:"registration_id"`
	OfferingID     string `db:"offering_id" json:"offering_id"`
	OfferingTitle  string `db:"offering_title" json:"offering_title"`
	DayOfWeek      string `db:"day_of_week" json:"day_of_week"`
	StartMinute    int    `db:"start_minute" json:"start_minute"`
	EndMinute      int    `db:"end_minute" json:"end_minute"`
}

// RegistrationFilter provides filters for listing registrations.
type RegistrationFilter struct {
	StudentID  string
	OfferingID string
	TermID     string
	Status     RegistrationStatus
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
