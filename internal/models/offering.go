package models

import "time"

// CourseOffering is a scheduled instance of a course in a term with its own
// capacity and meeting times. SeatsRemaining is mutated only by the capacity
// manager inside a decision transaction; the invariant
// seats_remaining + approved registrations == capacity holds at every commit.
type CourseOffering struct {
	ID             string    `db:"id" json:"id"`
	CourseID       string    `db:"course_id" json:"course_id"`
	TermID         string    `db:"term_id" json:"term_id"`
	Title          string    `db:"title" json:"title"`
	Credits        int       `db:"credits" json:"credits"`
	Capacity       int       `db:"capacity" json:"capacity"`
	SeatsRemaining int       `db:"seats_remaining" json:"seats_remaining"`
	FeeCents       int64     `db:"fee_cents" json:"fee_cents"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`

	MeetingTimes  []MeetingTime `db:"-" json:"meeting_times,omitempty"`
	Prerequisites []string      `db:"-" json:"prerequisites,omitempty"`
}

// MeetingTime is one day/start/end interval of an offering's schedule. Start
// and End are minutes since midnight; the interval is half-open [Start, End),
// so meetings that touch endpoints do not overlap.
type MeetingTime struct {
	OfferingID  string `db:"offering_id" json:"offering_id"`
	DayOfWeek   string `db:"day_of_week" json:"day_of_week"`
	StartMinute int    `db:"start_minute" json:"start_minute"`
	EndMinute   int    `db:"end_minute" json:"end_minute"`
}

// Overlaps reports whether two meetings collide: same day and
// [s1,e1) intersects [s2,e2).
func (m MeetingTime) Overlaps(other MeetingTime) bool {
	if m.DayOfWeek != other.DayOfWeek {
		return false
	}
	return m.StartMinute < other.EndMinute && other.StartMinute < m.EndMinute
}

// OfferingFilter describes query params for listing offerings.
type OfferingFilter struct {
	TermID    string
	CourseID  string
	Available *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
