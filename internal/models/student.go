package models

import "time"

// Student represents a learner eligible to register for course offerings.
// MinCredits/MaxCredits bound the per-term credit ledger; zero values mean
// "use the configured defaults".
type Student struct {
	ID         string    `db:"id" json:"id"`
	Number     string    `db:"number" json:"number"`
	FullName   string    `db:"full_name" json:"full_name"`
	Active     bool      `db:"active" json:"active"`
	MinCredits int       `db:"min_credits" json:"min_credits"`
	MaxCredits int       `db:"max_credits" json:"max_credits"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// CompletedCourse records a course a student has finished, with the pass flag
// the prerequisite checker consults.
type CompletedCourse struct {
	StudentID   string    `db:"student_id" json:"student_id"`
	CourseID    string    `db:"course_id" json:"course_id"`
	Grade       string    `db:"grade" json:"grade"`
	Passed      bool      `db:"passed" json:"passed"`
	CompletedAt time.Time `db:"completed_at" json:"completed_at"`
}

// TermCredit is the per-student per-term credit ledger row. EnrolledCredits is
// the running total of credit weight held by live (Approved or Waitlisted)
// registrations; it never goes negative.
type TermCredit struct {
	StudentID       string    `db:"student_id" json:"student_id"`
	TermID          string    `db:"term_id" json:"term_id"`
	EnrolledCredits int       `db:"enrolled_credits" json:"enrolled_credits"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates search parameters for listing students.
type StudentFilter struct {
	Search    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
