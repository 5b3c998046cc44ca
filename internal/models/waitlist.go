package models

import "time"

// WaitlistEntry is one FIFO slot in an offering's queue. Sequence numbers are
// allocated strictly increasing per offering and never reused; removal leaves
// gaps, ordering is always by sequence number. An entry is live while
// RemovedAt is null.
type WaitlistEntry struct {
	ID             string     `db:"id" json:"id"`
	OfferingID     string     `db:"offering_id" json:"offering_id"`
	StudentID      string     `db:"student_id" json:"student_id"`
	RegistrationID string     `db:"registration_id" json:"registration_id"`
	Sequence       int64      `db:"sequence" json:"sequence"`
	EnqueuedAt     time.Time  `db:"enqueued_at" json:"enqueued_at"`
	RemovedAt      *time.Time `db:"removed_at" json:"removed_at,omitempty"`
}

// TermWaitlistEntry carries the offering credits alongside a queue entry, so
// term close can release the held credits without a second lookup.
type TermWaitlistEntry struct {
	WaitlistEntry
	OfferingCredits int `db:"offering_credits" json:"offering_credits"`
}

// WaitlistEntryDetail adds student context for the admin queue view.
type WaitlistEntryDetail struct {
	WaitlistEntry
	StudentName   string `db:"student_name" json:"student_name"`
	StudentNumber string `db:"student_number" json:"student_number"`
}
