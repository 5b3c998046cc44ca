package models

import "time"

// RegistrationEventType identifies a status transition worth notifying about.
type RegistrationEventType string

const (
	EventRegistrationApproved   RegistrationEventType = "registration.approved"
	EventRegistrationWaitlisted RegistrationEventType = "registration.waitlisted"
	EventRegistrationRejected   RegistrationEventType = "registration.rejected"
	EventRegistrationPromoted   RegistrationEventType = "registration.promoted"
	EventRegistrationDropped    RegistrationEventType = "registration.dropped"
)

// RegistrationEvent is the fire-and-forget payload handed to the notification
// sink after a decision commits. Forced marks promotions that bypassed FIFO
// order.
type RegistrationEvent struct {
	Type           RegistrationEventType `json:"type"`
	RegistrationID string                `json:"registration_id"`
	StudentID      string                `json:"student_id"`
	OfferingID     string                `json:"offering_id"`
	TermID         string                `json:"term_id"`
	Status         RegistrationStatus    `json:"status"`
	Reason         string                `json:"reason,omitempty"`
	Forced         bool                  `json:"forced,omitempty"`
	OccurredAt     time.Time             `json:"occurred_at"`
}
