package service

import (
	"sort"

	"github.com/opencampus/course-reg-api/internal/models"
)

// ConflictResult reports whether a candidate schedule collides with the
// student's committed schedule and which offerings collide.
type ConflictResult struct {
	Conflict    bool     `json:"conflict"`
	OfferingIDs []string `json:"offering_ids,omitempty"`
}

// ConflictDetector compares a candidate offering's meeting set against the
// meeting intervals of the student's committed registrations. Pure function of
// its inputs; the caller supplies only Approved/Pending rows because a
// waitlisted course holds no time slot.
type ConflictDetector struct{}

// NewConflictDetector constructs the detector.
func NewConflictDetector() *ConflictDetector {
	return &ConflictDetector{}
}

// Check reports a conflict when any candidate meeting shares a day with an
// existing interval and the half-open ranges [start, end) overlap. Touching
// endpoints do not overlap.
func (d *ConflictDetector) Check(candidate []models.MeetingTime, schedule []models.ScheduleEntry) ConflictResult {
	seen := make(map[string]struct{})
	var offeringIDs []string

	for _, meeting := range candidate {
		for _, entry := range schedule {
			existing := models.MeetingTime{
				DayOfWeek:   entry.DayOfWeek,
				StartMinute: entry.StartMinute,
				EndMinute:   entry.EndMinute,
			}
			if !meeting.Overlaps(existing) {
				continue
			}
			if _, dup := seen[entry.OfferingID]; dup {
				continue
			}
			seen[entry.OfferingID] = struct{}{}
			offeringIDs = append(offeringIDs, entry.OfferingID)
		}
	}
	sort.Strings(offeringIDs)

	return ConflictResult{Conflict: len(offeringIDs) > 0, OfferingIDs: offeringIDs}
}
