package cache

import "fmt"

// Key builders for the registration read-side caches. Decision commits
// invalidate these; readers treat a miss as "go to the database".

// SeatSnapshotKey caches the remaining-seat count for an offering.
func SeatSnapshotKey(offeringID string) string {
	return fmt.Sprintf("offering:%s:seats", offeringID)
}

// WaitlistPositionKey caches a student's queue position for an offering.
func WaitlistPositionKey(offeringID, studentID string) string {
	return fmt.Sprintf("offering:%s:waitlist:%s", offeringID, studentID)
}
