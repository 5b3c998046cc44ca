package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencampus/course-reg-api/internal/models"
)

func meeting(day string, start, end int) models.MeetingTime {
	return models.MeetingTime{DayOfWeek: day, StartMinute: start, EndMinute: end}
}

func scheduleEntry(offeringID, day string, start, end int) models.ScheduleEntry {
	return models.ScheduleEntry{
		RegistrationID: "reg-" + offeringID,
		OfferingID:     offeringID,
		DayOfWeek:      day,
		StartMinute:    start,
		EndMinute:      end,
	}
}

func TestConflictCheckEmptySchedule(t *testing.T) {
	detector := NewConflictDetector()

	result := detector.Check([]models.MeetingTime{meeting("MON", 540, 630)}, nil)

	assert.False(t, result.Conflict)
	assert.Empty(t, result.OfferingIDs)
}

func TestConflictCheckOverlapSameDay(t *testing.T) {
	detector := NewConflictDetector()

	result := detector.Check(
		[]models.MeetingTime{meeting("MON", 540, 630)},
		[]models.ScheduleEntry{scheduleEntry("off-1", "MON", 600, 690)},
	)

	assert.True(t, result.Conflict)
	assert.Equal(t, []string{"off-1"}, result.OfferingIDs)
}

// Back-to-back meetings share an endpoint; half-open intervals mean a class
// ending at 10:30 and one starting at 10:30 both fit.
func TestConflictCheckTouchingEndpointsDoNotOverlap(t *testing.T) {
	detector := NewConflictDetector()

	result := detector.Check(
		[]models.MeetingTime{meeting("MON", 630, 720)},
		[]models.ScheduleEntry{scheduleEntry("off-1", "MON", 540, 630)},
	)

	assert.False(t, result.Conflict)
}

func TestConflictCheckSameTimeDifferentDay(t *testing.T) {
	detector := NewConflictDetector()

	result := detector.Check(
		[]models.MeetingTime{meeting("TUE", 540, 630)},
		[]models.ScheduleEntry{scheduleEntry("off-1", "MON", 540, 630)},
	)

	assert.False(t, result.Conflict)
}

func TestConflictCheckContainment(t *testing.T) {
	detector := NewConflictDetector()

	result := detector.Check(
		[]models.MeetingTime{meeting("WED", 560, 580)},
		[]models.ScheduleEntry{scheduleEntry("off-1", "WED", 540, 630)},
	)

	assert.True(t, result.Conflict)
}

func TestConflictCheckReportsEachOfferingOnce(t *testing.T) {
	detector := NewConflictDetector()

	result := detector.Check(
		[]models.MeetingTime{meeting("MON", 540, 630), meeting("WED", 540, 630)},
		[]models.ScheduleEntry{
			scheduleEntry("off-2", "MON", 600, 690),
			scheduleEntry("off-2", "WED", 600, 690),
			scheduleEntry("off-1", "MON", 500, 560),
		},
	)

	assert.True(t, result.Conflict)
	assert.Equal(t, []string{"off-1", "off-2"}, result.OfferingIDs)
}
