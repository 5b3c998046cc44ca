package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opencampus/course-reg-api/internal/models"
)

func completedCourse(courseID string, passed bool) models.CompletedCourse {
	return models.CompletedCourse{
		StudentID:   "student-1",
		CourseID:    courseID,
		Passed:      passed,
		CompletedAt: time.Now(),
	}
}

func TestPrerequisiteCheckEmptySetSatisfies(t *testing.T) {
	checker := NewPrerequisiteChecker()

	result := checker.Check(nil, nil)

	assert.True(t, result.Satisfied)
	assert.Empty(t, result.Missing)
}

func TestPrerequisiteCheckAllPassed(t *testing.T) {
	checker := NewPrerequisiteChecker()

	result := checker.Check([]string{"MATH-101", "CS-101"}, []models.CompletedCourse{
		completedCourse("MATH-101", true),
		completedCourse("CS-101", true),
		completedCourse("ENG-100", true),
	})

	assert.True(t, result.Satisfied)
	assert.Empty(t, result.Missing)
}

func TestPrerequisiteCheckFailedCourseDoesNotCount(t *testing.T) {
	checker := NewPrerequisiteChecker()

	result := checker.Check([]string{"MATH-101"}, []models.CompletedCourse{
		completedCourse("MATH-101", false),
	})

	assert.False(t, result.Satisfied)
	assert.Equal(t, []string{"MATH-101"}, result.Missing)
}

func TestPrerequisiteCheckMissingSorted(t *testing.T) {
	checker := NewPrerequisiteChecker()

	result := checker.Check([]string{"PHYS-201", "CS-101", "MATH-101"}, []models.CompletedCourse{
		completedCourse("CS-101", true),
	})

	assert.False(t, result.Satisfied)
	assert.Equal(t, []string{"MATH-101", "PHYS-201"}, result.Missing)
}
