package service

import (
	"sort"

	"github.com/opencampus/course-reg-api/internal/models"
)

// PrerequisiteResult reports whether a prerequisite set is satisfied and which
// course ids are missing or not passed.
type PrerequisiteResult struct {
	Satisfied bool     `json:"satisfied"`
	Missing   []string `json:"missing,omitempty"`
}

// PrerequisiteChecker validates completed-course history against an offering's
// declared prerequisite set. Pure: no side effects, evaluates exactly the
// inputs it is given, so callers must load both inside the decision
// transaction to avoid stale reads.
type PrerequisiteChecker struct{}

// NewPrerequisiteChecker constructs the checker.
func NewPrerequisiteChecker() *PrerequisiteChecker {
	return &PrerequisiteChecker{}
}

// Check returns satisfied only when every prerequisite course appears in the
// completed set with its pass flag set. An empty prerequisite set always
// satisfies. Missing ids come back sorted for deterministic messages.
func (c *PrerequisiteChecker) Check(prerequisites []string, completed []models.CompletedCourse) PrerequisiteResult {
	if len(prerequisites) == 0 {
		return PrerequisiteResult{Satisfied: true}
	}

	passed := make(map[string]bool, len(completed))
	for _, course := range completed {
		if course.Passed {
			passed[course.CourseID] = true
		}
	}

	var missing []string
	for _, courseID := range prerequisites {
		if !passed[courseID] {
			missing = append(missing, courseID)
		}
	}
	sort.Strings(missing)

	return PrerequisiteResult{Satisfied: len(missing) == 0, Missing: missing}
}
