package service

import (
	"sort"

	"github.com/noah-isme/training-enrollment-api/internal/models"
)

// WaitlistCascadeEngine picks which waitlisted enrollments to invite when seats free up.
type WaitlistCascadeEngine struct {
	tracker *CapacityTracker
}

// NewWaitlistCascadeEngine constructs the engine.
func NewWaitlistCascadeEngine(tracker *CapacityTracker) *WaitlistCascadeEngine {
	if tracker == nil {
		tracker = NewCapacityTracker()
	}
	return &WaitlistCascadeEngine{tracker: tracker}
}

// EligibleForPromotion returns waitlisted enrollments oldest first, truncated to the
// number of free seats. The booking window policy is not re-run for promotions.
func (c *WaitlistCascadeEngine) EligibleForPromotion(training *models.Training, enrollments []models.Enrollment) []models.Enrollment {
	view := c.tracker.View(training, enrollments)
	if !view.HasSeat() {
		return nil
	}
	waiting := make([]models.Enrollment, 0, view.Waitlisted)
	for _, e := range enrollments {
		if e.Status == models.EnrollmentStatusWaitlist {
			waiting = append(waiting, e)
		}
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		if waiting[i].EnrolledAt.Equal(waiting[j].EnrolledAt) {
			return waiting[i].StudentID < waiting[j].StudentID
		}
		return waiting[i].EnrolledAt.Before(waiting[j].EnrolledAt)
	})
	if !view.Unlimited && len(waiting) > view.Available {
		waiting = waiting[:view.Available]
	}
	if len(waiting) == 0 {
		return nil
	}
	return waiting
}
