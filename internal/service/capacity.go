package service

import "github.com/noah-isme/training-enrollment-api/internal/models"

// CapacityTracker derives occupancy figures from an enrollment set. It holds no state;
// every call recomputes from the enrollments it is given.
type CapacityTracker struct{}

// NewCapacityTracker constructs a CapacityTracker.
func NewCapacityTracker() *CapacityTracker {
	return &CapacityTracker{}
}

// Occupied counts enrollments holding a seat (enrolled or invited).
func (CapacityTracker) Occupied(enrollments []models.Enrollment) int {
	count := 0
	for _, e := range enrollments {
		if e.Status.OccupiesSeat() {
			count++
		}
	}
	return count
}

// Waitlisted counts enrollments waiting for a seat.
func (CapacityTracker) Waitlisted(enrollments []models.Enrollment) int {
	count := 0
	for _, e := range enrollments {
		if e.Status == models.EnrollmentStatusWaitlist {
			count++
		}
	}
	return count
}

// View returns a fresh capacity snapshot for the training.
func (t CapacityTracker) View(training *models.Training, enrollments []models.Enrollment) models.CapacityView {
	view := models.CapacityView{
		Occupied:   t.Occupied(enrollments),
		Waitlisted: t.Waitlisted(enrollments),
	}
	if training != nil {
		view.TrainingID = training.ID
		view.MaxParticipants = training.MaxParticipants
	}
	if view.MaxParticipants == nil {
		view.Unlimited = true
		return view
	}
	if free := *view.MaxParticipants - view.Occupied; free > 0 {
		view.Available = free
	}
	return view
}
