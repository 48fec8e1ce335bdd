package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. Cancellation deletes the row and has no status.
const (
	EnrollmentStatusEnrolled         EnrollmentStatus = "enrolled"
	EnrollmentStatusWaitlist         EnrollmentStatus = "waitlist"
	EnrollmentStatusWaitlistInvited  EnrollmentStatus = "waitlist-invited"
	EnrollmentStatusInviteExpired    EnrollmentStatus = "waitlist-invite-expired"
	EnrollmentStatusWaitlistDeclined EnrollmentStatus = "waitlist-declined"
	// EnrollmentStatusForceOffWaitlist only exists while a forced promotion is in flight.
	EnrollmentStatusForceOffWaitlist EnrollmentStatus = "force-off-waitlist"
)

// Valid reports whether the status is one of the known values.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusEnrolled, EnrollmentStatusWaitlist, EnrollmentStatusWaitlistInvited,
		EnrollmentStatusInviteExpired, EnrollmentStatusWaitlistDeclined, EnrollmentStatusForceOffWaitlist:
		return true
	}
	return false
}

// OccupiesSeat reports whether the status counts against capacity.
func (s EnrollmentStatus) OccupiesSeat() bool {
	return s == EnrollmentStatusEnrolled || s == EnrollmentStatusWaitlistInvited
}

// Terminal reports whether a new enroll attempt may reuse the row.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentStatusInviteExpired || s == EnrollmentStatusWaitlistDeclined || s == EnrollmentStatusForceOffWaitlist
}

// Cancellable reports whether the enrollment is live and may be cancelled.
func (s EnrollmentStatus) Cancellable() bool {
	return s == EnrollmentStatusEnrolled || s == EnrollmentStatusWaitlist || s == EnrollmentStatusWaitlistInvited
}

// Enrollment captures a student's place in a training, keyed by (student, training).
type Enrollment struct {
	StudentID  string           `db:"student_id" json:"student_id"`
	TrainingID string           `db:"training_id" json:"training_id"`
	Status     EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt time.Time        `db:"enrolled_at" json:"enrolled_at"`
	InvitedAt  *time.Time       `db:"invited_at" json:"invited_at,omitempty"`
	Paid       bool             `db:"paid" json:"paid"`
}

// EnrollmentDetail enriches Enrollment with student info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	StudentMail string `db:"student_email" json:"student_email"`
	UserID      string `db:"user_id" json:"user_id"`
	PracticeID  string `db:"practice_id" json:"practice_id"`
}

// EnrollmentFilter provides filters for listing enrollments of a training.
type EnrollmentFilter struct {
	TrainingID string
	Status     EnrollmentStatus
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// EnrollmentAction names an operator or participant action on an existing enrollment.
type EnrollmentAction string

// Supported actions.
const (
	ActionInvite           EnrollmentAction = "invite"
	ActionAccept           EnrollmentAction = "accept"
	ActionDeinvite         EnrollmentAction = "deinvite"
	ActionReturnToWaitlist EnrollmentAction = "return-to-waitlist"
	ActionForceEnroll      EnrollmentAction = "force-enroll"
	ActionDecline          EnrollmentAction = "decline"
	ActionTogglePaid       EnrollmentAction = "toggle-paid"
)

// SelfService reports whether a participant may perform the action on their own enrollment.
func (a EnrollmentAction) SelfService() bool {
	return a == ActionAccept || a == ActionDecline
}

// CapacityView is a point-in-time occupancy snapshot of a training.
type CapacityView struct {
	TrainingID      string `json:"training_id"`
	MaxParticipants *int   `json:"max_participants,omitempty"`
	Unlimited       bool   `json:"unlimited"`
	Occupied        int    `json:"occupied"`
	Waitlisted      int    `json:"waitlisted"`
	Available       int    `json:"available"`
}

// HasSeat reports whether one more participant can occupy a seat.
func (v CapacityView) HasSeat() bool {
	return v.Unlimited || v.Available > 0
}

// BookingWindowConfig describes the rolling "max bookings per window" rule.
type BookingWindowConfig struct {
	MaxBookings            int           `json:"max_bookings"`
	WindowDuration         time.Duration `json:"window_duration"`
	GracePeriodBeforeStart time.Duration `json:"grace_period_before_start"`
}
