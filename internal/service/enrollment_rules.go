package service

import (
	"time"

	"github.com/noah-isme/training-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/training-enrollment-api/pkg/errors"
)

// enrollmentContext carries everything the enroll preconditions inspect.
type enrollmentContext struct {
	training *models.Training
	student  *models.Student
	existing *models.Enrollment
	history  []time.Time
	now      time.Time
}

// enrollmentRule is one precondition of the enroll transition.
type enrollmentRule struct {
	name     string
	failWith *appErrors.Error
	validate func(rc *enrollmentContext) (bool, string)
}

// newEnrollmentRules builds the enroll preconditions in evaluation order.
func newEnrollmentRules(policy *BookingWindowPolicy) []enrollmentRule {
	return []enrollmentRule{
		{
			name:     "training_active",
			failWith: appErrors.ErrNotActive,
			validate: func(rc *enrollmentContext) (bool, string) {
				return rc.training.Active, "training not active"
			},
		},
		{
			name:     "not_started",
			failWith: appErrors.ErrValidation,
			validate: func(rc *enrollmentContext) (bool, string) {
				return !rc.training.Started(rc.now), "training already started"
			},
		},
		{
			name:     "student_active",
			failWith: appErrors.ErrValidation,
			validate: func(rc *enrollmentContext) (bool, string) {
				return rc.student.Active, "student inactive"
			},
		},
		{
			name:     "no_live_enrollment",
			failWith: appErrors.ErrAlreadyEnrolled,
			validate: func(rc *enrollmentContext) (bool, string) {
				if rc.existing == nil || rc.existing.Status.Terminal() {
					return true, ""
				}
				return false, "student already enrolled in training (" + string(rc.existing.Status) + ")"
			},
		},
		{
			name:     "booking_window",
			failWith: appErrors.ErrPolicyViolation,
			validate: func(rc *enrollmentContext) (bool, string) {
				if !rc.training.ApplyPolicies || !policy.Enabled() {
					return true, ""
				}
				start, ok := rc.training.FirstStart()
				if !ok {
					return true, ""
				}
				decision := policy.Check(start, rc.history)
				return decision.Allowed, decision.Reason
			},
		},
	}
}

// checkEnrollmentRules returns the first failing rule as a typed error.
func checkEnrollmentRules(rules []enrollmentRule, rc *enrollmentContext) (string, error) {
	for _, rule := range rules {
		if ok, message := rule.validate(rc); !ok {
			return rule.name, appErrors.Clone(rule.failWith, message)
		}
	}
	return "", nil
}
