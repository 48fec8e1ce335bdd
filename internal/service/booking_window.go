package service

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/noah-isme/training-enrollment-api/internal/models"
)

// PolicyDecision is the outcome of a booking window evaluation.
type PolicyDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// BookingCandidate is a training date evaluated in bulk against one booking history.
type BookingCandidate struct {
	TrainingID string
	Date       time.Time
}

// BookingWindowPolicy rejects a booking when it would put MaxBookings bookings of the
// same training type inside a span shorter than WindowDuration.
type BookingWindowPolicy struct {
	cfg models.BookingWindowConfig
	now func() time.Time
}

// NewBookingWindowPolicy constructs the policy. A nil clock defaults to time.Now.
func NewBookingWindowPolicy(cfg models.BookingWindowConfig, now func() time.Time) *BookingWindowPolicy {
	if now == nil {
		now = time.Now
	}
	return &BookingWindowPolicy{cfg: cfg, now: now}
}

// Enabled reports whether the rule is configured to reject anything at all.
func (p *BookingWindowPolicy) Enabled() bool {
	return p != nil && p.cfg.MaxBookings > 0 && p.cfg.WindowDuration > 0
}

// Config returns the active rule configuration.
func (p *BookingWindowPolicy) Config() models.BookingWindowConfig {
	if p == nil {
		return models.BookingWindowConfig{}
	}
	return p.cfg
}

// Check evaluates a single candidate date against the participant's booking dates.
func (p *BookingWindowPolicy) Check(candidate time.Time, history []time.Time) PolicyDecision {
	work := sortedDates(history, 1)
	return p.evaluate(candidate, &work, p.now())
}

// CheckMany evaluates many candidates of one training type against the same history,
// sorting it once and inserting/removing each candidate on a shared working buffer.
func (p *BookingWindowPolicy) CheckMany(candidates []BookingCandidate, history []time.Time) map[string]PolicyDecision {
	decisions := make(map[string]PolicyDecision, len(candidates))
	work := sortedDates(history, 1)
	now := p.now()
	for _, candidate := range candidates {
		decisions[candidate.TrainingID] = p.evaluate(candidate.Date, &work, now)
	}
	return decisions
}

// evaluate leaves *dates exactly as it found it.
func (p *BookingWindowPolicy) evaluate(candidate time.Time, dates *[]time.Time, now time.Time) PolicyDecision {
	allowed := PolicyDecision{Allowed: true}
	if !p.Enabled() {
		return allowed
	}
	history := *dates
	if len(history) == 0 {
		return allowed
	}
	idx := sort.Search(len(history), func(i int) bool { return !history[i].Before(candidate) })
	if idx < len(history) && history[idx].Equal(candidate) {
		return allowed
	}
	if candidate.Sub(now) <= p.cfg.GracePeriodBeforeStart {
		return allowed
	}

	history = slices.Insert(history, idx, candidate)
	violated := windowViolated(history, idx, p.cfg.MaxBookings, p.cfg.WindowDuration)
	*dates = slices.Delete(history, idx, idx+1)

	if violated {
		return PolicyDecision{Allowed: false, Reason: p.reason()}
	}
	return allowed
}

func (p *BookingWindowPolicy) reason() string {
	days := int(p.cfg.WindowDuration / (24 * time.Hour))
	if days > 0 {
		return fmt.Sprintf("no more than %d bookings of this training type within %d days", p.cfg.MaxBookings-1, days)
	}
	return fmt.Sprintf("no more than %d bookings of this training type within %s", p.cfg.MaxBookings-1, p.cfg.WindowDuration)
}

// windowViolated checks only the size-long windows that contain the inserted index.
func windowViolated(dates []time.Time, inserted, size int, window time.Duration) bool {
	first := inserted - (size - 1)
	if first < 0 {
		first = 0
	}
	for start := first; start <= inserted; start++ {
		end := start + size - 1
		if end >= len(dates) {
			break
		}
		if dates[end].Sub(dates[start]) < window {
			return true
		}
	}
	return false
}

func sortedDates(history []time.Time, spare int) []time.Time {
	out := make([]time.Time, len(history), len(history)+spare)
	copy(out, history)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
