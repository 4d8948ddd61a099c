package domain

import (
	"errors"
	"fmt"
)

var (
	ErrVersionConflict     = errors.New("usage_period_version_conflict")
	ErrUsageLimitExceeded  = errors.New("usage_limit_exceeded")
	ErrInvalidDelta        = errors.New("invalid_usage_delta")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrPeriodNotFound      = errors.New("usage_period_not_found")
)

// LimitExceededError reports which quota a reservation would have overshot.
type LimitExceededError struct {
	Plan      string
	Limits    Limits
	Used      Limits
	Requested Delta
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("usage limit exceeded for plan %s: credits %d+%d/%d, actions %d+%d/%d",
		e.Plan,
		e.Used.Credits, e.Requested.Credits, e.Limits.Credits,
		e.Used.Actions, e.Requested.Actions, e.Limits.Actions,
	)
}

func (e *LimitExceededError) Is(target error) bool {
	return target == ErrUsageLimitExceeded
}

// Resource names the first exhausted dimension.
func (e *LimitExceededError) Resource() string {
	if e.Used.Credits+e.Requested.Credits > e.Limits.Credits {
		return "credits"
	}
	return "actions"
}

// Exceeds reports whether adding delta to used would overshoot either dimension.
func Exceeds(limits Limits, used Limits, delta Delta) bool {
	return used.Credits+delta.Credits > limits.Credits || used.Actions+delta.Actions > limits.Actions
}
