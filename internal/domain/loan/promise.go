package loan

import (
	"fmt"
	"time"

	"lending-engine/internal/pkg/apperrors"
	"lending-engine/internal/pkg/clock"
)

// promiseGraceDays is how many days past the promised date a promise may
// keep pending before the batch run marks it broken.
const promiseGraceDays = 1

// RecordPromise logs a collector-obtained promise to pay by the given date.
// A fresh promise starts a new cycle, so it overwrites any prior promise
// regardless of how that one ended.
func (l *Loan) RecordPromise(date time.Time) error {
	if date.IsZero() {
		return apperrors.NewValidationError("promiseToPayDate", "must be set")
	}
	d := clock.StartOfDay(date)
	l.PromiseToPayDate = &d
	l.PromiseStatus = PromisePending
	return nil
}

// MarkPromiseHonored closes the current promise as kept. Valid only while
// the promise is open (pending or due today).
func (l *Loan) MarkPromiseHonored() error {
	switch l.PromiseStatus {
	case PromisePending, PromiseDueToday:
		l.PromiseStatus = PromiseHonored
		return nil
	}
	return fmt.Errorf("%w: cannot honor promise in state %q",
		apperrors.ErrInvalidPromiseState, l.PromiseStatus)
}

// RefreshPromise advances the promise state for the batch run's notion of
// today. A promise still open past its date plus the grace period becomes
// broken and bumps the follow-up counter; one already broken stays broken,
// so repeated runs never double-increment. A promise whose date is today
// moves to the informational due_today state.
func (l *Loan) RefreshPromise(today time.Time) (broken bool) {
	switch l.PromiseStatus {
	case PromisePending, PromiseDueToday:
	default:
		return false
	}
	if l.PromiseToPayDate == nil {
		return false
	}

	day := clock.StartOfDay(today)
	due := clock.StartOfDay(*l.PromiseToPayDate)

	if day.After(due.AddDate(0, 0, promiseGraceDays)) {
		l.PromiseStatus = PromiseBroken
		l.PromiseFollowUpCount++
		return true
	}
	if day.Equal(due) {
		l.PromiseStatus = PromiseDueToday
	}
	return false
}
