package loan

import (
	"time"

	"github.com/shopspring/decimal"

	"lending-engine/internal/pkg/apperrors"
)

type PaymentStatus string

const (
	PaymentAllocated PaymentStatus = "allocated"
)

// Payment is immutable once allocated.
type Payment struct {
	ID          int64
	LoanID      int64
	Amount      decimal.Decimal
	PaymentDate time.Time
	Method      string
	Reference   string
	Status      PaymentStatus
	Allocations []Allocation
	Excess      decimal.Decimal
	CreatedAt   time.Time
}

// Allocation records how much of a payment landed on one installment.
// TotalPaid == PrincipalPaid + InterestPaid + PenaltyPaid.
type Allocation struct {
	InstallmentNumber int
	PrincipalPaid     decimal.Decimal
	InterestPaid      decimal.Decimal
	PenaltyPaid       decimal.Decimal
	TotalPaid         decimal.Decimal
}

// AllocationResult is the outcome of one waterfall pass. Installments holds
// the full updated list; Allocations names the installments that were
// touched. Conservation: Σ Allocations[i].TotalPaid + Excess equals the
// payment amount exactly.
type AllocationResult struct {
	Allocations  []Allocation
	Excess       decimal.Decimal
	Installments []Installment
	FullySettled bool
}

// AllocatePayment applies a payment across the loan's installments,
// earliest due first. An installment paid after its due date is charged the
// flat late penalty once; the penalty raises the installment's outstanding
// total for every later pass as well. Money applied to an installment
// satisfies the scheduled amount first and the penalty last, so the penalty
// share of any partial payment is derivable from the paid amount alone.
//
// The input slice is not mutated; installments must be ordered by number.
func AllocatePayment(amount decimal.Decimal, paymentDate time.Time, installments []Installment) (*AllocationResult, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.ErrInvalidPaymentAmount
	}
	if paymentDate.IsZero() {
		return nil, apperrors.NewValidationError("paymentDate", "must be set")
	}

	updated := make([]Installment, len(installments))
	copy(updated, installments)

	result := &AllocationResult{Installments: updated}
	left := amount

	for i := range updated {
		inst := &updated[i]
		if !inst.Payable() {
			continue
		}
		if left.IsZero() {
			break
		}

		if paymentDate.After(inst.DueDate) && inst.PenaltyAmount.IsZero() {
			inst.PenaltyAmount = LatePenalty
			inst.RemainingAmount = inst.RemainingAmount.Add(LatePenalty)
		}

		applied := inst.RemainingAmount
		if left.LessThan(applied) {
			applied = left
		}

		result.Allocations = append(result.Allocations, splitAllocation(inst, applied))

		inst.PaidAmount = inst.PaidAmount.Add(applied)
		inst.RemainingAmount = inst.RemainingAmount.Sub(applied)
		left = left.Sub(applied)

		if inst.RemainingAmount.IsZero() {
			inst.Status = InstallmentPaid
			pd := paymentDate
			inst.PaymentDate = &pd
		} else {
			inst.Status = InstallmentPartial
		}
	}

	result.Excess = left
	result.FullySettled = EarliestUnpaid(updated) == nil
	return result, nil
}

// splitAllocation breaks an applied amount into principal, interest and
// penalty shares for one installment, before the installment is mutated.
// The scheduled amount is collected before the penalty; the principal share
// of the scheduled portion follows the installment's own component ratio,
// with interest taking the rounding difference.
func splitAllocation(inst *Installment, applied decimal.Decimal) Allocation {
	alreadyScheduledPaid := inst.PaidAmount
	if alreadyScheduledPaid.GreaterThan(inst.TotalAmount) {
		alreadyScheduledPaid = inst.TotalAmount
	}

	scheduledApplied := inst.TotalAmount.Sub(alreadyScheduledPaid)
	if scheduledApplied.GreaterThan(applied) {
		scheduledApplied = applied
	}
	penaltyApplied := applied.Sub(scheduledApplied)

	principalPaid := decimal.Zero
	if inst.TotalAmount.IsPositive() {
		principalPaid = scheduledApplied.Mul(inst.PrincipalComponent).Div(inst.TotalAmount).Round(0)
		// Rounding can lift the principal share above a sub-unit payment;
		// cap it so the interest share never goes negative.
		if principalPaid.GreaterThan(scheduledApplied) {
			principalPaid = scheduledApplied
		}
	}
	interestPaid := scheduledApplied.Sub(principalPaid)

	return Allocation{
		InstallmentNumber: inst.Number,
		PrincipalPaid:     principalPaid,
		InterestPaid:      interestPaid,
		PenaltyPaid:       penaltyApplied,
		TotalPaid:         applied,
	}
}
