package loan

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lending-engine/internal/pkg/apperrors"
)

// ScheduleBreakdown is the fee and interest breakdown computed at
// disbursement. All amounts are in integer minor currency units.
type ScheduleBreakdown struct {
	Principal       decimal.Decimal
	Fee             decimal.Decimal
	GST             decimal.Decimal
	TotalDeduction  decimal.Decimal
	NetDisbursement decimal.Decimal
	Interest        decimal.Decimal
	TotalRepayable  decimal.Decimal
	EMI             decimal.Decimal
}

// GenerateSchedule computes the disbursement breakdown and the full
// installment schedule for a principal. The per-installment amount is the
// rounded even split of the total repayable; the last installment absorbs
// the rounding remainder so the schedule sums to the total exactly. The
// same absorption applies to the principal/interest components.
func GenerateSchedule(principal decimal.Decimal, disbursementDate time.Time) (*ScheduleBreakdown, []Installment, error) {
	if principal.LessThanOrEqual(decimal.Zero) {
		return nil, nil, apperrors.NewValidationError("principal", "must be positive")
	}
	if disbursementDate.IsZero() {
		return nil, nil, apperrors.NewValidationError("disbursementDate", "must be set")
	}

	fee := principal.Mul(ProcessingFeeRate).Round(0)
	gst := fee.Mul(GSTRate).Round(0)
	interest := principal.Mul(FlatInterestRate).Round(0)
	totalRepayable := principal.Add(interest)

	breakdown := &ScheduleBreakdown{
		Principal:       principal,
		Fee:             fee,
		GST:             gst,
		TotalDeduction:  fee.Add(gst),
		NetDisbursement: principal.Sub(fee).Sub(gst),
		Interest:        interest,
		TotalRepayable:  totalRepayable,
		EMI:             totalRepayable.Div(decimal.NewFromInt(DefaultTenor)).Round(0),
	}

	installments := make([]Installment, 0, DefaultTenor)
	accumulatedAmount := decimal.Zero
	accumulatedPrincipal := decimal.Zero

	for k := 1; k <= DefaultTenor; k++ {
		amount := breakdown.EMI
		if k == DefaultTenor {
			// Last installment absorbs the rounding remainder.
			amount = totalRepayable.Sub(accumulatedAmount)
		}

		principalComponent := amount.Mul(principal).Div(totalRepayable).Round(0)
		if k == DefaultTenor {
			principalComponent = principal.Sub(accumulatedPrincipal)
		}
		interestComponent := amount.Sub(principalComponent)

		installments = append(installments, Installment{
			Number:             k,
			DueDate:            disbursementDate.AddDate(0, 0, k*InstallmentFrequencyDays),
			PrincipalComponent: principalComponent,
			InterestComponent:  interestComponent,
			TotalAmount:        amount,
			PaidAmount:         decimal.Zero,
			RemainingAmount:    amount,
			PenaltyAmount:      decimal.Zero,
			Status:             InstallmentPending,
		})

		accumulatedAmount = accumulatedAmount.Add(amount)
		accumulatedPrincipal = accumulatedPrincipal.Add(principalComponent)
	}

	if !accumulatedAmount.Equal(totalRepayable) {
		return nil, nil, fmt.Errorf("%w: schedule total %s does not match repayable %s",
			apperrors.ErrInternal, accumulatedAmount, totalRepayable)
	}

	return breakdown, installments, nil
}
