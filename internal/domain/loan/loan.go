package loan

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lending-engine/internal/domain/collections"
	"lending-engine/internal/pkg/apperrors"
)

// Product policy constants. The product is a single fixed-tenor flat-interest
// micro-loan: fees are deducted upfront from disbursement, interest is flat
// over the whole tenor.
const (
	DefaultTenor             = 14
	InstallmentFrequencyDays = 7
)

var (
	ProcessingFeeRate = decimal.NewFromFloat(0.10)
	GSTRate           = decimal.NewFromFloat(0.18)
	FlatInterestRate  = decimal.NewFromFloat(0.20)

	// LatePenalty is the flat penalty added once to an installment paid
	// after its due date.
	LatePenalty = decimal.NewFromInt(250)
)

type LoanStatus string

const (
	StatusPending   LoanStatus = "pending"
	StatusActive    LoanStatus = "active"
	StatusClosed    LoanStatus = "closed"
	StatusDefaulted LoanStatus = "defaulted"
)

func ParseLoanStatus(s string) (LoanStatus, error) {
	switch LoanStatus(s) {
	case StatusPending, StatusActive, StatusClosed, StatusDefaulted:
		return LoanStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown loan status %q", apperrors.ErrInvalidArgument, s)
}

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPartial InstallmentStatus = "partial"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentOverdue InstallmentStatus = "overdue"
)

func ParseInstallmentStatus(s string) (InstallmentStatus, error) {
	switch InstallmentStatus(s) {
	case InstallmentPending, InstallmentPartial, InstallmentPaid, InstallmentOverdue:
		return InstallmentStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown installment status %q", apperrors.ErrInvalidArgument, s)
}

type PromiseStatus string

const (
	PromiseNone     PromiseStatus = "none"
	PromisePending  PromiseStatus = "pending"
	PromiseDueToday PromiseStatus = "due_today"
	PromiseHonored  PromiseStatus = "honored"
	PromiseBroken   PromiseStatus = "broken"
)

type Loan struct {
	ID               int64
	CustomerRef      string
	Principal        decimal.Decimal
	FeeRate          decimal.Decimal
	InterestRate     decimal.Decimal
	Tenor            int
	FrequencyDays    int
	DisbursementDate time.Time
	Status           LoanStatus

	DPD         int
	Bucket      collections.Bucket
	LegalStatus collections.LegalStatus

	PromiseToPayDate     *time.Time
	PromiseStatus        PromiseStatus
	PromiseFollowUpCount int

	CreatedAt time.Time
	UpdatedAt time.Time

	Installments []Installment
}

// Installment is one scheduled repayment. Installments are never deleted,
// only mutated by the allocator and the overdue-marking step of the batch
// job. Invariant: PaidAmount + RemainingAmount == TotalAmount + PenaltyAmount.
type Installment struct {
	ID                 int64
	LoanID             int64
	Number             int
	DueDate            time.Time
	PrincipalComponent decimal.Decimal
	InterestComponent  decimal.Decimal
	TotalAmount        decimal.Decimal
	PaidAmount         decimal.Decimal
	RemainingAmount    decimal.Decimal
	PenaltyAmount      decimal.Decimal
	Status             InstallmentStatus
	PaymentDate        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Payable reports whether the installment can still receive money.
func (i *Installment) Payable() bool {
	return i.Status != InstallmentPaid
}

// Outstanding returns the total amount still owed across all installments,
// penalties included.
func Outstanding(installments []Installment) decimal.Decimal {
	total := decimal.Zero
	for i := range installments {
		if installments[i].Payable() {
			total = total.Add(installments[i].RemainingAmount)
		}
	}
	return total
}

// EarliestUnpaid returns the earliest non-paid installment by due date, or
// nil when every installment is settled.
func EarliestUnpaid(installments []Installment) *Installment {
	for i := range installments {
		if installments[i].Payable() {
			return &installments[i]
		}
	}
	return nil
}
