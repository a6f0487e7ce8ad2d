package loan

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type Repository interface {
	CreateLoan(ctx context.Context, loan *Loan, installments []Installment) (*Loan, error)

	GetLoanByID(ctx context.Context, loanID int64) (*Loan, error)

	GetLoanIDsByStatus(ctx context.Context, status LoanStatus) ([]int64, error)

	// FindLoanForUpdate locks the loan row for the life of the transaction.
	// This is the per-loan mutual-exclusion boundary between payment
	// allocation and the collections batch job.
	FindLoanForUpdate(ctx context.Context, tx pgx.Tx, loanID int64) (*Loan, error)

	UpdateLoanInTx(ctx context.Context, tx pgx.Tx, loan *Loan) error

	BeginTx(ctx context.Context) (pgx.Tx, error)

	CommitTx(ctx context.Context, tx pgx.Tx) error

	RollbackTx(ctx context.Context, tx pgx.Tx) error
}

type InstallmentRepository interface {
	// GetByLoanID returns the loan's installments ordered by number.
	GetByLoanID(ctx context.Context, loanID int64) ([]Installment, error)

	GetByLoanIDInTx(ctx context.Context, tx pgx.Tx, loanID int64) ([]Installment, error)

	// UpdateInTx bulk-updates mutated installments.
	UpdateInTx(ctx context.Context, tx pgx.Tx, installments []Installment) error
}

type PaymentRepository interface {
	// CreateInTx persists the payment together with its allocations.
	CreateInTx(ctx context.Context, tx pgx.Tx, payment *Payment) (*Payment, error)

	GetByLoanID(ctx context.Context, loanID int64) ([]Payment, error)
}
