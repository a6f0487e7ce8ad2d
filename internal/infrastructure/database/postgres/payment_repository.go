package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"lending-engine/internal/domain/loan"
	"lending-engine/internal/pkg/apperrors"
)

type PaymentRepository struct {
	db     DBPool
	logger *slog.Logger
}

func NewPaymentRepository(db DBPool, logger *slog.Logger) *PaymentRepository {
	return &PaymentRepository{db: db, logger: logger.With("component", "PaymentRepository")}
}

func (r *PaymentRepository) CreateInTx(ctx context.Context, tx pgx.Tx, payment *loan.Payment) (*loan.Payment, error) {
	paymentSQL := `
        INSERT INTO payments (loan_id, amount, payment_date, method, reference, status, excess, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
        RETURNING id, created_at`

	err := tx.QueryRow(ctx, paymentSQL,
		payment.LoanID, payment.Amount, payment.PaymentDate, payment.Method,
		payment.Reference, payment.Status, payment.Excess,
	).Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to insert payment", "loan_id", payment.LoanID, "error", err)
		return nil, fmt.Errorf("%w: failed to insert payment: %w", apperrors.ErrDatabase, err)
	}

	if len(payment.Allocations) > 0 {
		allocationSQL := `
            INSERT INTO payment_allocations (payment_id, installment_number, principal_paid, interest_paid, penalty_paid, total_paid)
            VALUES ($1, $2, $3, $4, $5, $6)`

		batch := &pgx.Batch{}
		for _, a := range payment.Allocations {
			batch.Queue(allocationSQL, payment.ID, a.InstallmentNumber,
				a.PrincipalPaid, a.InterestPaid, a.PenaltyPaid, a.TotalPaid)
		}

		results := tx.SendBatch(ctx, batch)
		for i := 0; i < len(payment.Allocations); i++ {
			if _, err = results.Exec(); err != nil {
				results.Close()
				r.logger.ErrorContext(ctx, "Failed executing allocation batch insert", "error", err, "entry_index", i, "payment_id", payment.ID)
				return nil, fmt.Errorf("%w: failed inserting allocation %d: %w", apperrors.ErrDatabase, i+1, err)
			}
		}
		if err = results.Close(); err != nil {
			r.logger.ErrorContext(ctx, "Failed closing allocation batch results", "error", err, "payment_id", payment.ID)
			return nil, fmt.Errorf("%w: closing batch results failed: %w", apperrors.ErrDatabase, err)
		}
	}

	r.logger.InfoContext(ctx, "Payment created in DB", "payment_id", payment.ID, "loan_id", payment.LoanID, "num_allocations", len(payment.Allocations))
	return payment, nil
}

func (r *PaymentRepository) GetByLoanID(ctx context.Context, loanID int64) ([]loan.Payment, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, loan_id, amount, payment_date, method, reference, status, excess, created_at
        FROM payments WHERE loan_id = $1 ORDER BY id`, loanID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query payments", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	var payments []loan.Payment
	for rows.Next() {
		var p loan.Payment
		err := rows.Scan(&p.ID, &p.LoanID, &p.Amount, &p.PaymentDate, &p.Method,
			&p.Reference, &p.Status, &p.Excess, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}

	for i := range payments {
		allocations, err := r.getAllocations(ctx, payments[i].ID)
		if err != nil {
			return nil, err
		}
		payments[i].Allocations = allocations
	}
	return payments, nil
}

func (r *PaymentRepository) getAllocations(ctx context.Context, paymentID int64) ([]loan.Allocation, error) {
	rows, err := r.db.Query(ctx, `
        SELECT installment_number, principal_paid, interest_paid, penalty_paid, total_paid
        FROM payment_allocations WHERE payment_id = $1 ORDER BY installment_number`, paymentID)
	if err != nil {
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	var allocations []loan.Allocation
	for rows.Next() {
		var a loan.Allocation
		if err := rows.Scan(&a.InstallmentNumber, &a.PrincipalPaid, &a.InterestPaid, &a.PenaltyPaid, &a.TotalPaid); err != nil {
			return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
		}
		allocations = append(allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return allocations, nil
}
