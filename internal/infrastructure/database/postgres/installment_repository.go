package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"lending-engine/internal/domain/loan"
	"lending-engine/internal/pkg/apperrors"
)

const installmentColumns = `id, loan_id, number, due_date, principal_component, interest_component,
       total_amount, paid_amount, remaining_amount, penalty_amount, status, payment_date,
       created_at, updated_at`

type InstallmentRepository struct {
	db     DBPool
	logger *slog.Logger
}

func NewInstallmentRepository(db DBPool, logger *slog.Logger) *InstallmentRepository {
	return &InstallmentRepository{db: db, logger: logger.With("component", "InstallmentRepository")}
}

func (r *InstallmentRepository) GetByLoanID(ctx context.Context, loanID int64) ([]loan.Installment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+installmentColumns+` FROM installments WHERE loan_id = $1 ORDER BY number`, loanID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query installments", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	defer rows.Close()
	return scanInstallments(rows)
}

func (r *InstallmentRepository) GetByLoanIDInTx(ctx context.Context, tx pgx.Tx, loanID int64) ([]loan.Installment, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+installmentColumns+` FROM installments WHERE loan_id = $1 ORDER BY number FOR UPDATE`, loanID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query installments for update", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	defer rows.Close()
	return scanInstallments(rows)
}

func (r *InstallmentRepository) UpdateInTx(ctx context.Context, tx pgx.Tx, installments []loan.Installment) error {
	if len(installments) == 0 {
		return nil
	}

	sql := `
        UPDATE installments
        SET paid_amount = $3, remaining_amount = $4, penalty_amount = $5, status = $6,
            payment_date = $7, updated_at = NOW()
        WHERE loan_id = $1 AND number = $2`

	batch := &pgx.Batch{}
	for _, inst := range installments {
		batch.Queue(sql, inst.LoanID, inst.Number, inst.PaidAmount, inst.RemainingAmount,
			inst.PenaltyAmount, inst.Status, inst.PaymentDate)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range installments {
		if _, err := results.Exec(); err != nil {
			results.Close()
			r.logger.ErrorContext(ctx, "Failed executing installment batch update", "error", err, "entry_index", i)
			return fmt.Errorf("%w: failed updating installment %d: %w", apperrors.ErrDatabase, installments[i].Number, err)
		}
	}
	if err := results.Close(); err != nil {
		r.logger.ErrorContext(ctx, "Failed closing installment batch results", "error", err)
		return fmt.Errorf("%w: closing batch results failed: %w", apperrors.ErrDatabase, err)
	}
	return nil
}

func scanInstallments(rows pgx.Rows) ([]loan.Installment, error) {
	var installments []loan.Installment
	for rows.Next() {
		var inst loan.Installment
		err := rows.Scan(
			&inst.ID, &inst.LoanID, &inst.Number, &inst.DueDate,
			&inst.PrincipalComponent, &inst.InterestComponent, &inst.TotalAmount,
			&inst.PaidAmount, &inst.RemainingAmount, &inst.PenaltyAmount,
			&inst.Status, &inst.PaymentDate, &inst.CreatedAt, &inst.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
		}
		installments = append(installments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return installments, nil
}
