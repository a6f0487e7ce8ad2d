package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"lending-engine/internal/domain/collections"
	"lending-engine/internal/pkg/apperrors"
)

type CollectionsRepository struct {
	db     DBPool
	logger *slog.Logger
}

func NewCollectionsRepository(db DBPool, logger *slog.Logger) *CollectionsRepository {
	return &CollectionsRepository{db: db, logger: logger.With("component", "CollectionsRepository")}
}

func (r *CollectionsRepository) UpsertInTx(ctx context.Context, tx pgx.Tx, record *collections.Record) error {
	sql := `
        INSERT INTO collections_records (loan_id, dpd, bucket, legal_status, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (loan_id) DO UPDATE
        SET dpd = EXCLUDED.dpd, bucket = EXCLUDED.bucket,
            legal_status = EXCLUDED.legal_status, updated_at = EXCLUDED.updated_at`

	_, err := tx.Exec(ctx, sql, record.LoanID, record.DPD, record.Bucket, record.LegalStatus, record.UpdatedAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to upsert collections record", "loan_id", record.LoanID, "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return nil
}

func (r *CollectionsRepository) GetByLoanID(ctx context.Context, loanID int64) (*collections.Record, error) {
	sql := `SELECT loan_id, dpd, bucket, legal_status, updated_at FROM collections_records WHERE loan_id = $1`

	var rec collections.Record
	err := r.db.QueryRow(ctx, sql, loanID).Scan(&rec.LoanID, &rec.DPD, &rec.Bucket, &rec.LegalStatus, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: collections record for loan %d", apperrors.ErrNotFound, loanID)
		}
		r.logger.ErrorContext(ctx, "Failed to get collections record", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return &rec, nil
}
