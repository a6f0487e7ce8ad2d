package collections

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type Repository interface {
	// UpsertInTx inserts or overwrites the record for its loan inside the
	// caller's transaction, so the record stays consistent with the loan
	// row it describes.
	UpsertInTx(ctx context.Context, tx pgx.Tx, record *Record) error

	GetByLoanID(ctx context.Context, loanID int64) (*Record, error)
}
