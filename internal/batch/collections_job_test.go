package batch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lending-engine/internal/batch"
	"lending-engine/internal/domain/collections"
	"lending-engine/internal/domain/loan"
	"lending-engine/internal/pkg/apperrors"
	"lending-engine/internal/pkg/clock"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// today for every scenario; due dates are derived backwards from it.
var today = time.Date(2024, time.April, 15, 0, 0, 0, 0, time.UTC)

type MockLoanRepository struct {
	mock.Mock
}

type TxMock struct {
	pgx.Tx
}

var tx pgx.Tx = &TxMock{}

func (m *MockLoanRepository) CreateLoan(ctx context.Context, l *loan.Loan, installments []loan.Installment) (*loan.Loan, error) {
	args := m.Called(ctx, l, installments)
	if created, ok := args.Get(0).(*loan.Loan); ok {
		return created, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLoanRepository) GetLoanByID(ctx context.Context, loanID int64) (*loan.Loan, error) {
	args := m.Called(ctx, loanID)
	if l, ok := args.Get(0).(*loan.Loan); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLoanRepository) GetLoanIDsByStatus(ctx context.Context, status loan.LoanStatus) ([]int64, error) {
	args := m.Called(ctx, status)
	if ids, ok := args.Get(0).([]int64); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLoanRepository) FindLoanForUpdate(ctx context.Context, tx pgx.Tx, loanID int64) (*loan.Loan, error) {
	args := m.Called(ctx, tx, loanID)
	if l, ok := args.Get(0).(*loan.Loan); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLoanRepository) UpdateLoanInTx(ctx context.Context, tx pgx.Tx, l *loan.Loan) error {
	args := m.Called(ctx, tx, l)
	return args.Error(0)
}

func (m *MockLoanRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if t, ok := args.Get(0).(pgx.Tx); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLoanRepository) CommitTx(ctx context.Context, tx pgx.Tx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockLoanRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

type MockInstallmentRepository struct {
	mock.Mock
}

func (m *MockInstallmentRepository) GetByLoanID(ctx context.Context, loanID int64) ([]loan.Installment, error) {
	args := m.Called(ctx, loanID)
	if out, ok := args.Get(0).([]loan.Installment); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockInstallmentRepository) GetByLoanIDInTx(ctx context.Context, tx pgx.Tx, loanID int64) ([]loan.Installment, error) {
	args := m.Called(ctx, tx, loanID)
	if out, ok := args.Get(0).([]loan.Installment); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockInstallmentRepository) UpdateInTx(ctx context.Context, tx pgx.Tx, installments []loan.Installment) error {
	args := m.Called(ctx, tx, installments)
	return args.Error(0)
}

type MockCollectionsRepository struct {
	mock.Mock
}

func (m *MockCollectionsRepository) UpsertInTx(ctx context.Context, tx pgx.Tx, record *collections.Record) error {
	args := m.Called(ctx, tx, record)
	return args.Error(0)
}

func (m *MockCollectionsRepository) GetByLoanID(ctx context.Context, loanID int64) (*collections.Record, error) {
	args := m.Called(ctx, loanID)
	if r, ok := args.Get(0).(*collections.Record); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func newJob(loanRepo *MockLoanRepository, instRepo *MockInstallmentRepository, colRepo *MockCollectionsRepository) *batch.CollectionsJob {
	return batch.NewCollectionsJob(loanRepo, instRepo, colRepo, nil, clock.NewFixed(today), testLogger)
}

func activeLoan(id int64) *loan.Loan {
	return &loan.Loan{
		ID:            id,
		Status:        loan.StatusActive,
		Bucket:        collections.BucketCurrent,
		LegalStatus:   collections.LegalStatusNone,
		PromiseStatus: loan.PromiseNone,
	}
}

// scheduleDueSince builds a fresh schedule whose first installment fell due
// the given number of days before today.
func scheduleDueSince(t *testing.T, daysPast int) []loan.Installment {
	t.Helper()
	disbursed := today.AddDate(0, 0, -daysPast-loan.InstallmentFrequencyDays)
	_, installments, err := loan.GenerateSchedule(decimal.NewFromInt(50000), disbursed)
	require.NoError(t, err)
	return installments
}

func paidSchedule(t *testing.T) []loan.Installment {
	t.Helper()
	installments := scheduleDueSince(t, 10)
	for i := range installments {
		installments[i].PaidAmount = installments[i].TotalAmount
		installments[i].RemainingAmount = decimal.Zero
		installments[i].Status = loan.InstallmentPaid
	}
	return installments
}

func TestRunClosesFullyPaidLoan(t *testing.T) {
	loanRepo := new(MockLoanRepository)
	instRepo := new(MockInstallmentRepository)
	colRepo := new(MockCollectionsRepository)
	job := newJob(loanRepo, instRepo, colRepo)

	ctx := context.Background()
	l := activeLoan(1)

	loanRepo.On("GetLoanIDsByStatus", ctx, loan.StatusActive).Return([]int64{1}, nil)
	loanRepo.On("BeginTx", ctx).Return(tx, nil)
	loanRepo.On("FindLoanForUpdate", ctx, tx, int64(1)).Return(l, nil)
	instRepo.On("GetByLoanIDInTx", ctx, tx, int64(1)).Return(paidSchedule(t), nil)
	loanRepo.On("UpdateLoanInTx", ctx, tx, mock.MatchedBy(func(u *loan.Loan) bool {
		return u.Status == loan.StatusClosed && u.DPD == 0
	})).Return(nil)
	loanRepo.On("CommitTx", ctx, tx).Return(nil)

	summary, err := job.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.LoansProcessed)
	assert.Equal(t, 1, summary.LoansClosed)
	colRepo.AssertNotCalled(t, "UpsertInTx", mock.Anything, mock.Anything, mock.Anything)
	loanRepo.AssertExpectations(t)
}

func TestRunClassifiesAndEscalatesPastNinetyDays(t *testing.T) {
	loanRepo := new(MockLoanRepository)
	instRepo := new(MockInstallmentRepository)
	colRepo := new(MockCollectionsRepository)
	job := newJob(loanRepo, instRepo, colRepo)

	ctx := context.Background()
	l := activeLoan(1)
	l.Bucket = collections.Bucket60Plus
	l.DPD = 89

	loanRepo.On("GetLoanIDsByStatus", ctx, loan.StatusActive).Return([]int64{1}, nil)
	loanRepo.On("BeginTx", ctx).Return(tx, nil)
	loanRepo.On("FindLoanForUpdate", ctx, tx, int64(1)).Return(l, nil)
	instRepo.On("GetByLoanIDInTx", ctx, tx, int64(1)).Return(scheduleDueSince(t, 95), nil)
	instRepo.On("UpdateInTx", ctx, tx, mock.Anything).Return(nil)
	loanRepo.On("UpdateLoanInTx", ctx, tx, mock.MatchedBy(func(u *loan.Loan) bool {
		return u.DPD == 95 &&
			u.Bucket == collections.Bucket90Plus &&
			u.LegalStatus == collections.LegalStatusNoticePending
	})).Return(nil)
	colRepo.On("UpsertInTx", ctx, tx, mock.MatchedBy(func(r *collections.Record) bool {
		return r.LoanID == 1 && r.DPD == 95 && r.Bucket == collections.Bucket90Plus
	})).Return(nil)
	loanRepo.On("CommitTx", ctx, tx).Return(nil)

	summary, err := job.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.LoansEscalated)
	assert.Equal(t, []string{batch.CaseReference(1)}, summary.EscalatedRefs)
	assert.Equal(t, 1, summary.LoansUpdated)
	loanRepo.AssertExpectations(t)
	colRepo.AssertExpectations(t)
}

func TestRunDoesNotReEscalate(t *testing.T) {
	loanRepo := new(MockLoanRepository)
	instRepo := new(MockInstallmentRepository)
	colRepo := new(MockCollectionsRepository)
	job := newJob(loanRepo, instRepo, colRepo)

	ctx := context.Background()
	l := activeLoan(1)
	l.Bucket = collections.Bucket90Plus
	l.LegalStatus = collections.LegalStatusNoticePending
	l.DPD = 95

	loanRepo.On("GetLoanIDsByStatus", ctx, loan.StatusActive).Return([]int64{1}, nil)
	loanRepo.On("BeginTx", ctx).Return(tx, nil)
	loanRepo.On("FindLoanForUpdate", ctx, tx, int64(1)).Return(l, nil)
	instRepo.On("GetByLoanIDInTx", ctx, tx, int64(1)).Return(scheduleDueSince(t, 96), nil)
	instRepo.On("UpdateInTx", ctx, tx, mock.Anything).Return(nil)
	loanRepo.On("UpdateLoanInTx", ctx, tx, mock.MatchedBy(func(u *loan.Loan) bool {
		return u.DPD == 96 && u.LegalStatus == collections.LegalStatusNoticePending
	})).Return(nil)
	colRepo.On("UpsertInTx", ctx, tx, mock.Anything).Return(nil)
	loanRepo.On("CommitTx", ctx, tx).Return(nil)

	summary, err := job.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 0, summary.LoansEscalated)
	assert.Empty(t, summary.EscalatedRefs)
}

func TestRunBreaksPromiseExactlyOnce(t *testing.T) {
	loanRepo := new(MockLoanRepository)
	instRepo := new(MockInstallmentRepository)
	colRepo := new(MockCollectionsRepository)
	job := newJob(loanRepo, instRepo, colRepo)

	ctx := context.Background()
	l := activeLoan(1)
	l.Bucket = collections.Bucket1To7
	l.DPD = 5
	l.PromiseStatus = loan.PromisePending
	promised := today.AddDate(0, 0, -5)
	l.PromiseToPayDate = &promised

	loanRepo.On("GetLoanIDsByStatus", ctx, loan.StatusActive).Return([]int64{1}, nil)
	loanRepo.On("BeginTx", ctx).Return(tx, nil)
	loanRepo.On("FindLoanForUpdate", ctx, tx, int64(1)).Return(l, nil)
	instRepo.On("GetByLoanIDInTx", ctx, tx, int64(1)).Return(scheduleDueSince(t, 5), nil)
	instRepo.On("UpdateInTx", ctx, tx, mock.Anything).Return(nil)
	loanRepo.On("UpdateLoanInTx", ctx, tx, mock.Anything).Return(nil)
	colRepo.On("UpsertInTx", ctx, tx, mock.Anything).Return(nil)
	loanRepo.On("CommitTx", ctx, tx).Return(nil)

	summary, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PromisesBroken)
	assert.Equal(t, loan.PromiseBroken, l.PromiseStatus)
	assert.Equal(t, 1, l.PromiseFollowUpCount)

	// The same loan on the next run: the promise is already broken, the
	// counter stays put.
	summary2, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary2.PromisesBroken)
	assert.Equal(t, 1, l.PromiseFollowUpCount)
}

func TestRunContinuesAfterLoanFailure(t *testing.T) {
	loanRepo := new(MockLoanRepository)
	instRepo := new(MockInstallmentRepository)
	colRepo := new(MockCollectionsRepository)
	job := newJob(loanRepo, instRepo, colRepo)

	ctx := context.Background()
	healthy := activeLoan(2)
	healthy.Bucket = collections.Bucket1To7
	healthy.DPD = 3

	loanRepo.On("GetLoanIDsByStatus", ctx, loan.StatusActive).Return([]int64{1, 2}, nil)
	loanRepo.On("BeginTx", ctx).Return(tx, nil)
	loanRepo.On("FindLoanForUpdate", ctx, tx, int64(1)).Return(nil, errors.New("deadlock detected"))
	loanRepo.On("RollbackTx", ctx, tx).Return(nil)
	loanRepo.On("FindLoanForUpdate", ctx, tx, int64(2)).Return(healthy, nil)
	instRepo.On("GetByLoanIDInTx", ctx, tx, int64(2)).Return(scheduleDueSince(t, 3), nil)
	instRepo.On("UpdateInTx", ctx, tx, mock.Anything).Return(nil)
	loanRepo.On("UpdateLoanInTx", ctx, tx, mock.Anything).Return(nil)
	colRepo.On("UpsertInTx", ctx, tx, mock.Anything).Return(nil)
	loanRepo.On("CommitTx", ctx, tx).Return(nil)

	summary, err := job.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.LoansProcessed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, int64(1), summary.Failures[0].LoanID)
}

func TestRunFatalWhenListingActiveLoansFails(t *testing.T) {
	loanRepo := new(MockLoanRepository)
	job := newJob(loanRepo, new(MockInstallmentRepository), new(MockCollectionsRepository))

	ctx := context.Background()
	loanRepo.On("GetLoanIDsByStatus", ctx, loan.StatusActive).Return(nil, errors.New("connection refused"))

	summary, err := job.Run(ctx)

	assert.Error(t, err)
	assert.Nil(t, summary)
}

func TestRunToleratesVanishedLoan(t *testing.T) {
	loanRepo := new(MockLoanRepository)
	instRepo := new(MockInstallmentRepository)
	colRepo := new(MockCollectionsRepository)
	job := newJob(loanRepo, instRepo, colRepo)

	ctx := context.Background()
	loanRepo.On("GetLoanIDsByStatus", ctx, loan.StatusActive).Return([]int64{1}, nil)
	loanRepo.On("BeginTx", ctx).Return(tx, nil)
	loanRepo.On("FindLoanForUpdate", ctx, tx, int64(1)).Return(nil, apperrors.ErrNotFound)
	loanRepo.On("RollbackTx", ctx, tx).Return(nil)

	summary, err := job.Run(ctx)

	require.NoError(t, err)
	assert.Empty(t, summary.Failures)
	assert.Equal(t, 1, summary.LoansProcessed)
}

func TestRunMarksPastDueInstallmentsOverdue(t *testing.T) {
	loanRepo := new(MockLoanRepository)
	instRepo := new(MockInstallmentRepository)
	colRepo := new(MockCollectionsRepository)
	job := newJob(loanRepo, instRepo, colRepo)

	ctx := context.Background()
	l := activeLoan(1)

	loanRepo.On("GetLoanIDsByStatus", ctx, loan.StatusActive).Return([]int64{1}, nil)
	loanRepo.On("BeginTx", ctx).Return(tx, nil)
	loanRepo.On("FindLoanForUpdate", ctx, tx, int64(1)).Return(l, nil)
	instRepo.On("GetByLoanIDInTx", ctx, tx, int64(1)).Return(scheduleDueSince(t, 10), nil)
	instRepo.On("UpdateInTx", ctx, tx, mock.MatchedBy(func(changed []loan.Installment) bool {
		if len(changed) == 0 {
			return false
		}
		for _, inst := range changed {
			if inst.Status != loan.InstallmentOverdue {
				return false
			}
		}
		return true
	})).Return(nil)
	loanRepo.On("UpdateLoanInTx", ctx, tx, mock.Anything).Return(nil)
	colRepo.On("UpsertInTx", ctx, tx, mock.Anything).Return(nil)
	loanRepo.On("CommitTx", ctx, tx).Return(nil)

	summary, err := job.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.LoansUpdated)
	instRepo.AssertExpectations(t)
}

func TestRunRollsBackWhenRecordUpsertFails(t *testing.T) {
	loanRepo := new(MockLoanRepository)
	instRepo := new(MockInstallmentRepository)
	colRepo := new(MockCollectionsRepository)
	job := newJob(loanRepo, instRepo, colRepo)

	ctx := context.Background()
	l := activeLoan(1)
	l.Bucket = collections.Bucket1To7
	l.DPD = 3

	loanRepo.On("GetLoanIDsByStatus", ctx, loan.StatusActive).Return([]int64{1}, nil)
	loanRepo.On("BeginTx", ctx).Return(tx, nil)
	loanRepo.On("FindLoanForUpdate", ctx, tx, int64(1)).Return(l, nil)
	instRepo.On("GetByLoanIDInTx", ctx, tx, int64(1)).Return(scheduleDueSince(t, 3), nil)
	instRepo.On("UpdateInTx", ctx, tx, mock.Anything).Return(nil)
	loanRepo.On("UpdateLoanInTx", ctx, tx, mock.Anything).Return(nil)
	colRepo.On("UpsertInTx", ctx, tx, mock.Anything).Return(errors.New("unique_violation"))
	loanRepo.On("RollbackTx", ctx, tx).Return(nil)

	summary, err := job.Run(ctx)

	require.NoError(t, err)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, int64(1), summary.Failures[0].LoanID)
	loanRepo.AssertNotCalled(t, "CommitTx", mock.Anything, mock.Anything)
	loanRepo.AssertCalled(t, "RollbackTx", ctx, tx)
}
