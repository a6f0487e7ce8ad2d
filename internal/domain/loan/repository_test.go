package loan

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

type TxMock struct {
	pgx.Tx
}

var tx pgx.Tx = &TxMock{}

func (m *MockRepository) CreateLoan(ctx context.Context, loan *Loan, installments []Installment) (*Loan, error) {
	args := m.Called(ctx, loan, installments)
	var l *Loan
	if args.Get(0) != nil {
		l = args.Get(0).(*Loan)
	}
	return l, args.Error(1)
}

func (m *MockRepository) GetLoanByID(ctx context.Context, loanID int64) (*Loan, error) {
	args := m.Called(ctx, loanID)
	var l *Loan
	if args.Get(0) != nil {
		l = args.Get(0).(*Loan)
	}
	return l, args.Error(1)
}

func (m *MockRepository) GetLoanIDsByStatus(ctx context.Context, status LoanStatus) ([]int64, error) {
	args := m.Called(ctx, status)
	var ids []int64
	if args.Get(0) != nil {
		ids = args.Get(0).([]int64)
	}
	return ids, args.Error(1)
}

func (m *MockRepository) FindLoanForUpdate(ctx context.Context, tx pgx.Tx, loanID int64) (*Loan, error) {
	args := m.Called(ctx, tx, loanID)
	var l *Loan
	if args.Get(0) != nil {
		l = args.Get(0).(*Loan)
	}
	return l, args.Error(1)
}

func (m *MockRepository) UpdateLoanInTx(ctx context.Context, tx pgx.Tx, loan *Loan) error {
	args := m.Called(ctx, tx, loan)
	return args.Error(0)
}

func (m *MockRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	var t pgx.Tx
	if args.Get(0) != nil {
		t = args.Get(0).(pgx.Tx)
	}
	return t, args.Error(1)
}

func (m *MockRepository) CommitTx(ctx context.Context, tx pgx.Tx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

type MockInstallmentRepository struct {
	mock.Mock
}

func (m *MockInstallmentRepository) GetByLoanID(ctx context.Context, loanID int64) ([]Installment, error) {
	args := m.Called(ctx, loanID)
	var out []Installment
	if args.Get(0) != nil {
		out = args.Get(0).([]Installment)
	}
	return out, args.Error(1)
}

func (m *MockInstallmentRepository) GetByLoanIDInTx(ctx context.Context, tx pgx.Tx, loanID int64) ([]Installment, error) {
	args := m.Called(ctx, tx, loanID)
	var out []Installment
	if args.Get(0) != nil {
		out = args.Get(0).([]Installment)
	}
	return out, args.Error(1)
}

func (m *MockInstallmentRepository) UpdateInTx(ctx context.Context, tx pgx.Tx, installments []Installment) error {
	args := m.Called(ctx, tx, installments)
	return args.Error(0)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) CreateInTx(ctx context.Context, tx pgx.Tx, payment *Payment) (*Payment, error) {
	args := m.Called(ctx, tx, payment)
	var p *Payment
	if args.Get(0) != nil {
		p = args.Get(0).(*Payment)
	}
	return p, args.Error(1)
}

func (m *MockPaymentRepository) GetByLoanID(ctx context.Context, loanID int64) ([]Payment, error) {
	args := m.Called(ctx, loanID)
	var out []Payment
	if args.Get(0) != nil {
		out = args.Get(0).([]Payment)
	}
	return out, args.Error(1)
}

var _ Repository = (*MockRepository)(nil)
var _ InstallmentRepository = (*MockInstallmentRepository)(nil)
var _ PaymentRepository = (*MockPaymentRepository)(nil)
