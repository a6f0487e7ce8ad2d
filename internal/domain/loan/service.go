package loan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"lending-engine/internal/domain/collections"
	"lending-engine/internal/event"
	"lending-engine/internal/infrastructure/monitoring"
	"lending-engine/internal/pkg/apperrors"
	"lending-engine/internal/pkg/clock"
)

type CreateLoanInput struct {
	CustomerRef      string          `validate:"required"`
	Principal        decimal.Decimal `validate:"required,gt=0"`
	DisbursementDate time.Time       `validate:"required"`
}

type MakePaymentInput struct {
	LoanID      int64           `validate:"required,gt=0"`
	Amount      decimal.Decimal `validate:"required,gt=0"`
	PaymentDate time.Time       `validate:"required"`
	Method      string          `validate:"required"`
	Reference   string
}

type Service interface {
	CreateLoan(ctx context.Context, input CreateLoanInput) (*Loan, *ScheduleBreakdown, error)

	MakePayment(ctx context.Context, input MakePaymentInput) (*Payment, error)

	GetLoan(ctx context.Context, loanID int64) (*Loan, error)

	GetSchedule(ctx context.Context, loanID int64) ([]Installment, error)

	GetOutstanding(ctx context.Context, loanID int64) (decimal.Decimal, error)

	// GetPayments returns the loan's payment history with allocations,
	// oldest first.
	GetPayments(ctx context.Context, loanID int64) ([]Payment, error)

	RecordPromise(ctx context.Context, loanID int64, promiseDate time.Time) error

	MarkPromiseHonored(ctx context.Context, loanID int64) error
}

type serviceImpl struct {
	repo            Repository
	installmentRepo InstallmentRepository
	paymentRepo     PaymentRepository
	audit           event.AuditSink
	clk             clock.Clock
	validate        *validator.Validate
	logger          *slog.Logger
}

func NewService(
	repo Repository,
	installmentRepo InstallmentRepository,
	paymentRepo PaymentRepository,
	audit event.AuditSink,
	clk clock.Clock,
	logger *slog.Logger,
) Service {
	if repo == nil || installmentRepo == nil || paymentRepo == nil || clk == nil {
		panic("loan service dependencies cannot be nil")
	}
	if audit == nil {
		audit = event.NoopAuditSink{}
	}

	v := validator.New()
	// Expose decimal.Decimal to numeric validator tags (gt, gte) the way
	// int and float fields already are.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	return &serviceImpl{
		repo:            repo,
		installmentRepo: installmentRepo,
		paymentRepo:     paymentRepo,
		audit:           audit,
		clk:             clk,
		validate:        v,
		logger:          logger.With(slog.String("component", "loanService")),
	}
}

func (s *serviceImpl) CreateLoan(ctx context.Context, input CreateLoanInput) (*Loan, *ScheduleBreakdown, error) {
	s.logger.InfoContext(ctx, "Creating new loan", "customerRef", input.CustomerRef)

	if err := s.validate.Struct(input); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	breakdown, installments, err := GenerateSchedule(input.Principal, input.DisbursementDate)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to generate schedule", slog.Any("error", err))
		return nil, nil, err
	}

	newLoan := &Loan{
		CustomerRef:      input.CustomerRef,
		Principal:        input.Principal,
		FeeRate:          ProcessingFeeRate,
		InterestRate:     FlatInterestRate,
		Tenor:            DefaultTenor,
		FrequencyDays:    InstallmentFrequencyDays,
		DisbursementDate: clock.StartOfDay(input.DisbursementDate),
		Status:           StatusActive,
		Bucket:           collections.BucketCurrent,
		LegalStatus:      collections.LegalStatusNone,
		PromiseStatus:    PromiseNone,
	}

	created, err := s.repo.CreateLoan(ctx, newLoan, installments)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to save loan and schedule", slog.Any("error", err))
		return nil, nil, fmt.Errorf("failed to save loan and schedule: %w", err)
	}

	s.recordAudit(ctx, event.AuditEvent{
		Type:   event.RoutingKeyLoanCreated,
		LoanID: created.ID,
		Detail: map[string]any{
			"customerRef":     created.CustomerRef,
			"principal":       breakdown.Principal.String(),
			"netDisbursement": breakdown.NetDisbursement.String(),
			"totalRepayable":  breakdown.TotalRepayable.String(),
			"tenor":           created.Tenor,
		},
	})

	s.logger.InfoContext(ctx, "Loan created successfully", "loanID", created.ID, "customerRef", created.CustomerRef)
	return created, breakdown, nil
}

func (s *serviceImpl) MakePayment(ctx context.Context, input MakePaymentInput) (payment *Payment, err error) {
	s.logger.InfoContext(ctx, "Making payment", "loanID", input.LoanID, "amount", input.Amount)

	if err := s.validate.Struct(input); err != nil {
		monitoring.RecordPayment("failure_validation")
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: could not begin transaction: %v", apperrors.ErrDatabase, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = s.repo.RollbackTx(ctx, tx)
			panic(p)
		}
		if err != nil {
			monitoring.RecordPayment(paymentFailureStatus(err))
			_ = s.repo.RollbackTx(ctx, tx)
		}
	}()

	l, err := s.repo.FindLoanForUpdate(ctx, tx, input.LoanID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: loan %d not found", apperrors.ErrNotFound, input.LoanID)
		}
		return nil, fmt.Errorf("%w: could not lock loan %d: %v", apperrors.ErrDatabase, input.LoanID, err)
	}

	installments, err := s.installmentRepo.GetByLoanIDInTx(ctx, tx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: could not load installments for loan %d: %v", apperrors.ErrDatabase, l.ID, err)
	}

	result, err := AllocatePayment(input.Amount, input.PaymentDate, installments)
	if err != nil {
		return nil, err
	}

	reference := input.Reference
	if reference == "" {
		reference = uuid.NewString()
	}

	payment = &Payment{
		LoanID:      l.ID,
		Amount:      input.Amount,
		PaymentDate: input.PaymentDate,
		Method:      input.Method,
		Reference:   reference,
		Status:      PaymentAllocated,
		Allocations: result.Allocations,
		Excess:      result.Excess,
	}

	payment, err = s.paymentRepo.CreateInTx(ctx, tx, payment)
	if err != nil {
		return nil, fmt.Errorf("%w: could not save payment: %v", apperrors.ErrDatabase, err)
	}

	if touched := touchedInstallments(result); len(touched) > 0 {
		if err = s.installmentRepo.UpdateInTx(ctx, tx, touched); err != nil {
			return nil, fmt.Errorf("%w: could not update installments: %v", apperrors.ErrDatabase, err)
		}
	}

	closed := false
	if result.FullySettled && l.Status == StatusActive {
		l.Status = StatusClosed
		closed = true
	}
	l.UpdatedAt = s.clk.Now()
	if err = s.repo.UpdateLoanInTx(ctx, tx, l); err != nil {
		return nil, fmt.Errorf("%w: could not update loan: %v", apperrors.ErrDatabase, err)
	}

	if err = s.repo.CommitTx(ctx, tx); err != nil {
		return nil, fmt.Errorf("%w: could not commit transaction: %v", apperrors.ErrDatabase, err)
	}

	monitoring.RecordPayment("success")
	if closed {
		monitoring.AddLoansClosed(1)
		s.recordAudit(ctx, event.AuditEvent{Type: event.RoutingKeyLoanClosed, LoanID: l.ID})
	}
	s.recordAudit(ctx, event.AuditEvent{
		Type:      event.RoutingKeyPaymentAllocated,
		LoanID:    l.ID,
		Reference: payment.Reference,
		Detail: map[string]any{
			"amount":       payment.Amount.String(),
			"excess":       payment.Excess.String(),
			"installments": len(payment.Allocations),
		},
	})

	s.logger.InfoContext(ctx, "Payment processed successfully",
		"loanID", l.ID, "amount", input.Amount, "allocations", len(payment.Allocations), "excess", payment.Excess)
	return payment, nil
}

func (s *serviceImpl) GetLoan(ctx context.Context, loanID int64) (*Loan, error) {
	l, err := s.repo.GetLoanByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: loan %d not found", apperrors.ErrNotFound, loanID)
		}
		return nil, fmt.Errorf("%w: failed to get loan %d: %v", apperrors.ErrDatabase, loanID, err)
	}

	installments, err := s.installmentRepo.GetByLoanID(ctx, loanID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to load installments for loan", "loanID", loanID, slog.Any("error", err))
	} else {
		l.Installments = installments
	}
	return l, nil
}

func (s *serviceImpl) GetSchedule(ctx context.Context, loanID int64) ([]Installment, error) {
	installments, err := s.installmentRepo.GetByLoanID(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get schedule for loan %d: %v", apperrors.ErrDatabase, loanID, err)
	}
	if len(installments) == 0 {
		if _, checkErr := s.repo.GetLoanByID(ctx, loanID); errors.Is(checkErr, pgx.ErrNoRows) || errors.Is(checkErr, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: loan %d not found", apperrors.ErrNotFound, loanID)
		}
	}
	return installments, nil
}

func (s *serviceImpl) GetOutstanding(ctx context.Context, loanID int64) (decimal.Decimal, error) {
	installments, err := s.GetSchedule(ctx, loanID)
	if err != nil {
		return decimal.Zero, err
	}
	return Outstanding(installments), nil
}

func (s *serviceImpl) GetPayments(ctx context.Context, loanID int64) ([]Payment, error) {
	payments, err := s.paymentRepo.GetByLoanID(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get payments for loan %d: %v", apperrors.ErrDatabase, loanID, err)
	}
	if len(payments) == 0 {
		if _, checkErr := s.repo.GetLoanByID(ctx, loanID); errors.Is(checkErr, pgx.ErrNoRows) || errors.Is(checkErr, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: loan %d not found", apperrors.ErrNotFound, loanID)
		}
	}
	return payments, nil
}

func (s *serviceImpl) RecordPromise(ctx context.Context, loanID int64, promiseDate time.Time) error {
	return s.updatePromise(ctx, loanID, event.RoutingKeyPromiseRecorded, func(l *Loan) error {
		return l.RecordPromise(promiseDate)
	})
}

func (s *serviceImpl) MarkPromiseHonored(ctx context.Context, loanID int64) error {
	return s.updatePromise(ctx, loanID, "promise.honored", func(l *Loan) error {
		return l.MarkPromiseHonored()
	})
}

func (s *serviceImpl) updatePromise(ctx context.Context, loanID int64, eventType string, apply func(*Loan) error) (err error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("%w: could not begin transaction: %v", apperrors.ErrDatabase, err)
	}
	defer func() {
		if err != nil {
			_ = s.repo.RollbackTx(ctx, tx)
		}
	}()

	l, err := s.repo.FindLoanForUpdate(ctx, tx, loanID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("%w: loan %d not found", apperrors.ErrNotFound, loanID)
		}
		return fmt.Errorf("%w: could not lock loan %d: %v", apperrors.ErrDatabase, loanID, err)
	}

	if err = apply(l); err != nil {
		return err
	}

	l.UpdatedAt = s.clk.Now()
	if err = s.repo.UpdateLoanInTx(ctx, tx, l); err != nil {
		return fmt.Errorf("%w: could not update loan: %v", apperrors.ErrDatabase, err)
	}
	if err = s.repo.CommitTx(ctx, tx); err != nil {
		return fmt.Errorf("%w: could not commit transaction: %v", apperrors.ErrDatabase, err)
	}

	s.recordAudit(ctx, event.AuditEvent{
		Type:   eventType,
		LoanID: loanID,
		Detail: map[string]any{"promiseStatus": string(l.PromiseStatus)},
	})
	return nil
}

// recordAudit is fire-and-forget: sink failures are logged, never returned.
func (s *serviceImpl) recordAudit(ctx context.Context, e event.AuditEvent) {
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "Failed to record audit event", "type", e.Type, "loanID", e.LoanID, slog.Any("error", err))
	}
}

func touchedInstallments(result *AllocationResult) []Installment {
	touched := make(map[int]struct{}, len(result.Allocations))
	for _, a := range result.Allocations {
		touched[a.InstallmentNumber] = struct{}{}
	}
	out := make([]Installment, 0, len(touched))
	for i := range result.Installments {
		if _, ok := touched[result.Installments[i].Number]; ok {
			out = append(out, result.Installments[i])
		}
	}
	return out
}

func paymentFailureStatus(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrInvalidPaymentAmount):
		return "failure_amount"
	case errors.Is(err, apperrors.ErrNotFound):
		return "failure_not_found"
	case errors.Is(err, apperrors.ErrConflict):
		return "failure_conflict"
	default:
		return "failure_internal"
	}
}
