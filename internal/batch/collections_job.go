package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"lending-engine/internal/domain/collections"
	"lending-engine/internal/domain/loan"
	"lending-engine/internal/event"
	"lending-engine/internal/infrastructure/monitoring"
	"lending-engine/internal/pkg/apperrors"
	"lending-engine/internal/pkg/clock"
)

// RunSummary is returned to whichever trigger started the run, cron or
// manual.
type RunSummary struct {
	RunID          string        `json:"runId"`
	StartedAt      time.Time     `json:"startedAt"`
	Duration       time.Duration `json:"duration"`
	LoansProcessed int           `json:"loansProcessed"`
	LoansUpdated   int           `json:"loansUpdated"`
	LoansClosed    int           `json:"loansClosed"`
	LoansEscalated int           `json:"loansEscalated"`
	PromisesBroken int           `json:"promisesBroken"`
	EscalatedRefs  []string      `json:"escalatedRefs,omitempty"`
	Failures       []LoanFailure `json:"failures,omitempty"`
}

type LoanFailure struct {
	LoanID int64  `json:"loanId"`
	Error  string `json:"error"`
}

// CollectionsJob recomputes DPD, bucket, legal and promise state across the
// active portfolio. Loans are processed sequentially, each inside its own
// transaction under the per-loan row lock, so a run can never interleave
// with a concurrent payment allocation on the same loan.
type CollectionsJob struct {
	loanRepo        loan.Repository
	installmentRepo loan.InstallmentRepository
	collectionsRepo collections.Repository
	audit           event.AuditSink
	clk             clock.Clock
	logger          *slog.Logger
}

func NewCollectionsJob(
	loanRepo loan.Repository,
	installmentRepo loan.InstallmentRepository,
	collectionsRepo collections.Repository,
	audit event.AuditSink,
	clk clock.Clock,
	logger *slog.Logger,
) *CollectionsJob {
	if loanRepo == nil || installmentRepo == nil || collectionsRepo == nil || clk == nil || logger == nil {
		panic("CollectionsJob dependencies cannot be nil")
	}
	if audit == nil {
		audit = event.NoopAuditSink{}
	}
	return &CollectionsJob{
		loanRepo:        loanRepo,
		installmentRepo: installmentRepo,
		collectionsRepo: collectionsRepo,
		audit:           audit,
		clk:             clk,
		logger:          logger.With("job", "Collections"),
	}
}

// Run processes every active loan once. Per-loan failures are accumulated
// into the summary and never abort the run; only a failure listing the
// active portfolio is fatal.
func (j *CollectionsJob) Run(ctx context.Context) (*RunSummary, error) {
	startTime := j.clk.Now()
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: startTime,
	}
	logger := j.logger.With(slog.String("runID", summary.RunID))
	logger.InfoContext(ctx, "Starting collections batch run.")

	activeLoanIDs, err := j.loanRepo.GetLoanIDsByStatus(ctx, loan.StatusActive)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to get active loan IDs, aborting run.", slog.Any("error", err))
		monitoring.RecordBatchRun("failure_fatal", time.Since(startTime))
		return nil, fmt.Errorf("cannot run collections job, failed to list active loans: %w", err)
	}
	logger.InfoContext(ctx, "Fetched active loan IDs.", slog.Int("count", len(activeLoanIDs)))

	today := clock.StartOfDay(j.clk.Now())

	for _, loanID := range activeLoanIDs {
		if ctx.Err() != nil {
			logger.WarnContext(ctx, "Context cancelled, stopping run early.", slog.Any("error", ctx.Err()))
			break
		}
		if procErr := j.processLoan(ctx, loanID, today, summary); procErr != nil {
			logger.ErrorContext(ctx, "Failed to process loan, continuing with the rest.",
				slog.Int64("loanID", loanID), slog.Any("error", procErr))
			summary.Failures = append(summary.Failures, LoanFailure{LoanID: loanID, Error: procErr.Error()})
			continue
		}
		summary.LoansProcessed++
	}

	summary.Duration = time.Since(startTime)
	monitoring.AddLoansEscalated(summary.LoansEscalated)
	monitoring.AddPromisesBroken(summary.PromisesBroken)
	monitoring.AddLoansClosed(summary.LoansClosed)

	status := "success"
	if len(summary.Failures) > 0 {
		status = "success_with_failures"
	}
	monitoring.RecordBatchRun(status, summary.Duration)

	logger.With(
		slog.Duration("duration", summary.Duration),
		slog.Int("total_active_loans", len(activeLoanIDs)),
		slog.Int("loans_processed", summary.LoansProcessed),
		slog.Int("loans_updated", summary.LoansUpdated),
		slog.Int("loans_closed", summary.LoansClosed),
		slog.Int("loans_escalated", summary.LoansEscalated),
		slog.Int("promises_broken", summary.PromisesBroken),
		slog.Int("failures", len(summary.Failures)),
	).InfoContext(ctx, "Collections batch run finished.")

	return summary, nil
}

func (j *CollectionsJob) processLoan(ctx context.Context, loanID int64, today time.Time, summary *RunSummary) (err error) {
	tx, err := j.loanRepo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("%w: could not begin transaction: %v", apperrors.ErrDatabase, err)
	}
	defer func() {
		if err != nil {
			_ = j.loanRepo.RollbackTx(ctx, tx)
		}
	}()

	l, err := j.loanRepo.FindLoanForUpdate(ctx, tx, loanID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Loan list was computed before the lock; treat a vanished loan
			// as already handled.
			_ = j.loanRepo.RollbackTx(ctx, tx)
			err = nil
			return nil
		}
		return fmt.Errorf("%w: could not lock loan: %v", apperrors.ErrDatabase, err)
	}
	if l.Status != loan.StatusActive {
		return j.loanRepo.CommitTx(ctx, tx)
	}

	installments, err := j.installmentRepo.GetByLoanIDInTx(ctx, tx, loanID)
	if err != nil {
		return fmt.Errorf("%w: could not load installments: %v", apperrors.ErrDatabase, err)
	}

	earliest := loan.EarliestUnpaid(installments)
	if earliest == nil {
		// Fully repaid between runs; close and skip DPD work.
		l.Status = loan.StatusClosed
		l.DPD = 0
		l.Bucket = collections.BucketCurrent
		l.UpdatedAt = j.clk.Now()
		if err = j.loanRepo.UpdateLoanInTx(ctx, tx, l); err != nil {
			return fmt.Errorf("%w: could not close loan: %v", apperrors.ErrDatabase, err)
		}
		if err = j.loanRepo.CommitTx(ctx, tx); err != nil {
			return fmt.Errorf("%w: could not commit: %v", apperrors.ErrDatabase, err)
		}
		summary.LoansClosed++
		j.recordAudit(ctx, event.AuditEvent{Type: event.RoutingKeyLoanClosed, LoanID: loanID})
		return nil
	}

	dpd := clock.DaysBetween(earliest.DueDate.In(today.Location()), today)
	newBucket := collections.BucketForDPD(dpd)

	escalated := l.LegalStatus == collections.LegalStatusNone && collections.ShouldEscalate(dpd, l.Bucket)
	if escalated {
		l.LegalStatus = collections.LegalStatusNoticePending
	}

	promiseBroken := l.RefreshPromise(today)

	changed := l.DPD != dpd || l.Bucket != newBucket || escalated || promiseBroken
	l.DPD = dpd
	l.Bucket = newBucket

	overdue := markOverdue(installments, today)
	if len(overdue) > 0 {
		if err = j.installmentRepo.UpdateInTx(ctx, tx, overdue); err != nil {
			return fmt.Errorf("%w: could not mark installments overdue: %v", apperrors.ErrDatabase, err)
		}
		changed = true
	}

	l.UpdatedAt = j.clk.Now()
	if err = j.loanRepo.UpdateLoanInTx(ctx, tx, l); err != nil {
		return fmt.Errorf("%w: could not update loan: %v", apperrors.ErrDatabase, err)
	}

	record := &collections.Record{
		LoanID:      loanID,
		DPD:         dpd,
		Bucket:      newBucket,
		LegalStatus: l.LegalStatus,
		UpdatedAt:   j.clk.Now(),
	}
	if err = j.collectionsRepo.UpsertInTx(ctx, tx, record); err != nil {
		return fmt.Errorf("%w: could not upsert collections record: %v", apperrors.ErrDatabase, err)
	}

	if err = j.loanRepo.CommitTx(ctx, tx); err != nil {
		return fmt.Errorf("%w: could not commit: %v", apperrors.ErrDatabase, err)
	}

	if changed {
		summary.LoansUpdated++
	}
	if promiseBroken {
		summary.PromisesBroken++
		j.recordAudit(ctx, event.AuditEvent{
			Type:   event.RoutingKeyPromiseBroken,
			LoanID: loanID,
			Detail: map[string]any{"followUpCount": l.PromiseFollowUpCount},
		})
	}
	if escalated {
		ref := CaseReference(loanID)
		summary.LoansEscalated++
		summary.EscalatedRefs = append(summary.EscalatedRefs, ref)
		j.recordAudit(ctx, event.AuditEvent{
			Type:      event.RoutingKeyLoanEscalated,
			LoanID:    loanID,
			Reference: ref,
			Detail:    map[string]any{"dpd": dpd, "bucket": string(newBucket)},
		})
	}
	return nil
}

// markOverdue flags every due, unsettled installment and returns the ones
// that changed.
func markOverdue(installments []loan.Installment, today time.Time) []loan.Installment {
	var changed []loan.Installment
	for i := range installments {
		inst := &installments[i]
		if !clock.StartOfDay(inst.DueDate).Before(today) {
			continue
		}
		if inst.Status == loan.InstallmentPending || inst.Status == loan.InstallmentPartial {
			inst.Status = loan.InstallmentOverdue
			changed = append(changed, *inst)
		}
	}
	return changed
}

// CaseReference formats the collections case reference for an escalated
// loan.
func CaseReference(loanID int64) string {
	return fmt.Sprintf("COL-%06d", loanID)
}

func (j *CollectionsJob) recordAudit(ctx context.Context, e event.AuditEvent) {
	if err := j.audit.Record(ctx, e); err != nil {
		j.logger.WarnContext(ctx, "Failed to record audit event", "type", e.Type, "loanID", e.LoanID, slog.Any("error", err))
	}
}
