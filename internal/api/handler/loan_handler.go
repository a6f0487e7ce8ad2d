package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"lending-engine/internal/domain/loan"
	"lending-engine/internal/pkg/apperrors"
)

type LoanHandler struct {
	service loan.Service
	logger  *slog.Logger
}

func NewLoanHandler(service loan.Service, logger *slog.Logger) *LoanHandler {
	return &LoanHandler{service: service, logger: logger.With("component", "LoanHandler")}
}

type createLoanRequest struct {
	CustomerRef      string          `json:"customerRef"`
	Principal        decimal.Decimal `json:"principal"`
	DisbursementDate string          `json:"disbursementDate"`
}

type makePaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"paymentDate"`
	Method      string          `json:"method"`
	Reference   string          `json:"reference,omitempty"`
}

type recordPromiseRequest struct {
	PromiseDate string `json:"promiseDate"`
}

func (h *LoanHandler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	disbursementDate, err := parseDate(req.DisbursementDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "disbursementDate must be YYYY-MM-DD")
		return
	}

	created, breakdown, err := h.service.CreateLoan(r.Context(), loan.CreateLoanInput{
		CustomerRef:      req.CustomerRef,
		Principal:        req.Principal,
		DisbursementDate: disbursementDate,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"loan":      created,
		"breakdown": breakdown,
	})
}

func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}
	l, err := h.service.GetLoan(r.Context(), loanID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *LoanHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}
	schedule, err := h.service.GetSchedule(r.Context(), loanID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loanId": loanID, "schedule": schedule})
}

func (h *LoanHandler) GetOutstanding(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}
	outstanding, err := h.service.GetOutstanding(r.Context(), loanID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loanId": loanID, "outstanding": outstanding})
}

func (h *LoanHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}
	payments, err := h.service.GetPayments(r.Context(), loanID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loanId": loanID, "payments": payments})
}

func (h *LoanHandler) MakePayment(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}

	var req makePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	paymentDate, err := parseDate(req.PaymentDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "paymentDate must be YYYY-MM-DD")
		return
	}

	payment, err := h.service.MakePayment(r.Context(), loan.MakePaymentInput{
		LoanID:      loanID,
		Amount:      req.Amount,
		PaymentDate: paymentDate,
		Method:      req.Method,
		Reference:   req.Reference,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (h *LoanHandler) RecordPromise(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}

	var req recordPromiseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	promiseDate, err := parseDate(req.PromiseDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "promiseDate must be YYYY-MM-DD")
		return
	}

	if err := h.service.RecordPromise(r.Context(), loanID, promiseDate); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *LoanHandler) MarkPromiseHonored(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}
	if err := h.service.MarkPromiseHonored(r.Context(), loanID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "honored"})
}

func (h *LoanHandler) loanID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	loanID, err := strconv.ParseInt(chi.URLParam(r, "loanID"), 10, 64)
	if err != nil || loanID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid loan ID")
		return 0, false
	}
	return loanID, true
}

func (h *LoanHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrInvalidArgument),
		errors.Is(err, apperrors.ErrInvalidPaymentAmount), errors.Is(err, apperrors.ErrInvalidPromiseState):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "Unhandled service error", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
