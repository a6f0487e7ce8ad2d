package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"lending-engine/internal/domain/collections"
	"lending-engine/internal/pkg/apperrors"
)

// CollectionsHandler serves the per-loan collections record maintained by
// the batch job.
type CollectionsHandler struct {
	repo   collections.Repository
	logger *slog.Logger
}

func NewCollectionsHandler(repo collections.Repository, logger *slog.Logger) *CollectionsHandler {
	return &CollectionsHandler{repo: repo, logger: logger.With("component", "CollectionsHandler")}
}

func (h *CollectionsHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	loanID, err := strconv.ParseInt(chi.URLParam(r, "loanID"), 10, 64)
	if err != nil || loanID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid loan ID")
		return
	}

	record, err := h.repo.GetByLoanID(r.Context(), loanID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "Failed to load collections record", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, record)
}
