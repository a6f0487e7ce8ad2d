package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/traceid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lending-engine/internal/api/handler"
	"lending-engine/internal/api/middleware"
	"lending-engine/internal/batch"
	"lending-engine/internal/config"
	"lending-engine/internal/domain/collections"
	"lending-engine/internal/domain/loan"
	"lending-engine/internal/pkg/apperrors"
)

// SetupRouter builds the service surface: loan operations, health, metrics
// and the manual collections trigger. Authentication sits in front of this
// service at the gateway.
func SetupRouter(loanService loan.Service, collectionsRepo collections.Repository, scheduler *batch.Scheduler, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(traceid.Middleware)
	router.Use(middleware.StructuredLogger(logger))
	router.Use(chimw.Recoverer)
	router.Use(chimw.Timeout(60 * time.Second))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	router.Handle(metricsPath, promhttp.Handler())

	loanHandler := handler.NewLoanHandler(loanService, logger)
	router.Route("/loans", func(r chi.Router) {
		r.Post("/", loanHandler.CreateLoan)
		r.Get("/{loanID}", loanHandler.GetLoan)
		r.Get("/{loanID}/schedule", loanHandler.GetSchedule)
		r.Get("/{loanID}/outstanding", loanHandler.GetOutstanding)
		r.Get("/{loanID}/payments", loanHandler.ListPayments)
		r.Post("/{loanID}/payments", loanHandler.MakePayment)
		r.Post("/{loanID}/promises", loanHandler.RecordPromise)
		r.Put("/{loanID}/promises/honored", loanHandler.MarkPromiseHonored)
	})

	collectionsHandler := handler.NewCollectionsHandler(collectionsRepo, logger)
	router.Route("/collections", func(r chi.Router) {
		r.Post("/run", triggerCollectionsRun(scheduler, cfg, logger))
		r.Get("/{loanID}", collectionsHandler.GetRecord)
	})

	return router
}

func triggerCollectionsRun(scheduler *batch.Scheduler, cfg *config.Config, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timeout := cfg.Batch.RunTimeout
		if timeout <= 0 {
			timeout = 1 * time.Hour
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		summary, err := scheduler.TriggerRun(ctx)
		if err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
				return
			}
			logger.Error("Manual collections run failed", slog.Any("error", err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "collections run failed"})
			return
		}

		writeJSON(w, http.StatusOK, summary)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
