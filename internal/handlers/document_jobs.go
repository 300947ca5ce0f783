package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kapitalwerk/contract-api/internal/platform/httpx"
	"github.com/kapitalwerk/contract-api/internal/platform/jobs"
	"github.com/kapitalwerk/contract-api/internal/platform/observability"
	"github.com/kapitalwerk/contract-api/internal/services"
)

// DocumentJobHandlers receives generation jobs pushed by Pub/Sub.
//
// Any 2xx acknowledges the message. Permanent failures are acknowledged after logging so a
// broken job cannot loop; failures that may succeed on retry answer 500 and Pub/Sub redelivers.
type DocumentJobHandlers struct {
	documents services.DocumentService
}

// NewDocumentJobHandlers constructs the internal job handlers.
func NewDocumentJobHandlers(documents services.DocumentService) *DocumentJobHandlers {
	return &DocumentJobHandlers{documents: documents}
}

// Routes registers the job endpoint under /internal.
func (h *DocumentJobHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/jobs/document-generation", h.runGenerationJob)
}

func (h *DocumentJobHandlers) runGenerationJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	if h.documents == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "document service unavailable", http.StatusServiceUnavailable))
		return
	}

	job, env, err := jobs.DecodeGenerationPush(r.Body)
	if err != nil {
		logger.Error("discarding undecodable generation job", zap.Error(err))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	logger = logger.With(
		zap.String("jobId", job.JobID),
		zap.String("messageId", env.Message.MessageID),
		zap.Int("deliveryAttempt", env.DeliveryAttempt),
	)

	generated, err := h.documents.RunJob(ctx, job)
	switch {
	case err == nil:
		logger.Info("generation job completed",
			zap.String("path", generated.Path),
			zap.Bool("signatureEmbedded", generated.SignatureEmbedded),
		)
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, services.ErrDocumentInvalidInput),
		errors.Is(err, services.ErrDocumentNotFound),
		errors.Is(err, services.ErrDocumentUnavailable):
		logger.Error("generation job dropped", zap.Error(err))
		w.WriteHeader(http.StatusNoContent)
	default:
		logger.Warn("generation job failed, requesting redelivery", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("job_failed", "generation job failed", http.StatusInternalServerError))
	}
}
