package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kapitalwerk/contract-api/internal/documents"
	"github.com/kapitalwerk/contract-api/internal/platform/auth"
	"github.com/kapitalwerk/contract-api/internal/platform/httpx"
	"github.com/kapitalwerk/contract-api/internal/platform/observability"
	"github.com/kapitalwerk/contract-api/internal/services"
)

// maxGenerateBodyBytes leaves headroom above the signature limit for base64 and JSON overhead.
const maxGenerateBodyBytes = 9 << 20

// DocumentHandlers exposes contract document generation to authenticated investors.
type DocumentHandlers struct {
	authn       *auth.Authenticator
	documents   services.DocumentService
	middlewares []func(http.Handler) http.Handler
}

// DocumentHandlersOption customises the document handlers.
type DocumentHandlersOption func(*DocumentHandlers)

// WithGenerateMiddlewares wraps the generate endpoint after authentication, e.g. with
// idempotency enforcement scoped to the caller.
func WithGenerateMiddlewares(mw ...func(http.Handler) http.Handler) DocumentHandlersOption {
	return func(h *DocumentHandlers) {
		for _, m := range mw {
			if m != nil {
				h.middlewares = append(h.middlewares, m)
			}
		}
	}
}

// NewDocumentHandlers constructs investor facing document handlers.
func NewDocumentHandlers(authn *auth.Authenticator, documents services.DocumentService, opts ...DocumentHandlersOption) *DocumentHandlers {
	h := &DocumentHandlers{
		authn:     authn,
		documents: documents,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the document endpoints under /me.
func (h *DocumentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r = r.With(h.authn.RequireFirebaseAuth(), observability.InvestorFields())
	}
	if len(h.middlewares) > 0 {
		r = r.With(h.middlewares...)
	}
	r.Post("/investments/{investmentId}/document:generate", h.generateDocument)
}

type generateDocumentRequest struct {
	TemplateKey string `json:"templateKey"`
	Signature   string `json:"signature"`
	Async       bool   `json:"async"`
}

type generateDocumentResponse struct {
	DocumentURL       string                    `json:"documentUrl"`
	SignatureEmbedded bool                      `json:"signatureEmbedded"`
	Report            services.GenerationReport `json:"report"`
}

type enqueueDocumentResponse struct {
	JobID     string `json:"jobId"`
	MessageID string `json:"messageId"`
}

func (h *DocumentHandlers) generateDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.documents == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "document service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity.UID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var body generateDocumentRequest
	if err := httpx.DecodeJSON(r, maxGenerateBodyBytes, &body); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	cmd := services.GenerateDocumentCommand{
		SubjectID:    identity.UID,
		InvestmentID: strings.TrimSpace(chi.URLParam(r, "investmentId")),
		TemplateKey:  strings.TrimSpace(body.TemplateKey),
		Signature:    strings.TrimSpace(body.Signature),
	}

	if body.Async {
		receipt, err := h.documents.Enqueue(ctx, cmd)
		if err != nil {
			writeDocumentError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusAccepted, enqueueDocumentResponse{
			JobID:     receipt.JobID,
			MessageID: receipt.MessageID,
		})
		return
	}

	generated, err := h.documents.Generate(ctx, cmd)
	if err != nil {
		writeDocumentError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, generateDocumentResponse{
		DocumentURL:       generated.DocumentURL,
		SignatureEmbedded: generated.SignatureEmbedded,
		Report:            generated.Report,
	})
}

func writeDocumentError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrDocumentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", publicMessage(err, services.ErrDocumentInvalidInput), http.StatusBadRequest))
	case errors.Is(err, services.ErrDocumentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("investment_not_found", "investment not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDocumentUnavailable):
		observability.FromContext(ctx).Warn("document unavailable", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("document_unavailable", "cannot generate document, contact support", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrDocumentNotSaved):
		observability.FromContext(ctx).Error("document not saved", zap.Error(err))
		apiErr := httpx.NewError("document_not_saved", "document could not be saved", http.StatusBadGateway)
		var persistErr *documents.PersistError
		if errors.As(err, &persistErr) && persistErr.Address != "" {
			apiErr = apiErr.WithDetails(map[string]any{"documentUrl": persistErr.Address})
		}
		httpx.WriteError(ctx, w, apiErr)
	case errors.Is(err, services.ErrDocumentQueueUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("queue_unavailable", "document queue unavailable", http.StatusServiceUnavailable))
	default:
		observability.FromContext(ctx).Error("document generation failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "document generation failed", http.StatusInternalServerError))
	}
}

// publicMessage strips the sentinel prefix so validation detail reaches the caller.
func publicMessage(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if strings.HasPrefix(msg, prefix) {
		return strings.TrimPrefix(msg, prefix)
	}
	return msg
}
