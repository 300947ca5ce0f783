package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/kapitalwerk/contract-api/internal/domain"
	"github.com/kapitalwerk/contract-api/internal/documents"
	"github.com/kapitalwerk/contract-api/internal/repositories"
)

const (
	documentEventGenerated = "document.generate.completed"
	documentEventFailed    = "document.generate.failed"
	documentEventQueued    = "document.job.queued"
	documentJobPrefix      = "dj_"
)

const (
	// MaxSignatureLength bounds the signature data URI accepted by Generate and Enqueue.
	MaxSignatureLength = 6 << 20
	// MaxGenerationJobBytes bounds the encoded GenerationJob carrying such a signature.
	MaxGenerationJobBytes = MaxSignatureLength + 64<<10
)

var (
	// ErrDocumentInvalidInput indicates required fields were missing or malformed.
	ErrDocumentInvalidInput = errors.New("document: invalid input")
	// ErrDocumentNotFound indicates the investment does not exist for the caller.
	ErrDocumentNotFound = errors.New("document: investment not found")
	// ErrDocumentUnavailable indicates the document cannot be generated for data reasons
	// (missing profile or template) and retrying will not help.
	ErrDocumentUnavailable = errors.New("document: unavailable")
	// ErrDocumentNotSaved indicates the document was generated but could not be stored
	// or recorded. Use errors.As with *documents.PersistError to recover the address.
	ErrDocumentNotSaved = errors.New("document: not saved")
	// ErrDocumentQueueUnavailable indicates asynchronous generation is not configured.
	ErrDocumentQueueUnavailable = errors.New("document: job queue unavailable")
)

// DocumentGenerator runs the generation pipeline.
type DocumentGenerator interface {
	Generate(ctx context.Context, req documents.GenerateRequest) (documents.GenerationResult, error)
}

// GenerationJobPublisher publishes generation jobs to the background queue.
type GenerationJobPublisher interface {
	PublishGenerationJob(ctx context.Context, job GenerationJob) (string, error)
}

// DocumentServiceDeps enumerates collaborators required to construct the document service.
type DocumentServiceDeps struct {
	Generator   DocumentGenerator
	Catalogue   *documents.Catalogue
	Investments repositories.InvestmentRepository
	Publisher   GenerationJobPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type documentService struct {
	generator   DocumentGenerator
	catalogue   *documents.Catalogue
	investments repositories.InvestmentRepository
	publisher   GenerationJobPublisher
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

var _ DocumentService = (*documentService)(nil)

// NewDocumentService wires dependencies into a DocumentService. Publisher and Investments
// are optional; without a publisher Enqueue reports ErrDocumentQueueUnavailable.
func NewDocumentService(deps DocumentServiceDeps) (DocumentService, error) {
	if deps.Generator == nil {
		return nil, errors.New("document service: generator is required")
	}
	if deps.Catalogue == nil {
		return nil, errors.New("document service: catalogue is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &documentService{
		generator:   deps.Generator,
		catalogue:   deps.Catalogue,
		investments: deps.Investments,
		publisher:   deps.Publisher,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *documentService) Generate(ctx context.Context, cmd GenerateDocumentCommand) (DocumentGeneration, error) {
	cmd, err := s.normalise(cmd)
	if err != nil {
		return DocumentGeneration{}, err
	}
	return s.generate(ctx, cmd, "")
}

func (s *documentService) Enqueue(ctx context.Context, cmd GenerateDocumentCommand) (JobReceipt, error) {
	cmd, err := s.normalise(cmd)
	if err != nil {
		return JobReceipt{}, err
	}
	if s.publisher == nil {
		return JobReceipt{}, ErrDocumentQueueUnavailable
	}
	if err := s.checkOwnership(ctx, cmd); err != nil {
		return JobReceipt{}, err
	}

	job := GenerationJob{
		JobID:        documentJobPrefix + strings.ToLower(s.newID()),
		TemplateKey:  cmd.TemplateKey,
		SubjectID:    cmd.SubjectID,
		InvestmentID: cmd.InvestmentID,
		Signature:    cmd.Signature,
		QueuedAt:     s.clock(),
	}
	messageID, err := s.publisher.PublishGenerationJob(ctx, job)
	if err != nil {
		return JobReceipt{}, fmt.Errorf("publish generation job: %w", err)
	}

	s.logger(ctx, documentEventQueued, map[string]any{
		"jobId":        job.JobID,
		"messageId":    messageID,
		"templateKey":  job.TemplateKey,
		"investmentId": job.InvestmentID,
	})
	return JobReceipt{JobID: job.JobID, MessageID: messageID, QueuedAt: job.QueuedAt}, nil
}

func (s *documentService) RunJob(ctx context.Context, job GenerationJob) (DocumentGeneration, error) {
	if strings.TrimSpace(job.JobID) == "" {
		return DocumentGeneration{}, fmt.Errorf("%w: job id is required", ErrDocumentInvalidInput)
	}
	cmd, err := s.normalise(GenerateDocumentCommand{
		SubjectID:    job.SubjectID,
		InvestmentID: job.InvestmentID,
		TemplateKey:  job.TemplateKey,
		Signature:    job.Signature,
	})
	if err != nil {
		return DocumentGeneration{}, err
	}
	return s.generate(ctx, cmd, strings.TrimSpace(job.JobID))
}

func (s *documentService) generate(ctx context.Context, cmd GenerateDocumentCommand, jobID string) (DocumentGeneration, error) {
	req := documents.GenerateRequest{
		TemplateKey:   domain.TemplateKey(cmd.TemplateKey),
		SubjectID:     cmd.SubjectID,
		TransactionID: cmd.InvestmentID,
	}
	if cmd.Signature != "" {
		req.Signature = &documents.SignaturePayload{DataURI: cmd.Signature}
	}

	result, err := s.generator.Generate(ctx, req)
	generation := DocumentGeneration{
		DocumentURL:       result.Address,
		Path:              result.Path,
		SignatureEmbedded: result.SignatureEmbedded,
		Report:            result.Report,
	}
	fields := map[string]any{
		"templateKey":  cmd.TemplateKey,
		"investmentId": cmd.InvestmentID,
	}
	if jobID != "" {
		fields["jobId"] = jobID
	}
	if err != nil {
		mapped := translateGenerationError(err)
		fields["error"] = err.Error()
		if result.Address != "" {
			fields["documentUrl"] = result.Address
		}
		s.logger(ctx, documentEventFailed, fields)
		return generation, mapped
	}

	fields["path"] = result.Path
	fields["signatureEmbedded"] = result.SignatureEmbedded
	fields["fieldsMissing"] = result.Report.FieldsMissing
	s.logger(ctx, documentEventGenerated, fields)
	return generation, nil
}

func (s *documentService) normalise(cmd GenerateDocumentCommand) (GenerateDocumentCommand, error) {
	cmd.SubjectID = strings.TrimSpace(cmd.SubjectID)
	cmd.InvestmentID = strings.TrimSpace(cmd.InvestmentID)
	cmd.TemplateKey = strings.ToLower(strings.TrimSpace(cmd.TemplateKey))
	cmd.Signature = strings.TrimSpace(cmd.Signature)

	switch {
	case cmd.SubjectID == "":
		return cmd, fmt.Errorf("%w: subject id is required", ErrDocumentInvalidInput)
	case cmd.InvestmentID == "":
		return cmd, fmt.Errorf("%w: investment id is required", ErrDocumentInvalidInput)
	case strings.ContainsAny(cmd.InvestmentID, "/\\"):
		return cmd, fmt.Errorf("%w: investment id is malformed", ErrDocumentInvalidInput)
	case cmd.TemplateKey == "":
		return cmd, fmt.Errorf("%w: template key is required", ErrDocumentInvalidInput)
	case len(cmd.Signature) > MaxSignatureLength:
		return cmd, fmt.Errorf("%w: signature is too large", ErrDocumentInvalidInput)
	}
	if _, ok := s.catalogue.Profile(domain.TemplateKey(cmd.TemplateKey)); !ok {
		return cmd, fmt.Errorf("%w: unknown template key %q", ErrDocumentInvalidInput, cmd.TemplateKey)
	}
	return cmd, nil
}

func (s *documentService) checkOwnership(ctx context.Context, cmd GenerateDocumentCommand) error {
	if s.investments == nil {
		return nil
	}
	inv, err := s.investments.FindInvestment(ctx, cmd.InvestmentID)
	if err != nil {
		if isRepoNotFound(err) {
			return ErrDocumentNotFound
		}
		return err
	}
	if inv.SubjectID != cmd.SubjectID {
		return ErrDocumentNotFound
	}
	return nil
}

func translateGenerationError(err error) error {
	switch {
	case errors.Is(err, documents.ErrTransactionNotOwned):
		return fmt.Errorf("%w: %w", ErrDocumentNotFound, err)
	case errors.Is(err, documents.ErrPersistFailure):
		return fmt.Errorf("%w: %w", ErrDocumentNotSaved, err)
	case errors.Is(err, documents.ErrSubjectNotFound),
		errors.Is(err, documents.ErrTransactionNotFound),
		errors.Is(err, documents.ErrTemplateNotFound),
		errors.Is(err, documents.ErrTemplateUnreadable),
		errors.Is(err, documents.ErrUnknownTemplate):
		return fmt.Errorf("%w: %w", ErrDocumentUnavailable, err)
	default:
		return err
	}
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
