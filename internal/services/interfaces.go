package services

import (
	"context"
	"time"

	domain "github.com/kapitalwerk/contract-api/internal/domain"
	"github.com/kapitalwerk/contract-api/internal/documents"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	SystemHealthReport = domain.SystemHealthReport
	GenerationReport   = documents.GenerationReport
)

// DocumentService generates investment contract documents for investors and background jobs.
type DocumentService interface {
	Generate(ctx context.Context, cmd GenerateDocumentCommand) (DocumentGeneration, error)
	Enqueue(ctx context.Context, cmd GenerateDocumentCommand) (JobReceipt, error)
	RunJob(ctx context.Context, job GenerationJob) (DocumentGeneration, error)
}

// SystemService aggregates utility endpoints such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// GenerateDocumentCommand requests a contract document for one of the subject's investments.
type GenerateDocumentCommand struct {
	SubjectID    string
	InvestmentID string
	TemplateKey  string
	// Signature is an optional data URI holding a PNG or JPEG drawing.
	Signature string
}

// DocumentGeneration is the outcome of a completed generation.
type DocumentGeneration struct {
	DocumentURL       string
	Path              string
	SignatureEmbedded bool
	Report            GenerationReport
}

// JobReceipt identifies a queued generation job.
type JobReceipt struct {
	JobID     string
	MessageID string
	QueuedAt  time.Time
}

// GenerationJob is the payload delivered to the job endpoint via Pub/Sub.
type GenerationJob struct {
	JobID        string    `json:"jobId"`
	TemplateKey  string    `json:"templateKey"`
	SubjectID    string    `json:"subjectId"`
	InvestmentID string    `json:"investmentId"`
	Signature    string    `json:"signature,omitempty"`
	QueuedAt     time.Time `json:"queuedAt"`
}
