package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	domain "github.com/kapitalwerk/contract-api/internal/domain"
)

// SubjectReader loads investor profiles.
type SubjectReader interface {
	FindSubject(ctx context.Context, subjectID string) (domain.Subject, error)
}

// InvestmentReader loads investments.
type InvestmentReader interface {
	FindInvestment(ctx context.Context, investmentID string) (domain.Investment, error)
}

// Resolver resolves templates by key.
type Resolver interface {
	Resolve(ctx context.Context, key domain.TemplateKey) (Template, error)
}

// Persister stores generated documents.
type Persister interface {
	Persist(ctx context.Context, req PersistRequest) (PersistResult, error)
}

// GenerateRequest is the input of a generation.
type GenerateRequest struct {
	TemplateKey   domain.TemplateKey
	SubjectID     string
	TransactionID string
	Signature     *SignaturePayload
}

// GenerationResult is the outcome of a generation. Address is also set when a
// *PersistError of the record stage is returned.
type GenerationResult struct {
	Address           string
	Path              string
	SignatureEmbedded bool
	Report            GenerationReport
}

// GeneratorDeps bundles the collaborators of a Generator.
type GeneratorDeps struct {
	Subjects    SubjectReader
	Investments InvestmentReader
	Catalogue   *Catalogue
	Resolver    Resolver
	Opener      FormOpener
	Mapper      *FieldMapper
	Signatures  *SignatureEmbedder
	Persister   Persister
	Clock       func() time.Time
	Logger      Logger
}

// Generator runs the document generation pipeline.
type Generator struct {
	subjects    SubjectReader
	investments InvestmentReader
	catalogue   *Catalogue
	resolver    Resolver
	opener      FormOpener
	mapper      *FieldMapper
	signatures  *SignatureEmbedder
	persister   Persister
	clock       func() time.Time
	logger      Logger
	metrics     *generationMetrics
}

// NewGenerator validates deps and constructs a Generator.
func NewGenerator(deps GeneratorDeps) (*Generator, error) {
	switch {
	case deps.Subjects == nil:
		return nil, errors.New("generator: subject reader is required")
	case deps.Investments == nil:
		return nil, errors.New("generator: investment reader is required")
	case deps.Catalogue == nil:
		return nil, errors.New("generator: catalogue is required")
	case deps.Resolver == nil:
		return nil, errors.New("generator: resolver is required")
	case deps.Opener == nil:
		return nil, errors.New("generator: form opener is required")
	case deps.Persister == nil:
		return nil, errors.New("generator: persister is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	mapper := deps.Mapper
	if mapper == nil {
		mapper = NewFieldMapper(WithMapperLogger(logger))
	}
	signatures := deps.Signatures
	if signatures == nil {
		signatures = NewSignatureEmbedder(logger)
	}

	return &Generator{
		subjects:    deps.Subjects,
		investments: deps.Investments,
		catalogue:   deps.Catalogue,
		resolver:    deps.Resolver,
		opener:      deps.Opener,
		mapper:      mapper,
		signatures:  signatures,
		persister:   deps.Persister,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:  logger,
		metrics: loadMetrics(),
	}, nil
}

// Generate fills the product template for the subject's investment and stores it.
// Only missing records, a missing or unreadable template, and persistence failures are
// returned as errors; everything else degrades into the report.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (result GenerationResult, err error) {
	started := g.clock()
	ctx, span := tracer.Start(ctx, "documents.generate")
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = classifyOutcome(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.SetAttributes(attribute.String("generation.outcome", outcome))
		span.End()
		g.metrics.record(ctx, string(req.TemplateKey), outcome, g.clock().Sub(started).Seconds())
	}()
	span.SetAttributes(
		attribute.String("template.key", string(req.TemplateKey)),
		attribute.String("investment.id", req.TransactionID),
	)

	result.Report = GenerationReport{TemplateKey: string(req.TemplateKey), Stages: []Stage{StageIdle}}
	report := &result.Report

	profile, ok := g.catalogue.Profile(req.TemplateKey)
	if !ok {
		return result, fmt.Errorf("%w: %s", ErrUnknownTemplate, req.TemplateKey)
	}

	subject, inv, err := g.loadRecords(ctx, req)
	if err != nil {
		return result, err
	}

	tmpl, err := g.resolver.Resolve(ctx, req.TemplateKey)
	if err != nil {
		return result, err
	}
	report.TemplateLocation = tmpl.Location.String()
	report.reach(StageTemplateResolved)

	form, err := g.opener.Open(tmpl.Data)
	if err != nil {
		return result, fmt.Errorf("%w: %s: %v", ErrTemplateUnreadable, tmpl.Location, err)
	}
	report.reach(StageFormOpened)

	now := g.clock()
	report.applyMapping(g.mapper.Apply(ctx, form, profile, subject, inv, now))
	report.reach(StageFieldsPopulated)

	sig := g.signatures.Embed(ctx, form, req.Signature, profile.Signature)
	report.SignatureProvided = sig.Provided
	report.SignatureEmbedded = sig.Embedded
	if sig.Err != nil {
		report.SignatureError = sig.Err.Error()
	}
	if sig.Embedded {
		report.reach(StageSignatureEmbedded)
	}
	result.SignatureEmbedded = sig.Embedded

	if err := flatten(form); err != nil {
		report.FlattenError = err.Error()
		g.logger(ctx, "document.flatten_failed", map[string]any{
			"templateKey":  string(req.TemplateKey),
			"investmentId": req.TransactionID,
			"error":        err.Error(),
		})
	} else {
		report.Flattened = true
		report.reach(StageFlattened)
	}

	data, err := form.Bytes()
	if err != nil {
		return result, &PersistError{Stage: PersistStageSerialize, Err: err}
	}

	stored, err := g.persister.Persist(ctx, PersistRequest{
		Data:              data,
		TemplateKey:       req.TemplateKey,
		OutputPrefix:      profile.OutputPrefix,
		SubjectID:         subject.ID,
		InvestmentID:      inv.ID,
		SignatureEmbedded: sig.Embedded,
		GeneratedAt:       now,
	})
	result.Address = stored.Address
	result.Path = stored.Path
	if err != nil {
		return result, err
	}
	report.reach(StagePersisted)

	g.logger(ctx, "document.generated", map[string]any{
		"templateKey":       string(req.TemplateKey),
		"investmentId":      inv.ID,
		"subjectId":         subject.ID,
		"path":              stored.Path,
		"fieldsSet":         len(report.FieldsSet),
		"fieldsMissing":     report.FieldsMissing,
		"signatureEmbedded": sig.Embedded,
		"flattened":         report.Flattened,
	})
	return result, nil
}

func (g *Generator) loadRecords(ctx context.Context, req GenerateRequest) (domain.Subject, domain.Investment, error) {
	subjectID := strings.TrimSpace(req.SubjectID)
	if subjectID == "" {
		return domain.Subject{}, domain.Investment{}, fmt.Errorf("%w: subject id is required", ErrSubjectNotFound)
	}
	investmentID := strings.TrimSpace(req.TransactionID)
	if investmentID == "" {
		return domain.Subject{}, domain.Investment{}, fmt.Errorf("%w: transaction id is required", ErrTransactionNotFound)
	}

	subject, err := g.subjects.FindSubject(ctx, subjectID)
	if err != nil {
		if isNotFound(err) {
			return domain.Subject{}, domain.Investment{}, fmt.Errorf("%w: %s", ErrSubjectNotFound, subjectID)
		}
		return domain.Subject{}, domain.Investment{}, fmt.Errorf("documents: load subject %s: %w", subjectID, err)
	}
	if subject.ID == "" {
		subject.ID = subjectID
	}
	if err := subject.Validate(); err != nil {
		return domain.Subject{}, domain.Investment{}, fmt.Errorf("%w: %s: %v", ErrSubjectNotFound, subjectID, err)
	}

	inv, err := g.investments.FindInvestment(ctx, investmentID)
	if err != nil {
		if isNotFound(err) {
			return domain.Subject{}, domain.Investment{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, investmentID)
		}
		return domain.Subject{}, domain.Investment{}, fmt.Errorf("documents: load investment %s: %w", investmentID, err)
	}
	if inv.ID == "" {
		inv.ID = investmentID
	}
	if inv.SubjectID != subject.ID {
		return domain.Subject{}, domain.Investment{}, fmt.Errorf("%w: %s", ErrTransactionNotOwned, investmentID)
	}
	if inv.AmountMinor < 0 {
		return domain.Subject{}, domain.Investment{}, fmt.Errorf("%w: %s has a negative amount", ErrTransactionNotFound, investmentID)
	}
	return subject, inv, nil
}

func flatten(form Form) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("flatten: panic: %v", r)
		}
	}()
	return form.Flatten()
}

type notFoundError interface {
	IsNotFound() bool
}

func isNotFound(err error) bool {
	var nf notFoundError
	return errors.As(err, &nf) && nf.IsNotFound()
}

func classifyOutcome(err error) string {
	switch {
	case errors.Is(err, ErrSubjectNotFound), errors.Is(err, ErrTransactionNotFound):
		return "record_not_found"
	case errors.Is(err, ErrTemplateNotFound), errors.Is(err, ErrUnknownTemplate):
		return "template_not_found"
	case errors.Is(err, ErrTemplateUnreadable):
		return "template_unreadable"
	case errors.Is(err, ErrPersistFailure):
		return "persist_failed"
	default:
		return "error"
	}
}
