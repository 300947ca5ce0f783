package documents

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/kapitalwerk/contract-api/internal/domain"
	platformstorage "github.com/kapitalwerk/contract-api/internal/platform/storage"
)

const pdfContentType = "application/pdf"

// DocumentSink stores generated documents.
type DocumentSink interface {
	Upsert(ctx context.Context, bucket, object, contentType string, data []byte) error
	PublicURL(bucket, object string) string
}

// DocumentRecorder writes the document pointer back onto an investment.
type DocumentRecorder interface {
	RecordDocument(ctx context.Context, investmentID string, pointer domain.DocumentPointer) error
}

// PersistRequest describes a serialised document ready to be stored.
type PersistRequest struct {
	Data              []byte
	TemplateKey       domain.TemplateKey
	OutputPrefix      string
	SubjectID         string
	InvestmentID      string
	SignatureEmbedded bool
	GeneratedAt       time.Time
}

// PersistResult is the stored location of a document.
type PersistResult struct {
	Address string
	Path    string
}

// DocumentPersister uploads documents and records their address.
type DocumentPersister struct {
	sink     DocumentSink
	recorder DocumentRecorder
	bucket   string
	newID    func(time.Time) string
}

// PersisterOption customises a DocumentPersister.
type PersisterOption func(*DocumentPersister)

// WithUniqueID overrides the name disambiguator, primarily for tests.
func WithUniqueID(fn func(time.Time) string) PersisterOption {
	return func(p *DocumentPersister) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// NewDocumentPersister constructs a persister writing into bucket.
func NewDocumentPersister(sink DocumentSink, recorder DocumentRecorder, bucket string, opts ...PersisterOption) (*DocumentPersister, error) {
	if sink == nil {
		return nil, errors.New("document persister: sink is required")
	}
	if recorder == nil {
		return nil, errors.New("document persister: recorder is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("document persister: bucket is required")
	}
	p := &DocumentPersister{
		sink:     sink,
		recorder: recorder,
		bucket:   bucket,
		newID:    monotonicID(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Persist uploads the document under a new name and records it on the investment. When
// only the record write fails, the returned result still carries the address.
func (p *DocumentPersister) Persist(ctx context.Context, req PersistRequest) (PersistResult, error) {
	ctx, span := tracer.Start(ctx, "documents.persist")
	defer span.End()

	path, err := platformstorage.ContractDocumentPath(req.SubjectID, req.OutputPrefix, p.newID(req.GeneratedAt))
	if err != nil {
		return PersistResult{}, &PersistError{Stage: PersistStageUpload, Err: err}
	}

	if err := p.sink.Upsert(ctx, p.bucket, path, pdfContentType, req.Data); err != nil {
		span.RecordError(err)
		return PersistResult{}, &PersistError{Stage: PersistStageUpload, Err: err}
	}

	result := PersistResult{Address: p.sink.PublicURL(p.bucket, path), Path: path}

	pointer := domain.DocumentPointer{
		URL:         result.Address,
		Path:        path,
		TemplateKey: req.TemplateKey,
		GeneratedAt: req.GeneratedAt,
	}
	if req.SignatureEmbedded {
		at := req.GeneratedAt
		pointer.SignatureProvided = true
		pointer.SignatureProvidedAt = &at
	}
	if err := p.recorder.RecordDocument(ctx, req.InvestmentID, pointer); err != nil {
		span.RecordError(err)
		return result, &PersistError{Stage: PersistStageRecord, Address: result.Address, Err: err}
	}
	return result, nil
}

// monotonicID returns ULIDs that strictly increase within the process, so two
// generations in the same millisecond still get distinct names.
func monotonicID() func(time.Time) string {
	entropy := ulid.DefaultEntropy()
	return func(at time.Time) string {
		if at.IsZero() {
			at = time.Now()
		}
		return ulid.MustNew(ulid.Timestamp(at), entropy).String()
	}
}
