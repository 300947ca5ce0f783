package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/kapitalwerk/contract-api/internal/domain"
	"github.com/kapitalwerk/contract-api/internal/documents"
)

type stubGenerator struct {
	result documents.GenerationResult
	err    error
	calls  []documents.GenerateRequest
}

func (s *stubGenerator) Generate(_ context.Context, req documents.GenerateRequest) (documents.GenerationResult, error) {
	s.calls = append(s.calls, req)
	return s.result, s.err
}

type stubPublisher struct {
	jobs []GenerationJob
	id   string
	err  error
}

func (s *stubPublisher) PublishGenerationJob(_ context.Context, job GenerationJob) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.jobs = append(s.jobs, job)
	return s.id, nil
}

type stubInvestments struct {
	investments map[string]domain.Investment
}

func (s *stubInvestments) FindInvestment(_ context.Context, id string) (domain.Investment, error) {
	inv, ok := s.investments[id]
	if !ok {
		return domain.Investment{}, stubRepoError{notFound: true}
	}
	return inv, nil
}

func (s *stubInvestments) RecordDocument(context.Context, string, domain.DocumentPointer) error {
	return nil
}

type stubRepoError struct {
	notFound bool
}

func (e stubRepoError) Error() string       { return "repo error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return false }
func (e stubRepoError) IsUnavailable() bool { return false }

type recordedEvent struct {
	name   string
	fields map[string]any
}

func newTestDocumentService(t *testing.T, gen *stubGenerator, pub GenerationJobPublisher, events *[]recordedEvent) DocumentService {
	t.Helper()
	catalogue, err := documents.DefaultCatalogue()
	if err != nil {
		t.Fatalf("DefaultCatalogue: %v", err)
	}
	deps := DocumentServiceDeps{
		Generator: gen,
		Catalogue: catalogue,
		Investments: &stubInvestments{investments: map[string]domain.Investment{
			"inv-1": {ID: "inv-1", SubjectID: "uid-1"},
			"inv-2": {ID: "inv-2", SubjectID: "uid-2"},
		}},
		Clock:       func() time.Time { return time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "01HZX" },
		Logger: func(_ context.Context, event string, fields map[string]any) {
			if events != nil {
				*events = append(*events, recordedEvent{name: event, fields: fields})
			}
		},
	}
	if pub != nil {
		deps.Publisher = pub
	}
	svc, err := NewDocumentService(deps)
	if err != nil {
		t.Fatalf("NewDocumentService: %v", err)
	}
	return svc
}

func TestNewDocumentServiceRequiresDeps(t *testing.T) {
	if _, err := NewDocumentService(DocumentServiceDeps{}); err == nil {
		t.Fatalf("expected error without generator")
	}
	if _, err := NewDocumentService(DocumentServiceDeps{Generator: &stubGenerator{}}); err == nil {
		t.Fatalf("expected error without catalogue")
	}
}

func TestDocumentServiceGenerate(t *testing.T) {
	gen := &stubGenerator{result: documents.GenerationResult{
		Address:           "https://files.test/documents/uid-1/a.pdf",
		Path:              "documents/uid-1/a.pdf",
		SignatureEmbedded: true,
	}}
	var events []recordedEvent
	svc := newTestDocumentService(t, gen, nil, &events)

	out, err := svc.Generate(context.Background(), GenerateDocumentCommand{
		SubjectID:    " uid-1 ",
		InvestmentID: "inv-1",
		TemplateKey:  "Wealth-Protection",
		Signature:    "data:image/png;base64,AAAA",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.DocumentURL != gen.result.Address || !out.SignatureEmbedded {
		t.Fatalf("unexpected generation %+v", out)
	}
	if len(gen.calls) != 1 {
		t.Fatalf("expected one generator call, got %d", len(gen.calls))
	}
	req := gen.calls[0]
	if req.SubjectID != "uid-1" || req.TransactionID != "inv-1" || req.TemplateKey != domain.TemplateKeyWealthProtection {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.Signature == nil || req.Signature.DataURI != "data:image/png;base64,AAAA" {
		t.Fatalf("expected signature payload, got %+v", req.Signature)
	}
	if len(events) != 1 || events[0].name != documentEventGenerated {
		t.Fatalf("expected completion event, got %+v", events)
	}
	for _, v := range events[0].fields {
		if s, ok := v.(string); ok && s == "data:image/png;base64,AAAA" {
			t.Fatalf("signature must not be logged")
		}
	}
}

func TestDocumentServiceGenerateWithoutSignature(t *testing.T) {
	gen := &stubGenerator{}
	svc := newTestDocumentService(t, gen, nil, nil)
	if _, err := svc.Generate(context.Background(), GenerateDocumentCommand{SubjectID: "uid-1", InvestmentID: "inv-1", TemplateKey: "inflation-protection-plus"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.calls[0].Signature != nil {
		t.Fatalf("expected no signature payload")
	}
}

func TestDocumentServiceGenerateValidation(t *testing.T) {
	cases := map[string]GenerateDocumentCommand{
		"missing subject":    {InvestmentID: "inv-1", TemplateKey: "wealth-protection"},
		"missing investment": {SubjectID: "uid-1", TemplateKey: "wealth-protection"},
		"slash in id":        {SubjectID: "uid-1", InvestmentID: "a/b", TemplateKey: "wealth-protection"},
		"missing template":   {SubjectID: "uid-1", InvestmentID: "inv-1"},
		"unknown template":   {SubjectID: "uid-1", InvestmentID: "inv-1", TemplateKey: "gold"},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			gen := &stubGenerator{}
			svc := newTestDocumentService(t, gen, nil, nil)
			if _, err := svc.Generate(context.Background(), cmd); !errors.Is(err, ErrDocumentInvalidInput) {
				t.Fatalf("expected ErrDocumentInvalidInput, got %v", err)
			}
			if len(gen.calls) != 0 {
				t.Fatalf("generator must not be called")
			}
		})
	}
}

func TestDocumentServiceTranslatesErrors(t *testing.T) {
	persist := &documents.PersistError{Stage: documents.PersistStageRecord, Address: "https://files.test/a.pdf", Err: errors.New("firestore down")}
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "foreign investment", err: fmt.Errorf("%w: inv-2", documents.ErrTransactionNotOwned), want: ErrDocumentNotFound},
		{name: "missing investment", err: documents.ErrTransactionNotFound, want: ErrDocumentUnavailable},
		{name: "missing subject", err: documents.ErrSubjectNotFound, want: ErrDocumentUnavailable},
		{name: "missing template", err: &documents.TemplateNotFoundError{Key: "wealth-protection"}, want: ErrDocumentUnavailable},
		{name: "unreadable template", err: documents.ErrTemplateUnreadable, want: ErrDocumentUnavailable},
		{name: "persist failure", err: persist, want: ErrDocumentNotSaved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &stubGenerator{err: tc.err}
			var events []recordedEvent
			svc := newTestDocumentService(t, gen, nil, &events)
			_, err := svc.Generate(context.Background(), GenerateDocumentCommand{SubjectID: "uid-1", InvestmentID: "inv-1", TemplateKey: "wealth-protection"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected original error to stay in chain, got %v", err)
			}
			if len(events) != 1 || events[0].name != documentEventFailed {
				t.Fatalf("expected failure event, got %+v", events)
			}
		})
	}
}

func TestDocumentServiceKeepsAddressOnRecordFailure(t *testing.T) {
	persist := &documents.PersistError{Stage: documents.PersistStageRecord, Address: "https://files.test/a.pdf", Err: errors.New("down")}
	gen := &stubGenerator{err: persist, result: documents.GenerationResult{Address: persist.Address}}
	svc := newTestDocumentService(t, gen, nil, nil)

	out, err := svc.Generate(context.Background(), GenerateDocumentCommand{SubjectID: "uid-1", InvestmentID: "inv-1", TemplateKey: "wealth-protection"})
	if !errors.Is(err, ErrDocumentNotSaved) {
		t.Fatalf("expected ErrDocumentNotSaved, got %v", err)
	}
	if out.DocumentURL != persist.Address {
		t.Fatalf("expected address to be returned, got %q", out.DocumentURL)
	}
	var pe *documents.PersistError
	if !errors.As(err, &pe) || pe.Address != persist.Address {
		t.Fatalf("expected persist error in chain, got %v", err)
	}
}

func TestDocumentServiceEnqueue(t *testing.T) {
	pub := &stubPublisher{id: "msg-1"}
	var events []recordedEvent
	svc := newTestDocumentService(t, &stubGenerator{}, pub, &events)

	receipt, err := svc.Enqueue(context.Background(), GenerateDocumentCommand{SubjectID: "uid-1", InvestmentID: "inv-1", TemplateKey: "wealth-protection"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if receipt.JobID != "dj_01hzx" || receipt.MessageID != "msg-1" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if len(pub.jobs) != 1 || pub.jobs[0].SubjectID != "uid-1" || pub.jobs[0].InvestmentID != "inv-1" {
		t.Fatalf("unexpected published jobs %+v", pub.jobs)
	}
	if len(events) != 1 || events[0].name != documentEventQueued {
		t.Fatalf("expected queued event, got %+v", events)
	}
}

func TestDocumentServiceEnqueueChecksOwnership(t *testing.T) {
	pub := &stubPublisher{id: "msg-1"}
	svc := newTestDocumentService(t, &stubGenerator{}, pub, nil)

	for _, id := range []string{"inv-2", "inv-404"} {
		_, err := svc.Enqueue(context.Background(), GenerateDocumentCommand{SubjectID: "uid-1", InvestmentID: id, TemplateKey: "wealth-protection"})
		if !errors.Is(err, ErrDocumentNotFound) {
			t.Fatalf("%s: expected ErrDocumentNotFound, got %v", id, err)
		}
	}
	if len(pub.jobs) != 0 {
		t.Fatalf("expected nothing published")
	}
}

func TestDocumentServiceEnqueueWithoutPublisher(t *testing.T) {
	svc := newTestDocumentService(t, &stubGenerator{}, nil, nil)
	_, err := svc.Enqueue(context.Background(), GenerateDocumentCommand{SubjectID: "uid-1", InvestmentID: "inv-1", TemplateKey: "wealth-protection"})
	if !errors.Is(err, ErrDocumentQueueUnavailable) {
		t.Fatalf("expected ErrDocumentQueueUnavailable, got %v", err)
	}
}

func TestDocumentServiceEnqueuePublishFailure(t *testing.T) {
	pub := &stubPublisher{err: errors.New("pubsub down")}
	svc := newTestDocumentService(t, &stubGenerator{}, pub, nil)
	if _, err := svc.Enqueue(context.Background(), GenerateDocumentCommand{SubjectID: "uid-1", InvestmentID: "inv-1", TemplateKey: "wealth-protection"}); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestDocumentServiceRunJob(t *testing.T) {
	gen := &stubGenerator{result: documents.GenerationResult{Address: "https://files.test/a.pdf"}}
	var events []recordedEvent
	svc := newTestDocumentService(t, gen, nil, &events)

	if _, err := svc.RunJob(context.Background(), GenerationJob{SubjectID: "uid-1", InvestmentID: "inv-1", TemplateKey: "wealth-protection"}); !errors.Is(err, ErrDocumentInvalidInput) {
		t.Fatalf("expected missing job id to be rejected, got %v", err)
	}

	out, err := svc.RunJob(context.Background(), GenerationJob{JobID: "dj_1", SubjectID: "uid-1", InvestmentID: "inv-1", TemplateKey: "wealth-protection"})
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if out.DocumentURL != "https://files.test/a.pdf" {
		t.Fatalf("unexpected output %+v", out)
	}
	if len(events) != 1 || events[0].fields["jobId"] != "dj_1" {
		t.Fatalf("expected job id in event, got %+v", events)
	}
}
