package documents

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/kapitalwerk/contract-api/internal/domain"
)

type engineFixture struct {
	store    *fakeStore
	source   *fakeSource
	sink     *fakeSink
	forms    []*fakeForm
	fields   []FormField
	gen      *Generator
	openErr  error
	flattenE error
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store: &fakeStore{
			subjects: map[string]domain.Subject{
				"user-1": sampleIndividual(),
				"org-1":  sampleOrganization(),
			},
			investments: map[string]domain.Investment{
				"inv-1": sampleInvestment("user-1"),
				"inv-2": {ID: "inv-2", SubjectID: "org-1", AmountMinor: 5000000, Currency: domain.CurrencyEUR},
			},
		},
		source: &fakeSource{objects: map[string][]byte{
			"tpl/templates/wealth-protection.pdf": []byte("%PDF-template"),
		}},
		sink:   &fakeSink{},
		fields: wealthFormFields(),
	}

	cat := testCatalogue(t)
	resolver, err := NewTemplateResolver(f.source, cat, WithDefaultBucket("tpl"))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	persister, err := NewDocumentPersister(f.sink, f.store, "docs")
	if err != nil {
		t.Fatalf("new persister: %v", err)
	}
	clockTimes := []time.Time{time.Date(2024, 6, 30, 9, 0, 0, 0, time.UTC)}
	f.gen, err = NewGenerator(GeneratorDeps{
		Subjects:    f.store,
		Investments: f.store,
		Catalogue:   cat,
		Resolver:    resolver,
		Opener: FormOpenerFunc(func(data []byte) (Form, error) {
			if f.openErr != nil {
				return nil, f.openErr
			}
			form := newFakeForm(f.fields...)
			form.flattenErr = f.flattenE
			f.forms = append(f.forms, form)
			return form, nil
		}),
		Persister: persister,
		Clock: func() time.Time {
			next := clockTimes[len(clockTimes)-1].Add(time.Second)
			clockTimes = append(clockTimes, next)
			return next
		},
	})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	return f
}

func (f *engineFixture) generate(t *testing.T, req GenerateRequest) (GenerationResult, error) {
	t.Helper()
	if req.TemplateKey == "" {
		req.TemplateKey = domain.TemplateKeyWealthProtection
	}
	return f.gen.Generate(context.Background(), req)
}

func TestGenerateHappyPath(t *testing.T) {
	f := newEngineFixture(t)
	res, err := f.generate(t, GenerateRequest{
		SubjectID:     "user-1",
		TransactionID: "inv-1",
		Signature:     &SignaturePayload{DataURI: signatureDataURI(t)},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Address == "" || !res.SignatureEmbedded {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, stage := range []Stage{StageTemplateResolved, StageFormOpened, StageFieldsPopulated, StageSignatureEmbedded, StageFlattened, StagePersisted} {
		if !res.Report.Reached(stage) {
			t.Fatalf("expected stage %s in %v", stage, res.Report.Stages)
		}
	}
	if !f.forms[0].flattened {
		t.Fatalf("expected form to be flattened")
	}
	doc := f.store.investments["inv-1"].Document
	if doc == nil || doc.URL != res.Address || !doc.SignatureProvided || doc.TemplateKey != domain.TemplateKeyWealthProtection {
		t.Fatalf("unexpected document pointer %+v", doc)
	}
	if res.Report.TemplateLocation != "gs://tpl/templates/wealth-protection.pdf" {
		t.Fatalf("unexpected template location %s", res.Report.TemplateLocation)
	}
}

func TestGenerateMalformedSignatureStillCompletes(t *testing.T) {
	f := newEngineFixture(t)
	res, err := f.generate(t, GenerateRequest{
		SubjectID:     "user-1",
		TransactionID: "inv-1",
		Signature:     &SignaturePayload{DataURI: "data:image/png;base64,not-an-image"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.SignatureEmbedded {
		t.Fatalf("expected signatureEmbedded false")
	}
	if res.Address == "" || !res.Report.Reached(StagePersisted) {
		t.Fatalf("expected addressable document, got %+v", res)
	}
	if !res.Report.SignatureProvided || res.Report.SignatureError == "" {
		t.Fatalf("expected signature failure in report, got %+v", res.Report)
	}
	if doc := f.store.investments["inv-1"].Document; doc == nil || doc.SignatureProvided {
		t.Fatalf("signature must not be recorded, got %+v", doc)
	}
}

func TestGenerateTwiceKeepsLatestPointer(t *testing.T) {
	f := newEngineFixture(t)
	first, err := f.generate(t, GenerateRequest{SubjectID: "user-1", TransactionID: "inv-1"})
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	second, err := f.generate(t, GenerateRequest{SubjectID: "user-1", TransactionID: "inv-1"})
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if first.Address == second.Address {
		t.Fatalf("expected distinct addresses, got %s twice", first.Address)
	}
	if got := f.store.investments["inv-1"].Document.URL; got != second.Address {
		t.Fatalf("expected pointer %s, got %s", second.Address, got)
	}
	if len(f.sink.objects) != 2 {
		t.Fatalf("expected two stored documents, got %d", len(f.sink.objects))
	}
}

func TestGenerateFlattenFailureIsRecovered(t *testing.T) {
	f := newEngineFixture(t)
	f.flattenE = errBoom
	res, err := f.generate(t, GenerateRequest{SubjectID: "user-1", TransactionID: "inv-1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Report.Flattened || res.Report.FlattenError == "" {
		t.Fatalf("expected flatten failure in report, got %+v", res.Report)
	}
	if res.Report.Reached(StageFlattened) || !res.Report.Reached(StagePersisted) {
		t.Fatalf("unexpected stages %v", res.Report.Stages)
	}
}

func TestGenerateOrganization(t *testing.T) {
	f := newEngineFixture(t)
	f.fields = append(textFields("Firma", "Betrag"), FormField{Name: "Geschäftsführer", Kind: FieldKindCheckbox})
	res, err := f.generate(t, GenerateRequest{SubjectID: "org-1", TransactionID: "inv-2"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if f.forms[0].text["Betrag"] != "50.000,00" {
		t.Fatalf("unexpected amount %q", f.forms[0].text["Betrag"])
	}
	if len(res.Report.FieldsChecked) != 1 {
		t.Fatalf("expected checkbox in report, got %v", res.Report.FieldsChecked)
	}
}

func TestGenerateFatalErrors(t *testing.T) {
	cases := []struct {
		name    string
		req     GenerateRequest
		prepare func(*engineFixture)
		want    error
	}{
		{name: "unknown subject", req: GenerateRequest{SubjectID: "nobody", TransactionID: "inv-1"}, want: ErrSubjectNotFound},
		{name: "unknown transaction", req: GenerateRequest{SubjectID: "user-1", TransactionID: "inv-9"}, want: ErrTransactionNotFound},
		{name: "foreign transaction", req: GenerateRequest{SubjectID: "user-1", TransactionID: "inv-2"}, want: ErrTransactionNotOwned},
		{name: "unknown template", req: GenerateRequest{TemplateKey: "gold", SubjectID: "user-1", TransactionID: "inv-1"}, want: ErrUnknownTemplate},
		{
			name: "template missing",
			req:  GenerateRequest{SubjectID: "user-1", TransactionID: "inv-1"},
			prepare: func(f *engineFixture) {
				f.source.objects = map[string][]byte{}
			},
			want: ErrTemplateNotFound,
		},
		{
			name:    "template unreadable",
			req:     GenerateRequest{SubjectID: "user-1", TransactionID: "inv-1"},
			prepare: func(f *engineFixture) { f.openErr = errBoom },
			want:    ErrTemplateUnreadable,
		},
		{
			name:    "upload fails",
			req:     GenerateRequest{SubjectID: "user-1", TransactionID: "inv-1"},
			prepare: func(f *engineFixture) { f.sink.err = errBoom },
			want:    ErrPersistFailure,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newEngineFixture(t)
			if tc.prepare != nil {
				tc.prepare(f)
			}
			res, err := f.generate(t, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if res.Address != "" {
				t.Fatalf("expected no address, got %s", res.Address)
			}
			if len(f.sink.objects) != 0 {
				t.Fatalf("expected nothing stored")
			}
		})
	}
}

func TestGenerateRecordFailureReturnsAddress(t *testing.T) {
	f := newEngineFixture(t)
	f.store.recordErr = errBoom
	res, err := f.generate(t, GenerateRequest{SubjectID: "user-1", TransactionID: "inv-1"})
	var persistErr *PersistError
	if !errors.As(err, &persistErr) || persistErr.Stage != PersistStageRecord {
		t.Fatalf("expected record PersistError, got %v", err)
	}
	if res.Address == "" {
		t.Fatalf("expected address alongside record failure")
	}
	if res.Report.Reached(StagePersisted) {
		t.Fatalf("persisted stage must not be reached on record failure")
	}
}

func TestNewGeneratorValidatesDeps(t *testing.T) {
	if _, err := NewGenerator(GeneratorDeps{}); err == nil {
		t.Fatalf("expected error for missing deps")
	}
}
