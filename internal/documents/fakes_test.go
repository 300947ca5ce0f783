package documents

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	domain "github.com/kapitalwerk/contract-api/internal/domain"
)

type fakeForm struct {
	fields     []FormField
	text       map[string]string
	checked    map[string]bool
	images     []Placement
	flattened  bool
	flattenErr error
	drawErr    error
	setErr     map[string]error
}

func newFakeForm(fields ...FormField) *fakeForm {
	return &fakeForm{
		fields:  fields,
		text:    map[string]string{},
		checked: map[string]bool{},
		setErr:  map[string]error{},
	}
}

func textFields(names ...string) []FormField {
	out := make([]FormField, 0, len(names))
	for _, name := range names {
		out = append(out, FormField{Name: name, Kind: FieldKindText})
	}
	return out
}

func (f *fakeForm) Fields() []FormField { return f.fields }

func (f *fakeForm) SetText(name, value string) error {
	if err := f.setErr[name]; err != nil {
		return err
	}
	f.text[name] = value
	return nil
}

func (f *fakeForm) Check(name string) error {
	f.checked[name] = true
	return nil
}

func (f *fakeForm) DrawImage(_ Image, at Placement) error {
	if f.drawErr != nil {
		return f.drawErr
	}
	f.images = append(f.images, at)
	return nil
}

func (f *fakeForm) Flatten() error {
	if f.flattenErr != nil {
		return f.flattenErr
	}
	f.flattened = true
	return nil
}

func (f *fakeForm) Bytes() ([]byte, error) {
	return []byte(fmt.Sprintf("%%PDF-fake %d fields", len(f.text))), nil
}

type fakeSource struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failures map[string]error
	calls    []string
}

func (s *fakeSource) Fetch(_ context.Context, bucket, object string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bucket + "/" + object
	s.calls = append(s.calls, key)
	if err := s.failures[key]; err != nil {
		return nil, err
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	return data, nil
}

type fakeSink struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (s *fakeSink) Upsert(_ context.Context, bucket, object, contentType string, data []byte) error {
	if s.err != nil {
		return s.err
	}
	if contentType != pdfContentType {
		return fmt.Errorf("unexpected content type %s", contentType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[bucket+"/"+object] = data
	return nil
}

func (s *fakeSink) PublicURL(bucket, object string) string {
	return "https://files.test/" + bucket + "/" + object
}

type notFoundErr struct{}

func (notFoundErr) Error() string    { return "not found" }
func (notFoundErr) IsNotFound() bool { return true }

type fakeStore struct {
	mu          sync.Mutex
	subjects    map[string]domain.Subject
	investments map[string]domain.Investment
	recordErr   error
	records     []domain.DocumentPointer
}

func (s *fakeStore) FindSubject(_ context.Context, id string) (domain.Subject, error) {
	subject, ok := s.subjects[id]
	if !ok {
		return domain.Subject{}, notFoundErr{}
	}
	return subject, nil
}

func (s *fakeStore) FindInvestment(_ context.Context, id string) (domain.Investment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.investments[id]
	if !ok {
		return domain.Investment{}, notFoundErr{}
	}
	return inv, nil
}

func (s *fakeStore) RecordDocument(_ context.Context, id string, pointer domain.DocumentPointer) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.investments[id]
	if !ok {
		return notFoundErr{}
	}
	p := pointer
	inv.Document = &p
	s.investments[id] = inv
	s.records = append(s.records, pointer)
	return nil
}

var errBoom = errors.New("boom")

func sampleIndividual() domain.Subject {
	return domain.Subject{
		ID:   "user-1",
		Kind: domain.SubjectKindIndividual,
		Individual: &domain.Individual{
			FirstName:   "Anna",
			LastName:    "Schmidt",
			DateOfBirth: "1985-03-07",
			BirthPlace:  "Köln",
			Nationality: "deutsch",
			Phone:       "+49 30 1234567",
			Email:       "anna@example.com",
			Address: domain.PostalAddress{
				Street:     "Hauptstraße 5",
				PostalCode: "10115",
				City:       "Berlin",
				Country:    "Deutschland",
			},
		},
	}
}

func sampleOrganization() domain.Subject {
	return domain.Subject{
		ID:   "org-1",
		Kind: domain.SubjectKindOrganization,
		Organization: &domain.Organization{
			LegalName:                        "Muster Holding",
			LegalForm:                        "GmbH",
			RegistrationNumber:               "HRB 12345",
			RepresentativeName:               "Max Muster",
			RepresentativeIsManagingDirector: true,
			Email:                            "info@muster.example",
			Address: domain.PostalAddress{
				Street:      "Industriestraße",
				HouseNumber: "12",
				PostalCode:  "80331",
				City:        "München",
				Country:     "Deutschland",
			},
		},
	}
}

func sampleInvestment(subjectID string) domain.Investment {
	return domain.Investment{
		ID:          "inv-1",
		SubjectID:   subjectID,
		ProductKey:  "wealth-protection",
		AmountMinor: 1000000,
		Currency:    domain.CurrencyEUR,
	}
}

func testCatalogue(t *testing.T) *Catalogue {
	t.Helper()
	cat, err := DefaultCatalogue()
	if err != nil {
		t.Fatalf("load default catalogue: %v", err)
	}
	return cat
}

func testProfile(t *testing.T, key domain.TemplateKey) TemplateProfile {
	t.Helper()
	profile, ok := testCatalogue(t).Profile(key)
	if !ok {
		t.Fatalf("profile %s missing", key)
	}
	return profile
}

func signatureDataURI(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 300, 100))
	img.Set(10, 10, color.Black)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}
