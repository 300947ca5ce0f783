package documents

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/kapitalwerk/contract-api/internal/domain"
)

func resolverCatalogue(t *testing.T, candidates string) *Catalogue {
	t.Helper()
	doc := `
templates:
  - key: test-product
    outputPrefix: test
    candidates:
` + candidates + `
    amount:
      figures: [Betrag]
    signature: {page: 0, width: 100, height: 40, bottomOffset: 50}
`
	cat, err := ParseCatalogue(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("parse catalogue: %v", err)
	}
	return cat
}

const fourCandidates = `      - object: templates/test.pdf
      - object: "templates/Test Vertrag.pdf"
      - object: "templates/Test 100%.pdf"
      - object: "templates/Test%20Vertrag.pdf"`

func TestResolverReturnsThirdCandidateWithoutProbingFourth(t *testing.T) {
	source := &fakeSource{objects: map[string][]byte{
		"tpl/templates/Test 100%.pdf":     []byte("third"),
		"tpl/templates/Test%20Vertrag.pdf": []byte("fourth"),
	}}
	resolver, err := NewTemplateResolver(source, resolverCatalogue(t, fourCandidates), WithDefaultBucket("tpl"))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	tmpl, err := resolver.Resolve(context.Background(), "test-product")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if string(tmpl.Data) != "third" {
		t.Fatalf("expected third template, got %q", tmpl.Data)
	}
	if tmpl.Location.Object != "templates/Test 100%.pdf" {
		t.Fatalf("unexpected location %v", tmpl.Location)
	}
	if len(source.calls) != 3 {
		t.Fatalf("expected 3 fetch attempts, got %v", source.calls)
	}
	for _, call := range source.calls {
		if strings.Contains(call, "Test%20Vertrag") {
			t.Fatalf("fourth candidate must not be attempted: %v", source.calls)
		}
	}
}

func TestResolverNotFoundListsAttempts(t *testing.T) {
	source := &fakeSource{failures: map[string]error{
		"tpl/templates/test.pdf": errBoom,
	}}
	resolver, err := NewTemplateResolver(source, resolverCatalogue(t, fourCandidates), WithDefaultBucket("tpl"))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	_, err = resolver.Resolve(context.Background(), "test-product")
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
	var notFound *TemplateNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected TemplateNotFoundError, got %T", err)
	}
	if len(notFound.Attempted) != 4 {
		t.Fatalf("expected 4 attempted locations, got %v", notFound.Attempted)
	}
	if notFound.Attempted[0].String() != "gs://tpl/templates/test.pdf" {
		t.Fatalf("unexpected first attempt %s", notFound.Attempted[0])
	}
}

func TestResolverKeepsExplicitBucket(t *testing.T) {
	candidates := `      - bucket: legacy-bucket
        object: old.pdf`
	source := &fakeSource{objects: map[string][]byte{"legacy-bucket/old.pdf": []byte("legacy")}}
	resolver, err := NewTemplateResolver(source, resolverCatalogue(t, candidates), WithDefaultBucket("tpl"))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	tmpl, err := resolver.Resolve(context.Background(), "test-product")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tmpl.Location.Bucket != "legacy-bucket" {
		t.Fatalf("expected legacy bucket, got %s", tmpl.Location.Bucket)
	}
}

func TestResolverParallelPrefersCanonicalCandidate(t *testing.T) {
	source := &fakeSource{objects: map[string][]byte{
		"tpl/templates/test.pdf":          []byte("canonical"),
		"tpl/templates/Test Vertrag.pdf":  []byte("legacy"),
		"tpl/templates/Test%20Vertrag.pdf": []byte("encoded"),
	}}
	resolver, err := NewTemplateResolver(source, resolverCatalogue(t, fourCandidates),
		WithDefaultBucket("tpl"), WithParallelProbe(true))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	for i := 0; i < 20; i++ {
		tmpl, err := resolver.Resolve(context.Background(), "test-product")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if string(tmpl.Data) != "canonical" {
			t.Fatalf("expected canonical template, got %q", tmpl.Data)
		}
	}
}

func TestResolverParallelFallsThroughInOrder(t *testing.T) {
	source := &fakeSource{objects: map[string][]byte{
		"tpl/templates/Test 100%.pdf":      []byte("third"),
		"tpl/templates/Test%20Vertrag.pdf": []byte("fourth"),
	}}
	resolver, err := NewTemplateResolver(source, resolverCatalogue(t, fourCandidates),
		WithDefaultBucket("tpl"), WithParallelProbe(true))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	tmpl, err := resolver.Resolve(context.Background(), "test-product")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if string(tmpl.Data) != "third" {
		t.Fatalf("expected third template, got %q", tmpl.Data)
	}
}

func TestResolverUnknownKey(t *testing.T) {
	resolver, err := NewTemplateResolver(&fakeSource{}, resolverCatalogue(t, fourCandidates))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	_, err = resolver.Resolve(context.Background(), domain.TemplateKey("missing"))
	if !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
}

func TestResolverTreatsEmptyPayloadAsFailure(t *testing.T) {
	source := &fakeSource{objects: map[string][]byte{
		"tpl/templates/test.pdf":         {},
		"tpl/templates/Test Vertrag.pdf": []byte("second"),
	}}
	resolver, err := NewTemplateResolver(source, resolverCatalogue(t, fourCandidates), WithDefaultBucket("tpl"))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	tmpl, err := resolver.Resolve(context.Background(), "test-product")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if string(tmpl.Data) != "second" {
		t.Fatalf("expected second template, got %q", tmpl.Data)
	}
}
