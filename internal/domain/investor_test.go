package domain

import (
	"errors"
	"testing"
)

func TestSubjectValidate(t *testing.T) {
	cases := []struct {
		name    string
		subject Subject
		wantErr bool
	}{
		{name: "individual", subject: Subject{Kind: SubjectKindIndividual, Individual: &Individual{}}},
		{name: "organization", subject: Subject{Kind: SubjectKindOrganization, Organization: &Organization{}}},
		{name: "missing variant", subject: Subject{Kind: SubjectKindIndividual}, wantErr: true},
		{name: "both variants", subject: Subject{Kind: SubjectKindOrganization, Individual: &Individual{}, Organization: &Organization{}}, wantErr: true},
		{name: "unknown kind", subject: Subject{Kind: "trust", Individual: &Individual{}}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.subject.Validate()
			if tc.wantErr && !errors.Is(err, ErrSubjectVariant) {
				t.Fatalf("expected ErrSubjectVariant, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestIndividualFullName(t *testing.T) {
	if got := (Individual{FirstName: " Anna ", LastName: "Schmidt"}).FullName(); got != "Anna Schmidt" {
		t.Fatalf("expected Anna Schmidt, got %q", got)
	}
	if got := (Individual{LastName: "Schmidt"}).FullName(); got != "Schmidt" {
		t.Fatalf("expected Schmidt, got %q", got)
	}
}

func TestInvestmentAmountParts(t *testing.T) {
	inv := Investment{AmountMinor: 1234567}
	if inv.WholeEuros() != 12345 {
		t.Fatalf("expected 12345 euros, got %d", inv.WholeEuros())
	}
	if inv.Cents() != 67 {
		t.Fatalf("expected 67 cents, got %d", inv.Cents())
	}
}
