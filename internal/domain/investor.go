package domain

import (
	"errors"
	"strings"
	"time"
)

// SubjectKind distinguishes natural persons from legal entities.
type SubjectKind string

const (
	// SubjectKindIndividual marks a natural person investing on their own behalf.
	SubjectKindIndividual SubjectKind = "individual"
	// SubjectKindOrganization marks a legal entity represented by a natural person.
	SubjectKindOrganization SubjectKind = "organization"
)

// ErrSubjectVariant is returned when a subject does not carry exactly one populated variant.
var ErrSubjectVariant = errors.New("subject: exactly one of individual or organization must be set")

// PostalAddress is the address as captured during onboarding. Older records may carry the
// house number inside Street.
type PostalAddress struct {
	Street      string
	HouseNumber string
	PostalCode  string
	City        string
	Country     string
}

// Individual holds the personal data of a natural person.
type Individual struct {
	FirstName   string
	LastName    string
	DateOfBirth string
	BirthPlace  string
	Nationality string
	Phone       string
	Email       string
	Address     PostalAddress
}

// FullName joins first and last name with a single space.
func (i Individual) FullName() string {
	return strings.TrimSpace(strings.Join(nonEmpty(i.FirstName, i.LastName), " "))
}

// Organization holds the registry data of a legal entity and its representative.
type Organization struct {
	LegalName                        string
	LegalForm                        string
	RegistrationNumber               string
	RepresentativeName               string
	RepresentativeIsManagingDirector bool
	Phone                            string
	Email                            string
	Address                          PostalAddress
}

// Subject is the investor a document is generated for. Exactly one of Individual or
// Organization is populated and Kind names it.
type Subject struct {
	ID           string
	Kind         SubjectKind
	Individual   *Individual
	Organization *Organization
	UpdatedAt    time.Time
}

// Validate checks the tagged union is consistent.
func (s Subject) Validate() error {
	switch s.Kind {
	case SubjectKindIndividual:
		if s.Individual == nil || s.Organization != nil {
			return ErrSubjectVariant
		}
	case SubjectKindOrganization:
		if s.Organization == nil || s.Individual != nil {
			return ErrSubjectVariant
		}
	default:
		return ErrSubjectVariant
	}
	return nil
}

// Address returns the postal address of whichever variant is active.
func (s Subject) Address() PostalAddress {
	switch {
	case s.Individual != nil:
		return s.Individual.Address
	case s.Organization != nil:
		return s.Organization.Address
	default:
		return PostalAddress{}
	}
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
