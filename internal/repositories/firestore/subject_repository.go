package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/kapitalwerk/contract-api/internal/domain"
	pfirestore "github.com/kapitalwerk/contract-api/internal/platform/firestore"
	"github.com/kapitalwerk/contract-api/internal/repositories"
)

const subjectCollection = "investorProfiles"

// SubjectRepository reads investor profiles from Firestore.
type SubjectRepository struct {
	profiles *pfirestore.Collection[subjectDocument]
}

var _ repositories.SubjectRepository = (*SubjectRepository)(nil)

// NewSubjectRepository constructs a Firestore-backed subject repository.
func NewSubjectRepository(provider *pfirestore.Provider) (*SubjectRepository, error) {
	if provider == nil {
		return nil, errors.New("subject repository requires firestore provider")
	}
	return &SubjectRepository{
		profiles: pfirestore.NewCollection[subjectDocument](provider, subjectCollection, nil),
	}, nil
}

// FindSubject loads the investor profile stored under subjectID.
func (r *SubjectRepository) FindSubject(ctx context.Context, subjectID string) (domain.Subject, error) {
	if r == nil || r.profiles == nil {
		return domain.Subject{}, errors.New("subject repository not initialised")
	}
	if strings.TrimSpace(subjectID) == "" {
		return domain.Subject{}, errors.New("subject id is required")
	}

	doc, err := r.profiles.Get(ctx, subjectID)
	if err != nil {
		return domain.Subject{}, err
	}
	subject, err := toDomainSubject(doc.ID, doc.Data)
	if err != nil {
		return domain.Subject{}, err
	}
	if subject.UpdatedAt.IsZero() {
		subject.UpdatedAt = doc.UpdateTime
	}
	return subject, nil
}

type subjectDocument struct {
	Kind         string                `firestore:"kind"`
	Individual   *individualDocument   `firestore:"individual,omitempty"`
	Organization *organizationDocument `firestore:"organization,omitempty"`
	UpdatedAt    time.Time             `firestore:"updatedAt"`
}

type addressDocument struct {
	Street      string `firestore:"street"`
	HouseNumber string `firestore:"houseNumber,omitempty"`
	PostalCode  string `firestore:"postalCode"`
	City        string `firestore:"city"`
	Country     string `firestore:"country"`
}

type individualDocument struct {
	FirstName   string          `firestore:"firstName"`
	LastName    string          `firestore:"lastName"`
	DateOfBirth string          `firestore:"dateOfBirth"`
	BirthPlace  string          `firestore:"birthPlace,omitempty"`
	Nationality string          `firestore:"nationality,omitempty"`
	Phone       string          `firestore:"phone,omitempty"`
	Email       string          `firestore:"email,omitempty"`
	Address     addressDocument `firestore:"address"`
}

type representativeDocument struct {
	Name               string `firestore:"name"`
	IsManagingDirector bool   `firestore:"isManagingDirector"`
}

type organizationDocument struct {
	LegalName          string                 `firestore:"legalName"`
	LegalForm          string                 `firestore:"legalForm,omitempty"`
	RegistrationNumber string                 `firestore:"registrationNumber,omitempty"`
	Representative     representativeDocument `firestore:"representative"`
	Phone              string                 `firestore:"phone,omitempty"`
	Email              string                 `firestore:"email,omitempty"`
	Address            addressDocument        `firestore:"address"`
}

// toDomainSubject maps a stored profile. Profiles written before the kind field existed
// are classified by the variant they carry.
func toDomainSubject(id string, doc subjectDocument) (domain.Subject, error) {
	subject := domain.Subject{
		ID:        id,
		Kind:      domain.SubjectKind(strings.ToLower(strings.TrimSpace(doc.Kind))),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
	if subject.Kind == "" {
		switch {
		case doc.Individual != nil && doc.Organization == nil:
			subject.Kind = domain.SubjectKindIndividual
		case doc.Organization != nil && doc.Individual == nil:
			subject.Kind = domain.SubjectKindOrganization
		}
	}

	switch subject.Kind {
	case domain.SubjectKindIndividual:
		if doc.Individual != nil {
			subject.Individual = &domain.Individual{
				FirstName:   doc.Individual.FirstName,
				LastName:    doc.Individual.LastName,
				DateOfBirth: doc.Individual.DateOfBirth,
				BirthPlace:  doc.Individual.BirthPlace,
				Nationality: doc.Individual.Nationality,
				Phone:       doc.Individual.Phone,
				Email:       doc.Individual.Email,
				Address:     toDomainAddress(doc.Individual.Address),
			}
		}
	case domain.SubjectKindOrganization:
		if doc.Organization != nil {
			subject.Organization = &domain.Organization{
				LegalName:                        doc.Organization.LegalName,
				LegalForm:                        doc.Organization.LegalForm,
				RegistrationNumber:               doc.Organization.RegistrationNumber,
				RepresentativeName:               doc.Organization.Representative.Name,
				RepresentativeIsManagingDirector: doc.Organization.Representative.IsManagingDirector,
				Phone:                            doc.Organization.Phone,
				Email:                            doc.Organization.Email,
				Address:                          toDomainAddress(doc.Organization.Address),
			}
		}
	}

	if err := subject.Validate(); err != nil {
		return domain.Subject{}, fmt.Errorf("investor profile %s: %w", id, err)
	}
	return subject, nil
}

func toDomainAddress(doc addressDocument) domain.PostalAddress {
	return domain.PostalAddress{
		Street:      doc.Street,
		HouseNumber: doc.HouseNumber,
		PostalCode:  doc.PostalCode,
		City:        doc.City,
		Country:     doc.Country,
	}
}
