package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/kapitalwerk/contract-api/internal/domain"
	pfirestore "github.com/kapitalwerk/contract-api/internal/platform/firestore"
	"github.com/kapitalwerk/contract-api/internal/repositories"
)

const investmentCollection = "investments"

// InvestmentRepository reads investments and records their contract document pointer.
type InvestmentRepository struct {
	provider    *pfirestore.Provider
	investments *pfirestore.Collection[investmentDocument]
	clock       func() time.Time
}

var _ repositories.InvestmentRepository = (*InvestmentRepository)(nil)

// InvestmentRepositoryOption customises the repository.
type InvestmentRepositoryOption func(*InvestmentRepository)

// WithInvestmentClock overrides the clock stamping updatedAt.
func WithInvestmentClock(clock func() time.Time) InvestmentRepositoryOption {
	return func(r *InvestmentRepository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewInvestmentRepository constructs a Firestore-backed investment repository.
func NewInvestmentRepository(provider *pfirestore.Provider, opts ...InvestmentRepositoryOption) (*InvestmentRepository, error) {
	if provider == nil {
		return nil, errors.New("investment repository requires firestore provider")
	}
	repo := &InvestmentRepository{
		provider:    provider,
		investments: pfirestore.NewCollection[investmentDocument](provider, investmentCollection, nil),
		clock:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// FindInvestment loads the investment stored under investmentID.
func (r *InvestmentRepository) FindInvestment(ctx context.Context, investmentID string) (domain.Investment, error) {
	if r == nil || r.investments == nil {
		return domain.Investment{}, errors.New("investment repository not initialised")
	}
	if strings.TrimSpace(investmentID) == "" {
		return domain.Investment{}, errors.New("investment id is required")
	}
	doc, err := r.investments.Get(ctx, investmentID)
	if err != nil {
		return domain.Investment{}, err
	}
	inv := toDomainInvestment(doc.ID, doc.Data)
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = doc.CreateTime
	}
	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = doc.UpdateTime
	}
	return inv, nil
}

// RecordDocument replaces the document pointer of an existing investment.
func (r *InvestmentRepository) RecordDocument(ctx context.Context, investmentID string, pointer domain.DocumentPointer) error {
	if r == nil || r.investments == nil {
		return errors.New("investment repository not initialised")
	}
	if strings.TrimSpace(pointer.URL) == "" {
		return errors.New("document url is required")
	}
	ref, err := r.investments.Doc(ctx, investmentID)
	if err != nil {
		return err
	}
	now := r.clock().UTC()
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := r.investments.GetTx(tx, ref); err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "document", Value: fromDomainPointer(pointer)},
			{Path: "updatedAt", Value: now},
		})
	})
}

type moneyDocument struct {
	AmountMinor int64  `firestore:"amountMinor"`
	Currency    string `firestore:"currency"`
}

type documentPointerDocument struct {
	URL                 string     `firestore:"url"`
	Path                string     `firestore:"path"`
	TemplateKey         string     `firestore:"templateKey,omitempty"`
	GeneratedAt         time.Time  `firestore:"generatedAt"`
	SignatureProvided   bool       `firestore:"signatureProvided"`
	SignatureProvidedAt *time.Time `firestore:"signatureProvidedAt,omitempty"`
}

type investmentDocument struct {
	SubjectID  string                   `firestore:"subjectId"`
	ProductKey string                   `firestore:"productKey"`
	Amount     moneyDocument            `firestore:"amount"`
	Document   *documentPointerDocument `firestore:"document,omitempty"`
	CreatedAt  time.Time                `firestore:"createdAt"`
	UpdatedAt  time.Time                `firestore:"updatedAt"`
}

func toDomainInvestment(id string, doc investmentDocument) domain.Investment {
	currency := strings.ToUpper(strings.TrimSpace(doc.Amount.Currency))
	if currency == "" {
		currency = domain.CurrencyEUR
	}
	inv := domain.Investment{
		ID:          id,
		SubjectID:   strings.TrimSpace(doc.SubjectID),
		ProductKey:  strings.TrimSpace(doc.ProductKey),
		AmountMinor: doc.Amount.AmountMinor,
		Currency:    currency,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	if doc.Document != nil {
		inv.Document = &domain.DocumentPointer{
			URL:                 doc.Document.URL,
			Path:                doc.Document.Path,
			TemplateKey:         domain.TemplateKey(doc.Document.TemplateKey),
			GeneratedAt:         doc.Document.GeneratedAt,
			SignatureProvided:   doc.Document.SignatureProvided,
			SignatureProvidedAt: doc.Document.SignatureProvidedAt,
		}
	}
	return inv
}

func fromDomainPointer(pointer domain.DocumentPointer) documentPointerDocument {
	doc := documentPointerDocument{
		URL:               pointer.URL,
		Path:              pointer.Path,
		TemplateKey:       string(pointer.TemplateKey),
		GeneratedAt:       pointer.GeneratedAt.UTC(),
		SignatureProvided: pointer.SignatureProvided,
	}
	if pointer.SignatureProvidedAt != nil {
		at := pointer.SignatureProvidedAt.UTC()
		doc.SignatureProvidedAt = &at
	}
	return doc
}
