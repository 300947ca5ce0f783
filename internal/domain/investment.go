package domain

import "time"

// TemplateKey selects a product's document template and field tables.
type TemplateKey string

const (
	TemplateKeyWealthProtection        TemplateKey = "wealth-protection"
	TemplateKeyInflationProtectionPlus TemplateKey = "inflation-protection-plus"
)

// CurrencyEUR is the only currency subscriptions are booked in.
const CurrencyEUR = "EUR"

// Investment is a subscription made by a subject. Amounts are stored in euro cents.
type Investment struct {
	ID          string
	SubjectID   string
	ProductKey  string
	AmountMinor int64
	Currency    string
	Document    *DocumentPointer
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WholeEuros returns the amount truncated to whole euros.
func (i Investment) WholeEuros() int64 {
	return i.AmountMinor / 100
}

// Cents returns the sub-euro remainder of the amount.
func (i Investment) Cents() int64 {
	return i.AmountMinor % 100
}

// DocumentPointer references the most recently generated contract document.
type DocumentPointer struct {
	URL                 string
	Path                string
	TemplateKey         TemplateKey
	GeneratedAt         time.Time
	SignatureProvided   bool
	SignatureProvidedAt *time.Time
}
