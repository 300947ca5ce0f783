package documents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/kapitalwerk/contract-api/internal/domain"
	"github.com/kapitalwerk/contract-api/internal/platform/textutil"
)

// FieldLookup is the typed result of resolving an attribute against the form catalogue.
// Found is false when none of the candidate names exists with the expected kind.
type FieldLookup struct {
	Attribute Attribute
	Name      string
	Found     bool
	Fallback  bool
}

// FieldFailure records a field that exists but could not be written.
type FieldFailure struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// MappingOutcome aggregates what a fill pass did.
type MappingOutcome struct {
	Set            []string
	Checked        []string
	Missing        []Attribute
	Failed         []FieldFailure
	AmountField    string
	AmountFallback bool
}

// fieldCatalogue indexes the fields of an opened form, preserving the order the
// FormOpener reported them in.
type fieldCatalogue struct {
	ordered []FormField
	byName  map[string]FormField
	folded  map[string]FormField
}

func newFieldCatalogue(fields []FormField) fieldCatalogue {
	cat := fieldCatalogue{
		ordered: fields,
		byName:  make(map[string]FormField, len(fields)),
		folded:  make(map[string]FormField, len(fields)),
	}
	for _, field := range fields {
		if _, exists := cat.byName[field.Name]; !exists {
			cat.byName[field.Name] = field
		}
		key := foldName(field.Name)
		if _, exists := cat.folded[key]; !exists {
			cat.folded[key] = field
		}
	}
	return cat
}

// lookup returns the first candidate present with the given kind. Exact names are
// preferred over case and whitespace insensitive matches.
func (c fieldCatalogue) lookup(attr Attribute, kind FieldKind, candidates []string) FieldLookup {
	for _, name := range candidates {
		if field, ok := c.byName[name]; ok && field.Kind == kind {
			return FieldLookup{Attribute: attr, Name: field.Name, Found: true}
		}
	}
	for _, name := range candidates {
		if field, ok := c.folded[foldName(name)]; ok && field.Kind == kind {
			return FieldLookup{Attribute: attr, Name: field.Name, Found: true}
		}
	}
	return FieldLookup{Attribute: attr}
}

// search returns the first text field, in catalogue order as defined by the FormOpener,
// whose name contains one of the tokens.
func (c fieldCatalogue) search(attr Attribute, tokens []string) FieldLookup {
	for _, field := range c.ordered {
		if field.Kind != FieldKindText {
			continue
		}
		name := strings.ToLower(field.Name)
		for _, token := range tokens {
			token = strings.ToLower(strings.TrimSpace(token))
			if token != "" && strings.Contains(name, token) {
				return FieldLookup{Attribute: attr, Name: field.Name, Found: true, Fallback: true}
			}
		}
	}
	return FieldLookup{Attribute: attr}
}

func foldName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// FieldMapper writes subject and investment data into a form according to a profile.
type FieldMapper struct {
	speller  Speller
	printer  *message.Printer
	location *time.Location
	logger   Logger
}

// MapperOption customises a FieldMapper.
type MapperOption func(*FieldMapper)

// WithMapperLocale selects the amount speller and number formatting.
func WithMapperLocale(tag language.Tag) MapperOption {
	return func(m *FieldMapper) {
		if speller, ok := SpellerFor(tag); ok {
			m.speller = speller
			m.printer = message.NewPrinter(tag)
		}
	}
}

// WithMapperLocation sets the time zone the place-and-date line is rendered in.
func WithMapperLocation(loc *time.Location) MapperOption {
	return func(m *FieldMapper) {
		if loc != nil {
			m.location = loc
		}
	}
}

// WithMapperLogger sets the event logger.
func WithMapperLogger(logger Logger) MapperOption {
	return func(m *FieldMapper) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewFieldMapper constructs a mapper defaulting to German.
func NewFieldMapper(opts ...MapperOption) *FieldMapper {
	m := &FieldMapper{
		speller:  SpellGerman,
		printer:  message.NewPrinter(language.German),
		location: time.UTC,
		logger:   nopLogger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Apply fills the form. No individual field aborts the fill; problems are reported in
// the outcome.
func (m *FieldMapper) Apply(ctx context.Context, form Form, profile TemplateProfile, subject domain.Subject, inv domain.Investment, now time.Time) MappingOutcome {
	var out MappingOutcome
	cat := newFieldCatalogue(form.Fields())
	values := m.attributeValues(subject, inv, now)

	for _, rule := range profile.Rules(subject.Kind) {
		value, ok := values[rule.Attribute]
		if !ok || value == "" {
			continue
		}
		m.setText(ctx, form, cat.lookup(rule.Attribute, FieldKindText, rule.Fields), value, profile.Key, &out)
	}

	m.applyAmount(ctx, form, cat, profile, inv, &out)

	for _, rule := range profile.Checkboxes {
		if rule.Attribute != AttrManagingDirector || !actsAsManagingDirector(subject) {
			continue
		}
		lookup := cat.lookup(rule.Attribute, FieldKindCheckbox, rule.Fields)
		if !lookup.Found {
			m.missing(ctx, profile.Key, rule.Attribute, &out)
			continue
		}
		if err := form.Check(lookup.Name); err != nil {
			m.failed(ctx, profile.Key, lookup.Name, err, &out)
			continue
		}
		out.Checked = append(out.Checked, lookup.Name)
	}

	return out
}

func (m *FieldMapper) applyAmount(ctx context.Context, form Form, cat fieldCatalogue, profile TemplateProfile, inv domain.Investment, out *MappingOutcome) {
	lookup := cat.lookup(AttrAmount, FieldKindText, profile.Amount.Figures)
	if !lookup.Found {
		lookup = cat.search(AttrAmount, profile.Amount.FallbackTokens)
	}
	if lookup.Found {
		if m.setText(ctx, form, lookup, m.amountFigures(inv), profile.Key, out) {
			out.AmountField = lookup.Name
			out.AmountFallback = lookup.Fallback
			if lookup.Fallback {
				m.logger(ctx, "fields.amount_fallback", map[string]any{
					"templateKey": string(profile.Key),
					"field":       lookup.Name,
				})
			}
		}
	} else {
		m.logger(ctx, "fields.amount_ambiguous", map[string]any{
			"templateKey": string(profile.Key),
			"candidates":  profile.Amount.Figures,
		})
		out.Missing = append(out.Missing, AttrAmount)
	}

	if len(profile.Amount.Words) > 0 {
		m.setText(ctx, form, cat.lookup(AttrAmountWords, FieldKindText, profile.Amount.Words), m.amountWords(inv), profile.Key, out)
	}
}

func (m *FieldMapper) setText(ctx context.Context, form Form, lookup FieldLookup, value string, key domain.TemplateKey, out *MappingOutcome) bool {
	if !lookup.Found {
		m.missing(ctx, key, lookup.Attribute, out)
		return false
	}
	if err := form.SetText(lookup.Name, value); err != nil {
		m.failed(ctx, key, lookup.Name, err, out)
		return false
	}
	out.Set = append(out.Set, lookup.Name)
	return true
}

func (m *FieldMapper) missing(ctx context.Context, key domain.TemplateKey, attr Attribute, out *MappingOutcome) {
	out.Missing = append(out.Missing, attr)
	m.logger(ctx, "fields.not_present", map[string]any{
		"templateKey": string(key),
		"attribute":   string(attr),
	})
}

func (m *FieldMapper) failed(ctx context.Context, key domain.TemplateKey, field string, err error, out *MappingOutcome) {
	out.Failed = append(out.Failed, FieldFailure{Field: field, Error: err.Error()})
	m.logger(ctx, "fields.set_failed", map[string]any{
		"templateKey": string(key),
		"field":       field,
		"error":       err.Error(),
	})
}

// amountFigures renders the amount with locale grouping, e.g. "10.000,00".
func (m *FieldMapper) amountFigures(inv domain.Investment) string {
	return fmt.Sprintf("%s,%02d", m.printer.Sprintf("%d", inv.WholeEuros()), inv.Cents())
}

// amountWords renders the amount in words, e.g. "zehntausend Euro und fünfzig Cent".
func (m *FieldMapper) amountWords(inv domain.Investment) string {
	words := m.speller(inv.WholeEuros()) + " Euro"
	if cents := inv.Cents(); cents > 0 {
		words += " und " + m.speller(cents) + " Cent"
	}
	return words
}

func (m *FieldMapper) attributeValues(subject domain.Subject, inv domain.Investment, now time.Time) map[Attribute]string {
	addr := subject.Address()
	street, number := SplitStreet(addressPart(addr.Street), addressPart(addr.HouseNumber))
	values := map[Attribute]string{
		AttrAddress:        FormatAddress(addr),
		AttrStreet:         joinNonEmpty(" ", street, number),
		AttrPostalCodeCity: joinNonEmpty(" ", addressPart(addr.PostalCode), addressPart(addr.City)),
		AttrCountry:        addressPart(addr.Country),
		AttrPlaceAndDate:   FormatPlaceAndDate(addressPart(addr.City), now.In(m.location)),
		AttrInvestmentID:   inv.ID,
	}

	switch {
	case subject.Individual != nil:
		p := subject.Individual
		values[AttrFirstName] = p.FirstName
		values[AttrLastName] = p.LastName
		values[AttrFullName] = p.FullName()
		values[AttrDateOfBirth] = FormatDate(p.DateOfBirth)
		values[AttrBirthPlace] = p.BirthPlace
		values[AttrNationality] = p.Nationality
		values[AttrPhone] = p.Phone
		values[AttrEmail] = p.Email
	case subject.Organization != nil:
		o := subject.Organization
		values[AttrLegalName] = o.LegalName
		values[AttrFullName] = o.LegalName
		values[AttrLegalForm] = o.LegalForm
		values[AttrRegistrationNumber] = o.RegistrationNumber
		values[AttrRepresentative] = o.RepresentativeName
		values[AttrPhone] = o.Phone
		values[AttrEmail] = o.Email
	}

	for attr, value := range values {
		values[attr] = textutil.PlainText(value)
	}
	return values
}

func actsAsManagingDirector(subject domain.Subject) bool {
	return subject.Organization != nil && subject.Organization.RepresentativeIsManagingDirector
}
