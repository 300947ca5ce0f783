package documents

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	domain "github.com/kapitalwerk/contract-api/internal/domain"
)

//go:embed catalogue.yaml
var defaultCatalogue []byte

// Attribute names a logical piece of subject or transaction data written into a form.
type Attribute string

const (
	AttrFirstName          Attribute = "firstName"
	AttrLastName           Attribute = "lastName"
	AttrFullName           Attribute = "fullName"
	AttrDateOfBirth        Attribute = "dateOfBirth"
	AttrBirthPlace         Attribute = "birthPlace"
	AttrNationality        Attribute = "nationality"
	AttrAddress            Attribute = "address"
	AttrStreet             Attribute = "street"
	AttrPostalCodeCity     Attribute = "postalCodeCity"
	AttrCountry            Attribute = "country"
	AttrPhone              Attribute = "phone"
	AttrEmail              Attribute = "email"
	AttrLegalName          Attribute = "legalName"
	AttrLegalForm          Attribute = "legalForm"
	AttrRegistrationNumber Attribute = "registrationNumber"
	AttrRepresentative     Attribute = "representative"
	AttrPlaceAndDate       Attribute = "placeAndDate"
	AttrInvestmentID       Attribute = "investmentId"
	AttrAmount             Attribute = "amount"
	AttrAmountWords        Attribute = "amountWords"
	AttrManagingDirector   Attribute = "managingDirector"
)

var knownAttributes = map[Attribute]struct{}{
	AttrFirstName: {}, AttrLastName: {}, AttrFullName: {}, AttrDateOfBirth: {}, AttrBirthPlace: {},
	AttrNationality: {}, AttrAddress: {}, AttrStreet: {}, AttrPostalCodeCity: {}, AttrCountry: {},
	AttrPhone: {}, AttrEmail: {}, AttrLegalName: {}, AttrLegalForm: {}, AttrRegistrationNumber: {},
	AttrRepresentative: {}, AttrPlaceAndDate: {}, AttrInvestmentID: {},
}

// Location identifies a blob by bucket and object name. An empty bucket means the
// configured templates bucket.
type Location struct {
	Bucket string `yaml:"bucket"`
	Object string `yaml:"object"`
}

func (l Location) String() string {
	if l.Bucket == "" {
		return l.Object
	}
	return "gs://" + l.Bucket + "/" + l.Object
}

// FieldRule maps one logical attribute to its candidate field names, in priority order.
type FieldRule struct {
	Attribute Attribute `yaml:"attribute"`
	Fields    []string  `yaml:"fields"`
}

// AmountFields configures the amount fields. Figures is tried in order, then every form
// field whose name contains one of FallbackTokens (case-insensitive).
type AmountFields struct {
	Figures        []string `yaml:"figures"`
	Words          []string `yaml:"words"`
	FallbackTokens []string `yaml:"fallbackTokens"`
}

// SignatureAnchor positions the signature image on the first page.
type SignatureAnchor struct {
	Page         int     `yaml:"page"`
	Width        float64 `yaml:"width"`
	Height       float64 `yaml:"height"`
	BottomOffset float64 `yaml:"bottomOffset"`
}

// TemplateProfile is the immutable configuration of one product template.
type TemplateProfile struct {
	Key          domain.TemplateKey `yaml:"key"`
	DisplayName  string             `yaml:"displayName"`
	OutputPrefix string             `yaml:"outputPrefix"`
	Candidates   []Location         `yaml:"candidates"`
	Individual   []FieldRule        `yaml:"individual"`
	Organization []FieldRule        `yaml:"organization"`
	Checkboxes   []FieldRule        `yaml:"checkboxes"`
	Amount       AmountFields       `yaml:"amount"`
	Signature    SignatureAnchor    `yaml:"signature"`
}

// Rules returns the field table for the subject's kind.
func (p TemplateProfile) Rules(kind domain.SubjectKind) []FieldRule {
	if kind == domain.SubjectKindOrganization {
		return p.Organization
	}
	return p.Individual
}

func (p TemplateProfile) clone() TemplateProfile {
	out := p
	out.Candidates = append([]Location(nil), p.Candidates...)
	out.Individual = cloneRules(p.Individual)
	out.Organization = cloneRules(p.Organization)
	out.Checkboxes = cloneRules(p.Checkboxes)
	out.Amount.Figures = append([]string(nil), p.Amount.Figures...)
	out.Amount.Words = append([]string(nil), p.Amount.Words...)
	out.Amount.FallbackTokens = append([]string(nil), p.Amount.FallbackTokens...)
	return out
}

func cloneRules(rules []FieldRule) []FieldRule {
	out := make([]FieldRule, len(rules))
	for i, rule := range rules {
		out[i] = FieldRule{Attribute: rule.Attribute, Fields: append([]string(nil), rule.Fields...)}
	}
	return out
}

// Catalogue holds the template profiles known to the service.
type Catalogue struct {
	profiles map[domain.TemplateKey]TemplateProfile
}

type catalogueFile struct {
	Templates []TemplateProfile `yaml:"templates"`
}

// DefaultCatalogue returns the catalogue compiled into the binary.
func DefaultCatalogue() (*Catalogue, error) {
	return ParseCatalogue(bytes.NewReader(defaultCatalogue))
}

// LoadCatalogue reads a catalogue from a YAML file, or the built-in one when path is empty.
func LoadCatalogue(path string) (*Catalogue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultCatalogue()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalogue: open %s: %w", path, err)
	}
	defer f.Close()
	return ParseCatalogue(f)
}

// ParseCatalogue decodes and validates a YAML catalogue.
func ParseCatalogue(r io.Reader) (*Catalogue, error) {
	var file catalogueFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("catalogue: decode: %w", err)
	}
	if len(file.Templates) == 0 {
		return nil, errors.New("catalogue: no templates defined")
	}

	cat := &Catalogue{profiles: make(map[domain.TemplateKey]TemplateProfile, len(file.Templates))}
	for i, profile := range file.Templates {
		if err := validateProfile(profile); err != nil {
			return nil, fmt.Errorf("catalogue: template %d: %w", i, err)
		}
		if _, exists := cat.profiles[profile.Key]; exists {
			return nil, fmt.Errorf("catalogue: duplicate template key %q", profile.Key)
		}
		cat.profiles[profile.Key] = profile.clone()
	}
	return cat, nil
}

// Profile returns a copy of the profile registered under key.
func (c *Catalogue) Profile(key domain.TemplateKey) (TemplateProfile, bool) {
	if c == nil {
		return TemplateProfile{}, false
	}
	profile, ok := c.profiles[key]
	if !ok {
		return TemplateProfile{}, false
	}
	return profile.clone(), true
}

// Keys lists the registered template keys in lexical order.
func (c *Catalogue) Keys() []domain.TemplateKey {
	if c == nil {
		return nil
	}
	keys := make([]domain.TemplateKey, 0, len(c.profiles))
	for key := range c.profiles {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func validateProfile(p TemplateProfile) error {
	if strings.TrimSpace(string(p.Key)) == "" {
		return errors.New("key is required")
	}
	if strings.TrimSpace(p.OutputPrefix) == "" || strings.ContainsAny(p.OutputPrefix, "/ ") {
		return fmt.Errorf("%s: outputPrefix must be a non-empty slug", p.Key)
	}
	if len(p.Candidates) == 0 {
		return fmt.Errorf("%s: at least one candidate location is required", p.Key)
	}
	for _, loc := range p.Candidates {
		if strings.TrimSpace(loc.Object) == "" {
			return fmt.Errorf("%s: candidate object is required", p.Key)
		}
	}
	if len(p.Amount.Figures) == 0 {
		return fmt.Errorf("%s: amount.figures requires at least one field name", p.Key)
	}
	for _, table := range [][]FieldRule{p.Individual, p.Organization} {
		for _, rule := range table {
			if _, ok := knownAttributes[rule.Attribute]; !ok {
				return fmt.Errorf("%s: unknown attribute %q", p.Key, rule.Attribute)
			}
			if len(rule.Fields) == 0 {
				return fmt.Errorf("%s: attribute %q has no field names", p.Key, rule.Attribute)
			}
		}
	}
	for _, rule := range p.Checkboxes {
		if rule.Attribute != AttrManagingDirector {
			return fmt.Errorf("%s: unknown checkbox attribute %q", p.Key, rule.Attribute)
		}
	}
	if p.Signature.Page < 0 || p.Signature.Width <= 0 || p.Signature.Height <= 0 {
		return fmt.Errorf("%s: signature anchor requires a page and a positive box", p.Key)
	}
	return nil
}
