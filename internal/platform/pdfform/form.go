// Package pdfform implements the form capability of the document engine on pdfcpu.
package pdfform

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/kapitalwerk/contract-api/internal/documents"
)

var errUnknownField = errors.New("pdfform: unknown field")

// formGroup mirrors the JSON exchanged by pdfcpu's form export and fill commands.
type formGroup struct {
	Forms []formData `json:"forms"`
}

type formData struct {
	TextFields []textField     `json:"textfield,omitempty"`
	DateFields []textField     `json:"datefield,omitempty"`
	CheckBoxes []checkBoxField `json:"checkbox,omitempty"`
	Radio      []namedField    `json:"radiobuttongroup,omitempty"`
	Combo      []namedField    `json:"combobox,omitempty"`
	List       []namedField    `json:"listbox,omitempty"`
}

type textField struct {
	Pages []int  `json:"pages,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value"`
}

type checkBoxField struct {
	Pages []int  `json:"pages,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Value bool   `json:"value"`
}

type namedField struct {
	Pages []int  `json:"pages,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
}

type fieldRef struct {
	id   string
	kind documents.FieldKind
}

// Opener opens PDF bytes as editable forms.
type Opener struct {
	conf func() *model.Configuration
}

// NewOpener constructs an Opener using pdfcpu's default configuration.
func NewOpener() *Opener {
	return &Opener{conf: model.NewDefaultConfiguration}
}

// Open parses the AcroForm field catalogue of data.
func (o *Opener) Open(data []byte) (documents.Form, error) {
	if len(data) == 0 {
		return nil, errors.New("pdfform: empty document")
	}
	var exported bytes.Buffer
	if err := api.ExportFormJSON(bytes.NewReader(data), &exported, "template", o.conf()); err != nil {
		return nil, fmt.Errorf("pdfform: read form fields: %w", err)
	}
	fields, refs, err := parseCatalogue(exported.Bytes())
	if err != nil {
		return nil, err
	}
	return &Form{
		data:   append([]byte(nil), data...),
		fields: fields,
		refs:   refs,
		conf:   o.conf,
	}, nil
}

// catalogueEntry is one exported field before ordering.
type catalogueEntry struct {
	page int
	id   []int
	ref  fieldRef
	name string
}

// parseCatalogue decodes a pdfcpu form export. pdfcpu walks each page's fields through
// a map, so the catalogue is sorted by page, then object id, then name.
func parseCatalogue(raw []byte) ([]documents.FormField, map[string]fieldRef, error) {
	var group formGroup
	if err := json.Unmarshal(raw, &group); err != nil {
		return nil, nil, fmt.Errorf("pdfform: decode form export: %w", err)
	}
	if len(group.Forms) == 0 {
		return nil, nil, errors.New("pdfform: document has no form")
	}

	var entries []catalogueEntry
	add := func(pages []int, id, name string, kind documents.FieldKind) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		entry := catalogueEntry{page: math.MaxInt, id: objectPath(id), ref: fieldRef{id: id, kind: kind}, name: name}
		if len(pages) > 0 {
			entry.page = slices.Min(pages)
		}
		entries = append(entries, entry)
	}
	for _, f := range group.Forms {
		for _, field := range f.TextFields {
			add(field.Pages, field.ID, field.Name, documents.FieldKindText)
		}
		for _, field := range f.CheckBoxes {
			add(field.Pages, field.ID, field.Name, documents.FieldKindCheckbox)
		}
		// date fields enforce their own format, so they are never written
		for _, field := range f.DateFields {
			add(field.Pages, field.ID, field.Name, documents.FieldKindOther)
		}
		for _, group := range [][]namedField{f.Radio, f.Combo, f.List} {
			for _, field := range group {
				add(field.Pages, field.ID, field.Name, documents.FieldKindOther)
			}
		}
	}
	slices.SortStableFunc(entries, func(a, b catalogueEntry) int {
		if c := cmp.Compare(a.page, b.page); c != 0 {
			return c
		}
		if c := slices.Compare(a.id, b.id); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})

	fields := make([]documents.FormField, 0, len(entries))
	refs := make(map[string]fieldRef, len(entries))
	for _, entry := range entries {
		if _, exists := refs[entry.name]; exists {
			continue
		}
		refs[entry.name] = entry.ref
		fields = append(fields, documents.FormField{Name: entry.name, Kind: entry.ref.kind})
	}
	return fields, refs, nil
}

// objectPath splits a pdfcpu field id such as "12" or "12.15" into object numbers.
// Unparseable parts sort after every numbered field.
func objectPath(id string) []int {
	parts := strings.Split(strings.TrimSpace(id), ".")
	path := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			n = math.MaxInt
		}
		path = append(path, n)
	}
	return path
}

// Form is a pdfcpu-backed editable document. Every mutation rewrites the in-memory
// document so that a failing field leaves earlier writes intact.
type Form struct {
	data   []byte
	fields []documents.FormField
	refs   map[string]fieldRef
	conf   func() *model.Configuration
}

// Fields returns the field catalogue ordered by page, then object id.
func (f *Form) Fields() []documents.FormField {
	return append([]documents.FormField(nil), f.fields...)
}

// SetText writes a text field value.
func (f *Form) SetText(name, value string) error {
	ref, ok := f.refs[name]
	if !ok || ref.kind != documents.FieldKindText {
		return fmt.Errorf("%w: %s", errUnknownField, name)
	}
	return f.fill(formData{TextFields: []textField{{ID: ref.id, Name: name, Value: value}}})
}

// Check ticks a checkbox.
func (f *Form) Check(name string) error {
	ref, ok := f.refs[name]
	if !ok || ref.kind != documents.FieldKindCheckbox {
		return fmt.Errorf("%w: %s", errUnknownField, name)
	}
	return f.fill(formData{CheckBoxes: []checkBoxField{{ID: ref.id, Name: name, Value: true}}})
}

func (f *Form) fill(data formData) error {
	payload, err := json.Marshal(formGroup{Forms: []formData{data}})
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := api.FillForm(bytes.NewReader(f.data), bytes.NewReader(payload), &out, f.conf()); err != nil {
		return fmt.Errorf("pdfform: fill: %w", err)
	}
	f.data = out.Bytes()
	return nil
}

// DrawImage stamps img onto the page described by at.
func (f *Form) DrawImage(img documents.Image, at documents.Placement) error {
	desc, err := watermarkDescription(img, at)
	if err != nil {
		return err
	}
	wm, err := api.ImageWatermarkForReader(bytes.NewReader(img.Data), desc, true, false, types.POINTS)
	if err != nil {
		return fmt.Errorf("pdfform: prepare image: %w", err)
	}
	var out bytes.Buffer
	pages := []string{strconv.Itoa(at.Page + 1)}
	if err := api.AddWatermarks(bytes.NewReader(f.data), &out, pages, wm, f.conf()); err != nil {
		return fmt.Errorf("pdfform: draw image: %w", err)
	}
	f.data = out.Bytes()
	return nil
}

// Flatten locks every field so the document can no longer be edited.
func (f *Form) Flatten() error {
	var out bytes.Buffer
	if err := api.LockFormFields(bytes.NewReader(f.data), &out, nil, f.conf()); err != nil {
		return fmt.Errorf("pdfform: lock fields: %w", err)
	}
	f.data = out.Bytes()
	return nil
}

// Bytes returns the current document.
func (f *Form) Bytes() ([]byte, error) {
	if len(f.data) == 0 {
		return nil, errors.New("pdfform: empty document")
	}
	return append([]byte(nil), f.data...), nil
}

// watermarkDescription builds the pdfcpu stamp description placing the image bottom
// centered, scaled to fit the placement box with its aspect ratio kept.
func watermarkDescription(img documents.Image, at documents.Placement) (string, error) {
	if img.Width <= 0 || img.Height <= 0 {
		return "", errors.New("pdfform: image has no dimensions")
	}
	if at.Page < 0 || at.Width <= 0 || at.Height <= 0 {
		return "", errors.New("pdfform: invalid placement")
	}
	scale := math.Min(at.Width/float64(img.Width), at.Height/float64(img.Height))
	return fmt.Sprintf("pos:bc, off:0 %s, scale:%s abs, rot:0",
		strconv.FormatFloat(at.BottomOffset, 'f', 2, 64),
		strconv.FormatFloat(scale, 'f', 4, 64),
	), nil
}

var _ documents.Form = (*Form)(nil)
var _ documents.FormOpener = (*Opener)(nil)
