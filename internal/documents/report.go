package documents

// Stage is a step of the generation state machine.
type Stage string

const (
	StageIdle              Stage = "idle"
	StageTemplateResolved  Stage = "template_resolved"
	StageFormOpened        Stage = "form_opened"
	StageFieldsPopulated   Stage = "fields_populated"
	StageSignatureEmbedded Stage = "signature_embedded"
	StageFlattened         Stage = "flattened"
	StagePersisted         Stage = "persisted"
)

// GenerationReport records what a generation did, including every recovered problem.
type GenerationReport struct {
	TemplateKey       string         `json:"templateKey"`
	TemplateLocation  string         `json:"templateLocation,omitempty"`
	Stages            []Stage        `json:"stages"`
	FieldsSet         []string       `json:"fieldsSet,omitempty"`
	FieldsChecked     []string       `json:"fieldsChecked,omitempty"`
	FieldsMissing     []string       `json:"fieldsMissing,omitempty"`
	FieldFailures     []FieldFailure `json:"fieldFailures,omitempty"`
	AmountField       string         `json:"amountField,omitempty"`
	AmountFallback    bool           `json:"amountFallback"`
	SignatureProvided bool           `json:"signatureProvided"`
	SignatureEmbedded bool           `json:"signatureEmbedded"`
	SignatureError    string         `json:"signatureError,omitempty"`
	Flattened         bool           `json:"flattened"`
	FlattenError      string         `json:"flattenError,omitempty"`
	Warnings          []string       `json:"warnings,omitempty"`
}

func (r *GenerationReport) reach(stage Stage) {
	r.Stages = append(r.Stages, stage)
}

// Reached reports whether the generation passed through stage.
func (r GenerationReport) Reached(stage Stage) bool {
	for _, s := range r.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

func (r *GenerationReport) applyMapping(out MappingOutcome) {
	r.FieldsSet = out.Set
	r.FieldsChecked = out.Checked
	r.FieldFailures = out.Failed
	r.AmountField = out.AmountField
	r.AmountFallback = out.AmountFallback
	for _, attr := range out.Missing {
		r.FieldsMissing = append(r.FieldsMissing, string(attr))
		if attr == AttrAmount {
			r.Warnings = append(r.Warnings, "amount field not found; amount carried by words field only")
		}
	}
	if out.AmountFallback {
		r.Warnings = append(r.Warnings, "amount field matched by name search: "+out.AmountField)
	}
}
