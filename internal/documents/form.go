package documents

// FieldKind classifies AcroForm fields by the capability used to set them.
type FieldKind string

const (
	FieldKindText     FieldKind = "text"
	FieldKindCheckbox FieldKind = "checkbox"
	FieldKindOther    FieldKind = "other"
)

// FormField is one entry of the catalogue discovered when a template is opened.
type FormField struct {
	Name string
	Kind FieldKind
}

// Image is a decoded raster signature ready to be placed on a page.
type Image struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// Placement positions an image on a page: horizontally centered, BottomOffset points
// above the bottom edge, scaled to fit inside Width x Height points.
type Placement struct {
	Page         int
	Width        float64
	Height       float64
	BottomOffset float64
}

// Form is an opened, editable template. Implementations are not safe for concurrent use.
type Form interface {
	Fields() []FormField
	SetText(name, value string) error
	Check(name string) error
	DrawImage(img Image, at Placement) error
	Flatten() error
	Bytes() ([]byte, error)
}

// FormOpener opens template bytes as an editable form.
type FormOpener interface {
	Open(data []byte) (Form, error)
}

// FormOpenerFunc adapts a function to FormOpener.
type FormOpenerFunc func(data []byte) (Form, error)

// Open implements FormOpener.
func (f FormOpenerFunc) Open(data []byte) (Form, error) {
	return f(data)
}
