package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var strictPolicy = bluemonday.StrictPolicy()

// PlainText strips markup, decodes entities, applies NFC normalisation and collapses runs
// of whitespace. Form fields only render plain text, and profile data entered through web
// forms occasionally carries pasted markup or decomposed umlauts.
func PlainText(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	stripped := html.UnescapeString(strictPolicy.Sanitize(value))
	return strings.Join(strings.Fields(norm.NFC.String(stripped)), " ")
}
