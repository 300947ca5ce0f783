package textutil

import "testing"

func TestPlainText(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"empty":           {in: "   ", want: ""},
		"markup":          {in: "<b>Anna</b>  Schmidt", want: "Anna Schmidt"},
		"entities kept":   {in: "Müller & Co. KG", want: "Müller & Co. KG"},
		"decomposed":      {in: "Müller", want: "Müller"},
		"newlines folded": {in: "Haupt\nstraße\t5", want: "Haupt straße 5"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := PlainText(tc.in); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
