package documents

import (
	"context"
	"errors"
	"testing"
)

func TestDecodeSignature(t *testing.T) {
	img, err := DecodeSignature(signatureDataURI(t))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Format != "png" || img.Width != 300 || img.Height != 100 {
		t.Fatalf("unexpected image %s %dx%d", img.Format, img.Width, img.Height)
	}
}

func TestDecodeSignatureRejectsMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"no scheme":       "iVBORw0KGgo=",
		"no separator":    "data:image/png;base64",
		"not base64 flag": "data:image/png,abc",
		"unsupported":     "data:image/gif;base64,R0lGODlh",
		"bad base64":      "data:image/png;base64,@@@@",
		"not an image":    "data:image/png;base64,aGVsbG8gd29ybGQ=",
	}
	for name, uri := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeSignature(uri); !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestSignatureEmbedderPlacesImage(t *testing.T) {
	form := newFakeForm()
	anchor := SignatureAnchor{Page: 0, Width: 180, Height: 60, BottomOffset: 90}
	out := NewSignatureEmbedder(nil).Embed(context.Background(), form, &SignaturePayload{DataURI: signatureDataURI(t)}, anchor)

	if !out.Provided || !out.Embedded || out.Err != nil {
		t.Fatalf("expected embedded signature, got %+v", out)
	}
	if len(form.images) != 1 {
		t.Fatalf("expected one image, got %d", len(form.images))
	}
	want := Placement{Page: 0, Width: 180, Height: 60, BottomOffset: 90}
	if form.images[0] != want {
		t.Fatalf("expected placement %+v, got %+v", want, form.images[0])
	}
}

func TestSignatureEmbedderNeverFails(t *testing.T) {
	anchor := SignatureAnchor{Width: 100, Height: 40}

	out := NewSignatureEmbedder(nil).Embed(context.Background(), newFakeForm(), &SignaturePayload{DataURI: "data:image/png;base64,broken"}, anchor)
	if !out.Provided || out.Embedded || out.Err == nil {
		t.Fatalf("expected recovered failure, got %+v", out)
	}

	form := newFakeForm()
	form.drawErr = errBoom
	out = NewSignatureEmbedder(nil).Embed(context.Background(), form, &SignaturePayload{DataURI: signatureDataURI(t)}, anchor)
	if out.Embedded || !errors.Is(out.Err, errBoom) {
		t.Fatalf("expected draw failure to be reported, got %+v", out)
	}
}

type panickingForm struct{ *fakeForm }

func (panickingForm) DrawImage(Image, Placement) error { panic("corrupt page tree") }

func TestSignatureEmbedderRecoversPanics(t *testing.T) {
	form := panickingForm{newFakeForm()}
	out := NewSignatureEmbedder(nil).Embed(context.Background(), form, &SignaturePayload{DataURI: signatureDataURI(t)}, SignatureAnchor{Width: 1, Height: 1})
	if out.Embedded || out.Err == nil {
		t.Fatalf("expected recovered panic, got %+v", out)
	}
}

func TestSignatureEmbedderWithoutPayload(t *testing.T) {
	out := NewSignatureEmbedder(nil).Embed(context.Background(), newFakeForm(), nil, SignatureAnchor{})
	if out.Provided || out.Embedded || out.Err != nil {
		t.Fatalf("expected no-op, got %+v", out)
	}
}
