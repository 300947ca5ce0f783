package documents

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

const maxSignatureBytes = 4 << 20

// SignaturePayload is a handwritten signature captured by the client as a data URI
// (data:image/png;base64,...).
type SignaturePayload struct {
	DataURI string
}

// SignatureOutcome reports whether a signature was requested and embedded.
type SignatureOutcome struct {
	Provided bool
	Embedded bool
	Err      error
}

// SignatureEmbedder draws signature images onto forms. Failures never propagate.
type SignatureEmbedder struct {
	logger Logger
}

// NewSignatureEmbedder constructs an embedder.
func NewSignatureEmbedder(logger Logger) *SignatureEmbedder {
	if logger == nil {
		logger = nopLogger
	}
	return &SignatureEmbedder{logger: logger}
}

// Embed decodes the payload and draws it at the anchor. A nil payload is a no-op.
func (e *SignatureEmbedder) Embed(ctx context.Context, form Form, payload *SignaturePayload, anchor SignatureAnchor) (out SignatureOutcome) {
	if payload == nil || strings.TrimSpace(payload.DataURI) == "" {
		return SignatureOutcome{}
	}
	out.Provided = true

	_, span := tracer.Start(ctx, "documents.embedSignature")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			out.Embedded = false
			out.Err = fmt.Errorf("draw signature: panic: %v", r)
		}
		if out.Err != nil {
			span.RecordError(out.Err)
			e.logger(ctx, "signature.embed_failed", map[string]any{"error": out.Err.Error()})
		}
	}()

	img, err := DecodeSignature(payload.DataURI)
	if err != nil {
		out.Err = err
		return out
	}
	placement := Placement{
		Page:         anchor.Page,
		Width:        anchor.Width,
		Height:       anchor.Height,
		BottomOffset: anchor.BottomOffset,
	}
	if err := form.DrawImage(img, placement); err != nil {
		out.Err = fmt.Errorf("draw signature: %w", err)
		return out
	}
	out.Embedded = true
	return out
}

// DecodeSignature parses a base64 data URI holding a PNG or JPEG image.
func DecodeSignature(dataURI string) (Image, error) {
	value := strings.TrimSpace(dataURI)
	if !strings.HasPrefix(strings.ToLower(value), "data:") {
		return Image{}, fmt.Errorf("%w: missing data: scheme", ErrInvalidSignature)
	}
	meta, encoded, ok := strings.Cut(value[len("data:"):], ",")
	if !ok {
		return Image{}, fmt.Errorf("%w: missing payload separator", ErrInvalidSignature)
	}
	params := strings.Split(strings.ToLower(meta), ";")
	mediaType := strings.TrimSpace(params[0])
	switch mediaType {
	case "image/png", "image/jpeg", "image/jpg":
	default:
		return Image{}, fmt.Errorf("%w: unsupported media type %q", ErrInvalidSignature, mediaType)
	}
	if !containsFold(params[1:], "base64") {
		return Image{}, fmt.Errorf("%w: payload is not base64 encoded", ErrInvalidSignature)
	}

	encoded = strings.Join(strings.Fields(encoded), "")
	if base64.StdEncoding.DecodedLen(len(encoded)) > maxSignatureBytes {
		return Image{}, fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidSignature, maxSignatureBytes)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "=")); err != nil {
			return Image{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Image{}, fmt.Errorf("%w: empty image", ErrInvalidSignature)
	}
	return Image{Data: data, Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}
