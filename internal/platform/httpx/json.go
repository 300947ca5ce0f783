package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrEmptyBody indicates the request carried no body.
	ErrEmptyBody = errors.New("request body is required")
	// ErrBodyTooLarge indicates the request body exceeded the allowed size.
	ErrBodyTooLarge = errors.New("request body too large")
	// ErrInvalidJSON indicates the body is not valid JSON for the target type.
	ErrInvalidJSON = errors.New("invalid JSON payload")
)

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// DecodeJSON reads at most limit bytes from the request body into dst. Unknown fields
// are rejected.
func DecodeJSON(r *http.Request, limit int64, dst any) error {
	if r == nil || r.Body == nil {
		return ErrEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return err
	}
	if int64(len(data)) > limit {
		return ErrBodyTooLarge
	}
	if strings.TrimSpace(string(data)) == "" {
		return ErrEmptyBody
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

// BodyError converts a DecodeJSON failure into the canonical error envelope.
func BodyError(err error) Error {
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge)
	case errors.Is(err, ErrEmptyBody):
		return NewError("invalid_request", ErrEmptyBody.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrInvalidJSON):
		return NewError("invalid_request", ErrInvalidJSON.Error(), http.StatusBadRequest)
	default:
		return NewError("invalid_request", "unable to read request body", http.StatusBadRequest)
	}
}
