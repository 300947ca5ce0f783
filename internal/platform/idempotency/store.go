// Package idempotency makes document generation requests safe to retry: the first response
// for an Idempotency-Key is stored and replayed to repeats of the same request.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"
)

// DefaultTTL is how long a key is remembered. Firestore expires records through a TTL
// policy on expiresAt.
const DefaultTTL = 24 * time.Hour

// Status is the stored state of a key.
type Status string

const (
	// StatusPending marks a key whose request is still running.
	StatusPending Status = "pending"
	// StatusCompleted marks a key with a stored response.
	StatusCompleted Status = "completed"
)

// ReservationState is the outcome of Reserve.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and runs the request.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means Record holds a response to replay.
	ReservationStateCompleted
	// ReservationStatePending means another request holds the key.
	ReservationStatePending
)

// ErrFingerprintMismatch reports a key reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// Reservation is the result of Reserve.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is what a store keeps per key.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

// Response is a handler response to store for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and responses. Reserve must be atomic per key.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// replayedHeaders are the response headers kept with a record. The generate endpoints
// answer JSON, so nothing else carries meaning on replay.
var replayedHeaders = []string{"Content-Type", "Content-Language", "Location", "Retry-After"}

// decide resolves a reservation against the live record for the key, if any. write is
// true when the caller must store a fresh pending record.
func decide(existing *Record, fingerprint string, now time.Time) (res Reservation, write bool, err error) {
	if existing == nil || (!existing.ExpiresAt.IsZero() && !now.Before(existing.ExpiresAt)) {
		return Reservation{State: ReservationStateNew}, true, nil
	}
	switch {
	case existing.Fingerprint != fingerprint:
		return Reservation{}, false, ErrFingerprintMismatch
	case existing.Status == StatusCompleted:
		return Reservation{State: ReservationStateCompleted, Record: *existing}, false, nil
	default:
		return Reservation{State: ReservationStatePending, Record: *existing}, false, nil
	}
}

func pendingRecord(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func (r Record) complete(resp Response, now time.Time, ttl time.Duration) Record {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.Status = StatusCompleted
	r.ResponseStatus = resp.Status
	r.ResponseHeaders = keptHeaders(resp.Headers)
	r.ResponseBody = slices.Clone(resp.Body)
	r.UpdatedAt = now
	r.ExpiresAt = now.Add(ttl)
	return r
}

func keptHeaders(header http.Header) map[string][]string {
	var kept map[string][]string
	for _, name := range replayedHeaders {
		if values := header.Values(name); len(values) > 0 {
			if kept == nil {
				kept = make(map[string][]string, len(replayedHeaders))
			}
			kept[name] = slices.Clone(values)
		}
	}
	return kept
}

// documentID hashes a scoped key so any client key is a valid Firestore document id.
func documentID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
