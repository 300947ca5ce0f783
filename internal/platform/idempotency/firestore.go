package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/kapitalwerk/contract-api/internal/platform/firestore"
)

// collection holds one document per scoped key, named by its SHA-256.
const collection = "documentRequests"

// FirestoreStore keeps records in Firestore. Reserve and SaveResponse run in transactions.
type FirestoreStore struct {
	provider *pfirestore.Provider
	records  *pfirestore.Collection[firestoreRecord]
}

// NewFirestoreStore returns a store over provider.
func NewFirestoreStore(provider *pfirestore.Provider) *FirestoreStore {
	return &FirestoreStore{
		provider: provider,
		records:  pfirestore.NewCollection(provider, collection, pfirestore.StructDecoder[firestoreRecord]()),
	}
}

// Reserve ensures the key is uniquely associated with the fingerprint and returns any stored response.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ttl = ttlOrDefault(ttl)
	ref, err := s.records.Doc(ctx, documentID(key))
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := s.lookup(tx, ref)
		if err != nil {
			return err
		}
		res, write, err := decide(existing, fingerprint, now)
		if err != nil || !write {
			result = res
			return err
		}
		record := pendingRecord(key, fingerprint, now, ttl)
		result = Reservation{State: ReservationStateNew, Record: record}
		return tx.Set(ref, fromRecord(record))
	})
	if err != nil {
		return Reservation{}, pfirestore.WrapError(s.records.Name()+".reserve", err)
	}
	return result, nil
}

// SaveResponse persists the completed HTTP response associated with the key.
func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ttl = ttlOrDefault(ttl)
	ref, err := s.records.Doc(ctx, documentID(key))
	if err != nil {
		return err
	}

	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := s.lookup(tx, ref)
		if err != nil {
			return err
		}
		record := Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		if existing != nil {
			if existing.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			record = *existing
		}
		return tx.Set(ref, fromRecord(record.complete(resp, now, ttl)))
	})
	if err != nil {
		return pfirestore.WrapError(s.records.Name()+".save", err)
	}
	return nil
}

// Release removes the reservation to allow callers to retry.
func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.records.Doc(ctx, documentID(key))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError(s.records.Name()+".release", err)
	}
	return nil
}

func (s *FirestoreStore) lookup(tx *firestore.Transaction, ref *firestore.DocumentRef) (*Record, error) {
	snap, err := s.records.GetTx(tx, ref)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	record := snap.Data.toRecord()
	return &record, nil
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders"`
	ResponseBody    []byte              `firestore:"responseBody"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func fromRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
