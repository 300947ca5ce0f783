package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
)

// Snapshot is a decoded document with its metadata.
type Snapshot[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Decoder hydrates a typed value from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// Collection gives typed access to one root collection.
type Collection[T any] struct {
	provider *Provider
	name     string
	decode   Decoder[T]
}

// NewCollection binds a Collection to name. A nil decoder uses Firestore struct decoding.
func NewCollection[T any](provider *Provider, name string, decode Decoder[T]) *Collection[T] {
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &Collection[T]{
		provider: provider,
		name:     strings.TrimSpace(name),
		decode:   decode,
	}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Doc returns the reference of document id.
func (c *Collection[T]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError(c.op("doc"), errors.New("firestore: provider is nil"))
	}
	if c.name == "" {
		return nil, WrapError(c.op("doc"), errors.New("firestore: collection name is required"))
	}
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "/") {
		return nil, WrapError(c.op("doc"), fmt.Errorf("firestore: invalid document id %q", id))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name).Doc(id), nil
}

// Get reads and decodes document id.
func (c *Collection[T]) Get(ctx context.Context, id string) (Snapshot[T], error) {
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return Snapshot[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Snapshot[T]{}, WrapError(c.op("get"), err)
	}
	return c.Decode(snap)
}

// GetTx reads and decodes document ref inside tx.
func (c *Collection[T]) GetTx(tx *firestore.Transaction, ref *firestore.DocumentRef) (Snapshot[T], error) {
	snap, err := tx.Get(ref)
	if err != nil {
		return Snapshot[T]{}, WrapError(c.op("get"), err)
	}
	return c.Decode(snap)
}

// Set writes value to document id.
func (c *Collection[T]) Set(ctx context.Context, id string, value any, opts ...firestore.SetOption) error {
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, value, opts...); err != nil {
		return WrapError(c.op("set"), err)
	}
	return nil
}

// Decode turns a snapshot into a typed Snapshot.
func (c *Collection[T]) Decode(snap *firestore.DocumentSnapshot) (Snapshot[T], error) {
	if snap == nil || !snap.Exists() {
		return Snapshot[T]{}, NotFound(c.op("decode"), nil)
	}
	data, err := c.decode(snap)
	if err != nil {
		return Snapshot[T]{}, fmt.Errorf("%s: decode %s: %w", c.op("decode"), snap.Ref.ID, err)
	}
	return Snapshot[T]{
		ID:         snap.Ref.ID,
		Data:       data,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}, nil
}

func (c *Collection[T]) op(action string) string {
	name := "firestore"
	if c != nil && c.name != "" {
		name = c.name
	}
	return name + "." + action
}

// StructDecoder decodes with Firestore's native struct mapping.
func StructDecoder[T any]() Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		err := snap.DataTo(&target)
		return target, err
	}
}
