package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// Transactions retry on contention up to txAttempts times and are cut off after txTimeout
// when the caller has no earlier deadline.
const (
	txAttempts = 5
	txTimeout  = 15 * time.Second
)

// TxFunc runs inside a transaction. It may be called more than once.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// RunTransaction runs fn in a transaction on client.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc) error {
	if client == nil || fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction needs a client and a function"))
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > txTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, txTimeout)
		defer cancel()
	}
	return WrapError("transaction", client.RunTransaction(ctx, fn, firestore.MaxAttempts(txAttempts)))
}
