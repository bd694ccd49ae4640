// Package storage provides the keyed record store used for intents, orders
// and the transaction hash index.
package storage

import (
	"context"
	"errors"
)

// Namespaces used by the solver
const (
	NamespaceIntents = "intents"
	NamespaceOrders  = "orders"
	NamespaceTxIndex = "tx_index"
)

// ErrNotFound is returned by Get when no record exists under the key
var ErrNotFound = errors.New("record not found")

// Filter selects records during List. It receives the key and the raw JSON value.
type Filter func(key string, raw []byte) bool

// Store is a keyed JSON record store
type Store interface {
	Exists(ctx context.Context, namespace, key string) (bool, error)
	Get(ctx context.Context, namespace, key string, out any) error
	Set(ctx context.Context, namespace, key string, value any) error
	// SetIfAbsent stores value only when the key is free and reports whether it did
	SetIfAbsent(ctx context.Context, namespace, key string, value any) (bool, error)
	// Delete removes a record. Deleting a missing key is not an error.
	Delete(ctx context.Context, namespace, key string) error
	// List returns the raw values accepted by filter, ordered by key. A nil filter accepts all.
	List(ctx context.Context, namespace string, filter Filter) ([][]byte, error)
	Close() error
}
