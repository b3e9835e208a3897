// Package readmodel provides the keyed document store that projections
// materialize into. Each projection owns a disjoint collection; documents
// are JSON objects keyed by a projection-chosen identifier.
package readmodel

import (
	"context"
	"errors"
)

// ErrNotFound signals a missing document.
var ErrNotFound = errors.New("read model document not found")

// Store is a minimal keyed document store. Put is an upsert with
// last-write-wins semantics, which keeps projection handlers idempotent
// under at-least-once delivery.
type Store interface {
	Put(ctx context.Context, collection, key string, doc map[string]interface{}) error
	Get(ctx context.Context, collection, key string) (map[string]interface{}, error)
	List(ctx context.Context, collection string, limit int) ([]map[string]interface{}, error)
	Count(ctx context.Context, collection string) (int64, error)
	Reset(ctx context.Context, collection string) error
}
