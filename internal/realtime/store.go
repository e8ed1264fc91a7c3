// Package realtime abstracts the hosted tree-structured database the chat
// services synchronize against: keyed reads and writes addressed by
// slash-separated paths, push-id inserts, indexed equality queries and
// push-based change subscriptions.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel errors wrapped by Store implementations so callers can classify
// failures without depending on backend error types.
var (
	ErrRead  = errors.New("realtime: read failed")
	ErrWrite = errors.New("realtime: write failed")
)

// Store is a tree-structured realtime database. All consistency and
// persistence guarantees are delegated to the backing service; the store is
// the single source of truth for write ordering at a given path.
type Store interface {
	// Get decodes the value at path into v. An absent path decodes JSON
	// null, leaving v at its zero value.
	Get(ctx context.Context, path string, v any) error

	// Set writes v at path, replacing any existing value.
	Set(ctx context.Context, path string, v any) error

	// Push creates a child of path under a new store-issued key, ordered
	// chronologically, and returns the key. A nil v reserves the key
	// without meaningful content.
	Push(ctx context.Context, path string, v any) (string, error)

	// Delete removes the value at path.
	Delete(ctx context.Context, path string) error

	// QueryByChild returns the children of path whose child value (a
	// slash-separated sub-path) equals value, keyed by child key.
	QueryByChild(ctx context.Context, path, child string, value any) (map[string]json.RawMessage, error)

	// Listen registers a change subscription at path. The callback receives
	// the full current snapshot immediately and again after every change,
	// serialized per subscription. The returned cancel function detaches
	// the listener; it is safe to call more than once.
	Listen(ctx context.Context, path string, fn func(snapshot json.RawMessage)) (cancel func(), err error)
}
