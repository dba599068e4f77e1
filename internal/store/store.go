// Package store defines the reactive document-store contract the room
// repository runs on. Backends keep one JSON document per key and push the
// full current document to subscribers on every change.
package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("document not found")

// Store is a minimal shared key-value contract:
//
//   - Set replaces a whole document atomically.
//   - Update merges the named fields atomically, leaving siblings untouched.
//     Field names may be slash paths into the JSON tree
//     ("players/<id>/ranking"), so independent writers touching different
//     participants never clobber each other.
//   - Subscribe fires once with the current document (if any), then on every
//     subsequent change. Delivery is eventual and in order per writer;
//     intermediate states may be coalesced. The returned release func is
//     idempotent.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, doc any) error
	Update(ctx context.Context, key string, fields map[string]any) error
	Subscribe(key string, fn func(doc []byte)) (func(), error)
}
