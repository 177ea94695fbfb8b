package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when no document exists at the id.
	ErrNotFound = errors.New("document not found")
	// ErrPermissionDenied signals a terminal access failure on a watch or
	// mutation; callers must not retry.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnavailable signals a transient transport failure.
	ErrUnavailable = errors.New("store unavailable")
	// ErrStreamClosed signals that a change stream ended unexpectedly.
	ErrStreamClosed = errors.New("change stream closed")
)

// Document is the raw wire shape of a stored record. Field values are
// whatever the backend decoded them to; in particular the "players" field
// may arrive as an ordered list or as a keyed map (a known corruption
// mode). Only the engine's normalizer interprets that shape.
type Document map[string]interface{}

// Store is the remote state store contract: keyed documents with
// shallow-merge updates, ad-hoc field queries and a push-based change
// subscription.
//
// Update merges top-level fields only. It is not an atomic list append:
// two concurrent read-modify-write cycles on the same field can lose one
// of the writes.
type Store interface {
	// Create writes the full document at id, overwriting any existing one.
	Create(ctx context.Context, id string, doc Document) error
	// Get returns the document at id, or ErrNotFound.
	Get(ctx context.Context, id string) (Document, error)
	// Update merges the given top-level fields into the document at id.
	Update(ctx context.Context, id string, fields Document) error
	// Delete removes the document at id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// Query returns all documents whose field matches value under op
	// (one of "==", "<", "<=", ">", ">=").
	Query(ctx context.Context, field, op string, value interface{}) ([]Document, error)
	// Watch subscribes to changes of the document at id. The current
	// document (empty if never written) is delivered first, then every
	// subsequent change. Errors are reported through onError; the watch is
	// dead after the first error. The returned function stops the watch.
	Watch(ctx context.Context, id string, onChange func(Document), onError func(error)) (func(), error)
}
