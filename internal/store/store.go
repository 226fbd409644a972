// Package store provides a path-addressed document store with atomic
// multi-path batches and change notification.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when no document exists at a path.
var ErrNotFound = errors.New("document not found")

// StaleReadError is returned when a write was abandoned because the state
// it was validated against changed underneath it.
type StaleReadError struct {
	Path string
}

func (e *StaleReadError) Error() string {
	return fmt.Sprintf("stale read at %s", e.Path)
}

// IsStaleRead checks if error is a stale read.
func IsStaleRead(err error) bool {
	var se *StaleReadError
	return errors.As(err, &se)
}

// Op is one write in a batch. A nil Value deletes the path.
type Op struct {
	Path  string
	Value any
}

// Event describes a change to a document.
type Event struct {
	Path    string
	Value   json.RawMessage
	Deleted bool
}

// Store is a hierarchical document store keyed by slash-separated paths.
// Documents are JSON values; List returns the direct children of a path.
type Store interface {
	// Get unmarshals the document at path into the target.
	Get(ctx context.Context, path string, into any) error

	// Put writes the document at path, replacing any existing value.
	Put(ctx context.Context, path string, doc any) error

	// Push appends the document under path with a generated child id and
	// returns that id.
	Push(ctx context.Context, path string, doc any) (string, error)

	// Delete removes the document at path. Deleting a missing path is not
	// an error.
	Delete(ctx context.Context, path string) error

	// List returns the direct child documents of path, keyed by child id.
	List(ctx context.Context, path string) (map[string]json.RawMessage, error)

	// Apply performs the batch atomically: either every op lands or none.
	Apply(ctx context.Context, ops []Op) error

	// Watch emits events for documents under prefix until ctx is done.
	Watch(ctx context.Context, prefix string) <-chan Event

	// Close releases resources.
	Close() error
}

func marshalOps(ops []Op) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(ops))
	for _, op := range ops {
		if op.Path == "" {
			return nil, errors.New("batch op with empty path")
		}
		if op.Value == nil {
			out[op.Path] = nil
			continue
		}
		raw, err := json.Marshal(op.Value)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s: %w", op.Path, err)
		}
		out[op.Path] = raw
	}
	return out, nil
}
