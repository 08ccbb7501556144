// Package store defines the keyed document store the allocation engine
// consumes, plus helpers shared by its implementations.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Delete when the document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is anything with a stable string key.
type Document interface {
	DocID() string
}

// Filter selects documents by top-level JSON field equality, e.g.
// Filter{"supplier": "Acme"}. A nil or empty filter matches everything.
type Filter map[string]any

// ChangeKind describes a document mutation.
type ChangeKind string

const (
	ChangePut    ChangeKind = "put"
	ChangeDelete ChangeKind = "delete"
)

// Change is delivered to subscribers after a document is written or removed.
// For deletes, Doc holds the last known version when the store has it.
type Change[T Document] struct {
	Kind ChangeKind
	ID   string
	Doc  T
}

// Store is a collection of documents of one type.
type Store[T Document] interface {
	List(ctx context.Context, f Filter) ([]T, error)
	Get(ctx context.Context, id string) (T, bool, error)
	Put(ctx context.Context, doc T) error
	Delete(ctx context.Context, id string) error
	Subscribe(ctx context.Context, f Filter, fn func(Change[T])) (unsubscribe func(), err error)
}

// Match reports whether doc satisfies f. Each filter value is compared
// with the document's field in their JSON encodings.
func Match[T Document](doc T, f Filter) (bool, error) {
	if len(f) == 0 {
		return true, nil
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("encoding document %s: %w", doc.DocID(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false, fmt.Errorf("decoding document %s: %w", doc.DocID(), err)
	}

	for key, want := range f {
		got, ok := fields[key]
		if !ok {
			return false, nil
		}
		wantJSON, err := json.Marshal(want)
		if err != nil {
			return false, fmt.Errorf("encoding filter %s: %w", key, err)
		}
		if !bytes.Equal(bytes.TrimSpace(got), wantJSON) {
			return false, nil
		}
	}
	return true, nil
}

// Clone returns a deep copy of doc by round-tripping it through JSON.
func Clone[T Document](doc T) (T, error) {
	var out T
	data, err := json.Marshal(doc)
	if err != nil {
		return out, fmt.Errorf("encoding document %s: %w", doc.DocID(), err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decoding document %s: %w", doc.DocID(), err)
	}
	return out, nil
}
