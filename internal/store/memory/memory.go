// Package memory is an in-process implementation of store.Store.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/store"
)

// Store keeps encoded documents in a map so callers never share memory
// with stored state.
type Store[T store.Document] struct {
	mu   sync.RWMutex
	docs map[string][]byte
	hub  store.Hub[T]
}

// New creates an empty Store.
func New[T store.Document]() *Store[T] {
	return &Store[T]{docs: make(map[string][]byte)}
}

// List returns matching documents ordered by ID.
func (s *Store[T]) List(_ context.Context, f store.Filter) ([]T, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	raw := make([][]byte, len(ids))
	for i, id := range ids {
		raw[i] = s.docs[id]
	}
	s.mu.RUnlock()

	var result []T
	for _, data := range raw {
		var doc T
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decoding document: %w", err)
		}
		ok, err := store.Match(doc, f)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, doc)
		}
	}
	return result, nil
}

// Get returns the document with the given ID.
func (s *Store[T]) Get(_ context.Context, id string) (T, bool, error) {
	var doc T
	s.mu.RLock()
	data, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return doc, false, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, false, fmt.Errorf("decoding document %s: %w", id, err)
	}
	return doc, true, nil
}

// Put inserts or replaces a document and notifies subscribers.
func (s *Store[T]) Put(_ context.Context, doc T) error {
	id := doc.DocID()
	if id == "" {
		return fmt.Errorf("document has no ID")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", id, err)
	}

	s.mu.Lock()
	s.docs[id] = data
	s.mu.Unlock()

	stored, err := store.Clone(doc)
	if err != nil {
		return err
	}
	s.hub.Publish(store.Change[T]{Kind: store.ChangePut, ID: id, Doc: stored})
	return nil
}

// Delete removes a document. Returns store.ErrNotFound if it is absent.
func (s *Store[T]) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	data, ok := s.docs[id]
	delete(s.docs, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("deleting %s: %w", id, store.ErrNotFound)
	}

	var last T
	if err := json.Unmarshal(data, &last); err != nil {
		return fmt.Errorf("decoding document %s: %w", id, err)
	}
	s.hub.Publish(store.Change[T]{Kind: store.ChangeDelete, ID: id, Doc: last})
	return nil
}

// Subscribe registers fn for changes matching f. The subscription ends
// when unsubscribe is called or ctx is done.
func (s *Store[T]) Subscribe(ctx context.Context, f store.Filter, fn func(store.Change[T])) (func(), error) {
	unsub := s.hub.Subscribe(f, fn)
	stop := context.AfterFunc(ctx, unsub)
	return func() {
		stop()
		unsub()
	}, nil
}

// Compile-time check: ensure Store implements store.Store.
var _ store.Store[model.Order] = (*Store[model.Order])(nil)
