// Package filestore stores each document as a JSON file under
// <root>/data/<collection>/<id>.json.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/store"
)

const dataDir = "data"

// Store is a file-backed document collection.
type Store[T store.Document] struct {
	dir string
	mu  sync.RWMutex
	hub store.Hub[T]
}

// New creates a Store for collection under repoRoot, creating the
// directory if needed.
func New[T store.Document](repoRoot, collection string) (*Store[T], error) {
	if err := validID(collection); err != nil {
		return nil, fmt.Errorf("invalid collection: %w", err)
	}
	dir := filepath.Join(repoRoot, dataDir, collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating collection dir: %w", err)
	}
	return &Store[T]{dir: dir}, nil
}

// Dir returns the collection's directory.
func (s *Store[T]) Dir() string {
	return s.dir
}

// List returns matching documents ordered by ID.
func (s *Store[T]) List(ctx context.Context, f store.Filter) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading collection dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var result []T
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := s.readFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
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
	var zero T
	if err := validID(id); err != nil {
		return zero, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.readFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	return doc, true, nil
}

// Put writes the document atomically (temp file + rename) and notifies
// subscribers.
func (s *Store[T]) Put(_ context.Context, doc T) error {
	id := doc.DocID()
	if err := validID(id); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", id, err)
	}

	s.mu.Lock()
	err = writeAtomic(s.path(id), data)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	stored, err := store.Clone(doc)
	if err != nil {
		return err
	}
	s.hub.Publish(store.Change[T]{Kind: store.ChangePut, ID: id, Doc: stored})
	return nil
}

// Delete removes the document file. Returns store.ErrNotFound if it is absent.
func (s *Store[T]) Delete(_ context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}

	s.mu.Lock()
	last, err := s.readFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		s.mu.Unlock()
		return fmt.Errorf("deleting %s: %w", id, store.ErrNotFound)
	}
	if err == nil {
		err = os.Remove(s.path(id))
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}

	s.hub.Publish(store.Change[T]{Kind: store.ChangeDelete, ID: id, Doc: last})
	return nil
}

// Subscribe registers fn for changes made through this Store. Changes
// made by other processes are not observed.
func (s *Store[T]) Subscribe(ctx context.Context, f store.Filter, fn func(store.Change[T])) (func(), error) {
	unsub := s.hub.Subscribe(f, fn)
	stop := context.AfterFunc(ctx, unsub)
	return func() {
		stop()
		unsub()
	}, nil
}

func (s *Store[T]) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store[T]) readFile(path string) (T, error) {
	var doc T
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return doc, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming %s: %w", filepath.Base(path), err)
	}
	return nil
}

func validID(id string) error {
	if id == "" {
		return errors.New("empty document ID")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return fmt.Errorf("document ID %q is not a valid file name", id)
	}
	return nil
}

// Compile-time check: ensure Store implements store.Store.
var _ store.Store[model.LedgerEntry] = (*Store[model.LedgerEntry])(nil)
