// Package counterparty is the directory of known suppliers and parties.
package counterparty

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haulbook-dev/haulbook/internal/model"
)

// FileName is the directory file under the data root.
const FileName = "counterparties.csv"

// Service provides in-memory lookup over the directory.
type Service struct {
	all    []model.Counterparty
	byName map[key]model.Counterparty
}

type key struct {
	kind model.CounterpartyKind
	name string
}

func keyOf(kind model.CounterpartyKind, name string) key {
	return key{kind: kind, name: strings.ToLower(strings.TrimSpace(name))}
}

// NewService creates a Service from a slice of counterparties.
func NewService(cps []model.Counterparty) *Service {
	s := &Service{byName: make(map[key]model.Counterparty, len(cps))}
	for _, cp := range cps {
		s.add(cp)
	}
	return s
}

// Load reads directory/counterparties.csv from a data root. A missing file
// yields an empty directory.
func Load(root string) (*Service, error) {
	path := filepath.Join(root, "directory", FileName)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewService(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening counterparty directory: %w", err)
	}
	defer f.Close()

	cps, err := ReadCounterparties(f)
	if err != nil {
		return nil, fmt.Errorf("reading counterparty directory: %w", err)
	}
	return NewService(cps), nil
}

// All returns every counterparty, in insertion order.
func (s *Service) All() []model.Counterparty {
	return s.all
}

// Get looks a counterparty up by kind and case-insensitive name.
func (s *Service) Get(kind model.CounterpartyKind, name string) (model.Counterparty, bool) {
	cp, ok := s.byName[keyOf(kind, name)]
	return cp, ok
}

// Exists reports whether the counterparty is known.
func (s *Service) Exists(kind model.CounterpartyKind, name string) bool {
	_, ok := s.byName[keyOf(kind, name)]
	return ok
}

// ByKind returns the counterparties of one kind sorted by name.
func (s *Service) ByKind(kind model.CounterpartyKind) []model.Counterparty {
	var result []model.Counterparty
	for _, cp := range s.all {
		if cp.Kind == kind {
			result = append(result, cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Add registers cp. It reports false if one with the same kind and name
// already exists.
func (s *Service) Add(cp model.Counterparty) bool {
	if s.Exists(cp.Kind, cp.Name) {
		return false
	}
	s.add(cp)
	return true
}

func (s *Service) add(cp model.Counterparty) {
	s.all = append(s.all, cp)
	s.byName[keyOf(cp.Kind, cp.Name)] = cp
}

// Save writes the directory to directory/counterparties.csv.
func (s *Service) Save(root string) error {
	dir := filepath.Join(root, "directory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory dir: %w", err)
	}

	path := filepath.Join(dir, FileName)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating counterparty file: %w", err)
	}
	defer f.Close()

	if err := WriteCounterparties(f, s.all); err != nil {
		return fmt.Errorf("writing counterparty directory: %w", err)
	}
	return nil
}
