package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"villagecash/internal/core"
	"villagecash/internal/source"
)

// SeedFile is read from the data directory by NewFromFiles.
const SeedFile = "seed_collections.yaml"

var _ source.Backend = (*Store)(nil)

type Store struct {
	mu       sync.Mutex
	villages []core.Village
	items    []core.Record
	now      func() time.Time
}

type seed struct {
	Villages []core.Village    `yaml:"villages"`
	Records  []core.RawRecord `yaml:"records"`
}

func New(villages []core.Village) *Store {
	return &Store{villages: dedupeVillages(villages), now: time.Now}
}

// WithClock replaces the clock behind FetchServerTime.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// NewFromFiles seeds the store from base/seed_collections.yaml when present.
// Unreadable seed records are skipped.
func NewFromFiles(base string) (*Store, error) {
	s := New(nil)
	data, err := os.ReadFile(filepath.Join(base, SeedFile))
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var sd seed
	if err := yaml.Unmarshal(data, &sd); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	s.villages = dedupeVillages(sd.Villages)
	for _, raw := range sd.Records {
		rec, err := core.FromRaw(raw)
		if err != nil || !rec.Date.Valid() {
			continue
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		s.items = append(s.items, rec)
	}
	return s, nil
}

// FetchRecords returns matching records in the read-path field naming.
func (s *Store) FetchRecords(_ context.Context, q source.Query) ([]core.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.RawRecord
	for _, r := range s.items {
		if q.Matches(r) {
			out = append(out, readRaw(r))
		}
	}
	return out, nil
}

func (s *Store) FetchServerTime(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now(), nil
}

// Create stores the record under a fresh id.
func (s *Store) Create(_ context.Context, in core.RawRecord) (core.RawRecord, error) {
	rec, err := core.FromRaw(in)
	if err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	rec.ID = uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, rec)
	return core.ToRaw(rec), nil
}

func (s *Store) Update(_ context.Context, id string, patch core.RawRecord) (core.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.items {
		if r.ID != id {
			continue
		}
		merged, err := core.Merge(r, patch)
		if err != nil {
			return nil, err
		}
		if err := merged.Validate(); err != nil {
			return nil, err
		}
		s.items[i] = merged
		return readRaw(merged), nil
	}
	return nil, &core.NotFoundError{ID: id}
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.items {
		if r.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return &core.NotFoundError{ID: id}
}

// ListVillages returns the seeded villages followed by any village only
// known through its records.
func (s *Store) ListVillages(_ context.Context) ([]core.Village, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]core.Village(nil), s.villages...)
	for _, r := range s.items {
		out = append(out, core.Village{ID: r.Village.ID, Name: r.Village.Name})
	}
	return dedupeVillages(out), nil
}

// readRaw mirrors what list endpoints send back: households and
// amountCollected rather than the creation names.
func readRaw(r core.Record) core.RawRecord {
	raw := core.RawRecord{"_id": r.ID, "date": string(r.Date)}
	if r.Village.ID != "" {
		raw["village"] = r.Village.ID
	}
	if r.Village.Name != "" {
		raw["villageName"] = r.Village.Name
	}
	if r.Customers != nil {
		raw["householdsCollected"] = *r.Customers
	}
	if r.Amount != nil {
		raw["amountCollected"] = r.Amount.Units()
	}
	return raw
}

func dedupeVillages(in []core.Village) []core.Village {
	out := make([]core.Village, 0, len(in))
next:
	for _, v := range in {
		ref := v.Ref()
		if ref.IsZero() {
			continue
		}
		for _, o := range out {
			if o.Ref().Key() == ref.Key() || o.Ref().Matches(ref) {
				continue next
			}
		}
		out = append(out, v)
	}
	return out
}
