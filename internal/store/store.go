// Package store holds the record set of one village as an immutable value.
//
// Every transition returns a new Store and leaves the receiver untouched, so
// a snapshot handed to a presenter never changes under it. A failed
// transition returns the receiver itself.
package store

import (
	"slices"

	"villagecash/internal/core"
)

type Store struct {
	village core.VillageRef
	records []core.Record
}

// New returns an empty store for village.
func New(village core.VillageRef) Store {
	return Store{village: village}
}

// FromRecords builds a store from loaded records. It is lenient: records
// whose day is already present are dropped and returned, records with an
// invalid day are kept (they sort last and are ignored by aggregation).
func FromRecords(village core.VillageRef, records []core.Record) (Store, []core.Record) {
	s := Store{village: village, records: make([]core.Record, 0, len(records))}
	seen := make(map[core.DayKey]struct{}, len(records))
	var dropped []core.Record
	for _, r := range records {
		if r.Date.Valid() {
			if _, dup := seen[r.Date]; dup {
				dropped = append(dropped, r)
				continue
			}
			seen[r.Date] = struct{}{}
		}
		r = r.Clone()
		if r.Village.IsZero() {
			r.Village = village
		}
		s.records = append(s.records, r)
	}
	s.sort()
	return s, dropped
}

// Village returns the village this store belongs to.
func (s Store) Village() core.VillageRef {
	return s.village
}

// Len returns the number of records.
func (s Store) Len() int {
	return len(s.records)
}

// All returns the records newest first. The slice is a copy.
func (s Store) All() []core.Record {
	out := make([]core.Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

// Get returns the record with the given id.
func (s Store) Get(id string) (core.Record, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.records[i].Clone(), true
	}
	return core.Record{}, false
}

// FindByDay returns the record holding day.
func (s Store) FindByDay(day core.DayKey) (core.Record, bool) {
	if !day.Valid() {
		return core.Record{}, false
	}
	for _, r := range s.records {
		if r.Date == day {
			return r.Clone(), true
		}
	}
	return core.Record{}, false
}

// Summary aggregates the current records.
func (s Store) Summary() core.Summary {
	return core.Summarize(s.records)
}

// Insert adds r. It fails with a ValidationError when r is invalid or
// belongs to another village, and with a DuplicateDateError when its day is
// already taken.
func (s Store) Insert(r core.Record) (Store, error) {
	r, err := s.admit(r)
	if err != nil {
		return s, err
	}
	if r.ID != "" && s.indexOf(r.ID) >= 0 {
		return s, &core.ValidationError{Field: "id", Reason: "already present: " + r.ID}
	}
	if err := s.checkDay(r.Date, ""); err != nil {
		return s, err
	}
	next := s.clone(len(s.records) + 1)
	next.records = append(next.records, r)
	next.sort()
	return next, nil
}

// Update replaces the record with id by its merge with patch. The merged
// record must not collide with the day of any other record.
func (s Store) Update(id string, patch core.RawRecord) (Store, error) {
	i := s.indexOf(id)
	if i < 0 {
		return s, &core.NotFoundError{ID: id}
	}
	merged, err := core.Merge(s.records[i], patch)
	if err != nil {
		return s, err
	}
	merged, err = s.admit(merged)
	if err != nil {
		return s, err
	}
	if err := s.checkDay(merged.Date, id); err != nil {
		return s, err
	}
	next := s.clone(len(s.records))
	next.records[i] = merged
	next.sort()
	return next, nil
}

// Replace swaps the record with id for r as is, after the same checks as
// Update. It is used to apply what a persister returned.
func (s Store) Replace(id string, r core.Record) (Store, error) {
	i := s.indexOf(id)
	if i < 0 {
		return s, &core.NotFoundError{ID: id}
	}
	r, err := s.admit(r)
	if err != nil {
		return s, err
	}
	if err := s.checkDay(r.Date, id); err != nil {
		return s, err
	}
	next := s.clone(len(s.records))
	next.records[i] = r
	next.sort()
	return next, nil
}

// Remove drops the record with id.
func (s Store) Remove(id string) (Store, error) {
	i := s.indexOf(id)
	if i < 0 {
		return s, &core.NotFoundError{ID: id}
	}
	next := Store{village: s.village, records: make([]core.Record, 0, len(s.records)-1)}
	next.records = append(next.records, s.records[:i]...)
	next.records = append(next.records, s.records[i+1:]...)
	return next, nil
}

// CheckDay reports a DuplicateDateError when day is held by a record other
// than exceptID. Callers use it before reaching out to a persister.
func (s Store) CheckDay(day core.DayKey, exceptID string) error {
	return s.checkDay(day, exceptID)
}

func (s Store) admit(r core.Record) (core.Record, error) {
	r = r.Clone()
	if r.Village.IsZero() {
		r.Village = s.village
	} else if !s.village.IsZero() && !r.Village.Matches(s.village) {
		return r, &core.ValidationError{Field: "village", Reason: "record belongs to " + r.Village.String() + ", store to " + s.village.String()}
	}
	if err := r.Validate(); err != nil {
		return r, err
	}
	return r, nil
}

func (s Store) checkDay(day core.DayKey, exceptID string) error {
	for _, r := range s.records {
		if r.Date != day {
			continue
		}
		if exceptID != "" && r.ID == exceptID {
			continue
		}
		return &core.DuplicateDateError{Village: s.village, Date: day, ExistingID: r.ID}
	}
	return nil
}

func (s Store) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, r := range s.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (s Store) clone(capacity int) Store {
	out := Store{village: s.village, records: make([]core.Record, len(s.records), capacity)}
	copy(out.records, s.records)
	return out
}

// sort orders newest first; SortStableFunc keeps insertion order on ties.
func (s Store) sort() {
	slices.SortStableFunc(s.records, func(a, b core.Record) int {
		return core.CompareDesc(a.Date, b.Date)
	})
}
