package services

import (
	"context"
	"errors"
	"sync/atomic"

	"villagecash/internal/core"
	"villagecash/internal/store"
)

// ErrSuperseded is returned by Selector.Select when a newer selection was
// made while the load was in flight.
var ErrSuperseded = errors.New("selection superseded")

// Selector tracks the currently selected village. Only the latest Select
// call delivers its Store; earlier calls still in flight get ErrSuperseded.
type Selector struct {
	svc        *CollectionService
	generation atomic.Uint64
	current    atomic.Pointer[core.VillageRef]
}

func NewSelector(svc *CollectionService) *Selector {
	return &Selector{svc: svc}
}

// Select makes village the current selection and loads its Store.
func (s *Selector) Select(ctx context.Context, village core.VillageRef) (store.Store, error) {
	gen := s.generation.Add(1)
	v := village
	s.current.Store(&v)

	st, err := s.svc.Open(ctx, village)
	if s.generation.Load() != gen {
		return store.Store{}, ErrSuperseded
	}
	return st, err
}

// Current returns the latest selected village.
func (s *Selector) Current() (core.VillageRef, bool) {
	v := s.current.Load()
	if v == nil {
		return core.VillageRef{}, false
	}
	return *v, true
}
