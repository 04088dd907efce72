package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"villagecash/internal/amqp"
	"villagecash/internal/core"
	"villagecash/internal/log"
	"villagecash/internal/source"
	"villagecash/internal/store"
)

// Publisher announces collection changes. *amqp.Client implements it.
type Publisher interface {
	PublishCollectionChanged(ctx context.Context, msg *amqp.CollectionChangedMessage) error
}

// invalidator is implemented by caching loaders.
type invalidator interface {
	Invalidate(core.VillageRef)
}

// overviewConcurrency bounds parallel village loads in Overview.
const overviewConcurrency = 4

// CollectionService keeps one Store per village in sync with the backend.
// Mutations of a village are serialized; a write is checked against the
// current Store before the persister is called and applied to it after.
type CollectionService struct {
	loader    source.Loader
	persister source.Persister
	villages  source.VillageLister
	publisher Publisher
	log       *log.Logger

	locks keyedMutex
	group singleflight.Group

	mu       sync.RWMutex
	stores   map[string]store.Store
	resolved map[string]core.VillageRef
}

// NewCollectionService wires the service. villages and publisher may be nil.
func NewCollectionService(loader source.Loader, persister source.Persister, villages source.VillageLister, publisher Publisher, logger *log.Logger) *CollectionService {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &CollectionService{
		loader:    loader,
		persister: persister,
		villages:  villages,
		publisher: publisher,
		log:       logger.WithComponent(log.ComponentService),
		stores:    make(map[string]store.Store),
		resolved:  make(map[string]core.VillageRef),
	}
}

// Open returns the village's Store, loading it on first use. Concurrent
// first loads of the same village share one fetch.
func (s *CollectionService) Open(ctx context.Context, village core.VillageRef) (store.Store, error) {
	if village.IsZero() {
		return store.Store{}, &core.ValidationError{Field: "village", Reason: "village id or name required"}
	}
	village = s.resolve(ctx, village)
	key := village.Key()
	if st, ok := s.cached(key); ok {
		return st, nil
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		unlock := s.locks.Lock(key)
		defer unlock()
		if st, ok := s.cached(key); ok {
			return st, nil
		}
		return s.loadLocked(ctx, village)
	})
	if err != nil {
		return store.Store{}, err
	}
	return v.(store.Store), nil
}

// Refresh drops everything cached for the village and loads it again.
func (s *CollectionService) Refresh(ctx context.Context, village core.VillageRef) (store.Store, error) {
	if village.IsZero() {
		return store.Store{}, &core.ValidationError{Field: "village", Reason: "village id or name required"}
	}
	village = s.resolve(ctx, village)
	key := village.Key()
	unlock := s.locks.Lock(key)
	defer unlock()
	s.invalidate(village)
	return s.loadLocked(ctx, village)
}

// loadLocked fetches and normalizes the village's records and caches the
// resulting Store. The caller holds the village lock.
func (s *CollectionService) loadLocked(ctx context.Context, village core.VillageRef) (store.Store, error) {
	start := time.Now()
	st, err := s.fetch(ctx, village, "")
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to load village",
			log.NewFields().WithOperation(log.OpRead).WithVillage(village.String(), village.Key()).
				WithError(err, log.ErrorTypeNetwork).ToSlice()...)
		return store.Store{}, err
	}
	s.mu.Lock()
	s.stores[village.Key()] = st
	s.mu.Unlock()

	s.log.InfoContext(ctx, "Village loaded",
		log.NewFields().WithOperation(log.OpRead).WithVillage(village.String(), village.Key()).
			WithDuration(time.Since(start).Milliseconds(), true).ToSlice()...,
	)
	return st, nil
}

// fetch builds a Store from the loader without touching the cache of
// Stores. A non-empty day narrows the query.
func (s *CollectionService) fetch(ctx context.Context, village core.VillageRef, day core.DayKey) (store.Store, error) {
	q := source.QueryFor(village)
	q.Date = day
	rows, err := s.loader.FetchRecords(ctx, q)
	if err != nil {
		return store.Store{}, core.Transport("fetch records", err)
	}

	records := make([]core.Record, 0, len(rows))
	for _, raw := range rows {
		rec, err := core.FromRaw(raw)
		if err != nil {
			s.log.WarnContext(ctx, "Record has unreadable fields",
				log.NewFields().WithVillage(village.String(), village.Key()).
					WithRecord(rec.ID, rec.Date.String(), -1, -1).
					WithError(err, log.ErrorTypeValidation).ToSlice()...)
		}
		if !rec.Village.IsZero() && !rec.Village.Matches(village) {
			continue
		}
		records = append(records, rec)
	}

	st, dropped := store.FromRecords(village, records)
	for _, d := range dropped {
		s.log.WarnContext(ctx, "Dropped record on an already taken day",
			log.NewFields().WithVillage(village.String(), village.Key()).
				WithRecord(d.ID, d.Date.String(), -1, -1).ToSlice()...)
	}
	return st, nil
}

func (s *CollectionService) cached(key string) (store.Store, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stores[key]
	return st, ok
}

// current returns the cached Store, loading it when absent. The caller
// holds the village lock.
func (s *CollectionService) current(ctx context.Context, village core.VillageRef) (store.Store, error) {
	if st, ok := s.cached(village.Key()); ok {
		return st, nil
	}
	return s.loadLocked(ctx, village)
}

func (s *CollectionService) commit(village core.VillageRef, st store.Store) {
	s.mu.Lock()
	s.stores[village.Key()] = st
	s.mu.Unlock()
	if inv, ok := s.loader.(invalidator); ok {
		inv.Invalidate(village)
	}
}

func (s *CollectionService) invalidate(village core.VillageRef) {
	s.mu.Lock()
	delete(s.stores, village.Key())
	s.mu.Unlock()
	if inv, ok := s.loader.(invalidator); ok {
		inv.Invalidate(village)
	}
}

// Create validates raw against the village's Store, persists it and adds
// the persisted record. Nothing reaches the persister when the record is
// invalid or its day is already taken.
func (s *CollectionService) Create(ctx context.Context, village core.VillageRef, raw core.RawRecord) (core.Record, error) {
	if village.IsZero() {
		return core.Record{}, &core.ValidationError{Field: "village", Reason: "village id or name required"}
	}
	village = s.resolve(ctx, village)
	rec, err := core.FromRaw(raw)
	if err != nil {
		return core.Record{}, err
	}
	rec.ID = ""

	unlock := s.locks.Lock(village.Key())
	defer unlock()

	cur, err := s.current(ctx, village)
	if err != nil {
		return core.Record{}, err
	}
	if _, err := cur.Insert(rec); err != nil {
		return core.Record{}, err
	}
	rec.Village = village

	saved, err := s.persister.Create(ctx, core.ToRaw(rec))
	if err != nil {
		return core.Record{}, core.Transport("create record", err)
	}
	out, err := core.FromRaw(saved)
	if err != nil {
		return core.Record{}, core.Transport("create record", fmt.Errorf("unreadable persisted record: %w", err))
	}
	if !out.Persisted() {
		return core.Record{}, core.Transport("create record", errors.New("persisted record has no id"))
	}

	next, err := cur.Insert(out)
	if err != nil {
		// The backend accepted what the Store refuses; reload rather than
		// keep a Store that disagrees with it.
		s.invalidate(village)
		return core.Record{}, err
	}
	s.commit(village, next)
	out, _ = next.Get(out.ID)

	s.log.InfoContext(ctx, "Collection recorded",
		log.NewFields().WithOperation(log.OpCreate).WithVillage(village.String(), village.Key()).
			WithRecord(out.ID, out.Date.String(), out.CustomerCount(), out.AmountValue().Cents).ToSlice()...)
	s.publish(ctx, amqp.OpCreated, out)
	return out, nil
}

// Update merges patch into the record with id. The merged record is checked
// against the Store, including the day of every other record, before the
// persister is called.
func (s *CollectionService) Update(ctx context.Context, village core.VillageRef, id string, patch core.RawRecord) (core.Record, error) {
	if village.IsZero() {
		return core.Record{}, &core.ValidationError{Field: "village", Reason: "village id or name required"}
	}
	village = s.resolve(ctx, village)
	unlock := s.locks.Lock(village.Key())
	defer unlock()

	cur, err := s.current(ctx, village)
	if err != nil {
		return core.Record{}, err
	}
	preview, err := cur.Update(id, patch)
	if err != nil {
		return core.Record{}, err
	}
	merged, _ := preview.Get(id)

	saved, err := s.persister.Update(ctx, id, patch)
	if err != nil {
		return core.Record{}, core.Transport("update record", err)
	}
	out, err := core.FromRaw(saved)
	if err != nil || out.ID != id {
		// Fall back to the locally merged record when the backend echo is
		// unusable.
		out = merged
	}

	next, err := cur.Replace(id, out)
	if err != nil {
		s.invalidate(village)
		return core.Record{}, err
	}
	s.commit(village, next)
	out, _ = next.Get(id)

	s.log.InfoContext(ctx, "Collection updated",
		log.NewFields().WithOperation(log.OpUpdate).WithVillage(village.String(), village.Key()).
			WithRecord(out.ID, out.Date.String(), out.CustomerCount(), out.AmountValue().Cents).ToSlice()...)
	s.publish(ctx, amqp.OpUpdated, out)
	return out, nil
}

// Delete removes the record with id from the backend and the Store.
func (s *CollectionService) Delete(ctx context.Context, village core.VillageRef, id string) error {
	if village.IsZero() {
		return &core.ValidationError{Field: "village", Reason: "village id or name required"}
	}
	village = s.resolve(ctx, village)
	unlock := s.locks.Lock(village.Key())
	defer unlock()

	cur, err := s.current(ctx, village)
	if err != nil {
		return err
	}
	rec, ok := cur.Get(id)
	if !ok {
		return &core.NotFoundError{ID: id}
	}
	if err := s.persister.Delete(ctx, id); err != nil {
		return core.Transport("delete record", err)
	}
	next, err := cur.Remove(id)
	if err != nil {
		return err
	}
	s.commit(village, next)

	s.log.InfoContext(ctx, "Collection deleted",
		log.NewFields().WithOperation(log.OpDelete).WithVillage(village.String(), village.Key()).
			WithRecord(id, rec.Date.String(), -1, -1).ToSlice()...)
	s.publish(ctx, amqp.OpDeleted, rec)
	return nil
}

// Summary returns the village's aggregate figures.
func (s *CollectionService) Summary(ctx context.Context, village core.VillageRef) (core.Summary, error) {
	st, err := s.Open(ctx, village)
	if err != nil {
		return core.Summary{}, err
	}
	return st.Summary(), nil
}

// Today returns the village's totals for the backend's current day. Records
// and server time are fetched concurrently.
func (s *CollectionService) Today(ctx context.Context, village core.VillageRef) (core.DayTotals, error) {
	var (
		st  store.Store
		now time.Time
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		st, err = s.Open(gctx, village)
		return err
	})
	g.Go(func() error {
		var err error
		now, err = s.ServerTime(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.DayTotals{}, err
	}
	return core.TodayTotals(st.All(), now), nil
}

// Day returns the village's totals for one day, fetching only that day.
func (s *CollectionService) Day(ctx context.Context, village core.VillageRef, day core.DayKey) (core.DayTotals, error) {
	if !day.Valid() {
		return core.DayTotals{}, &core.ValidationError{Field: "date", Reason: "invalid day", Err: core.ErrInvalidDate}
	}
	if village.IsZero() {
		return core.DayTotals{}, &core.ValidationError{Field: "village", Reason: "village id or name required"}
	}
	village = s.resolve(ctx, village)
	if st, ok := s.cached(village.Key()); ok {
		return core.DayTotalsFor(st.All(), day), nil
	}
	st, err := s.fetch(ctx, village, day)
	if err != nil {
		return core.DayTotals{}, err
	}
	return core.DayTotalsFor(st.All(), day), nil
}

// ServerTime returns the backend's clock, which decides what "today" is.
func (s *CollectionService) ServerTime(ctx context.Context) (time.Time, error) {
	now, err := s.loader.FetchServerTime(ctx)
	if err != nil {
		return time.Time{}, core.Transport("fetch server time", err)
	}
	return now, nil
}

// resolve completes a reference carrying only an id or only a name from the
// backend's village list, so a village has one Store and one lock whichever
// way it is named. Unknown villages are returned unchanged.
func (s *CollectionService) resolve(ctx context.Context, village core.VillageRef) core.VillageRef {
	if s.villages == nil || (strings.TrimSpace(village.ID) != "" && strings.TrimSpace(village.Name) != "") {
		return village
	}
	key := village.Key()
	s.mu.RLock()
	ref, ok := s.resolved[key]
	s.mu.RUnlock()
	if ok {
		return ref
	}

	vs, err := s.villages.ListVillages(ctx)
	if err != nil {
		s.log.WarnContext(ctx, "Could not resolve village",
			log.NewFields().WithVillage(village.String(), key).
				WithError(err, log.ErrorTypeNetwork).ToSlice()...)
		return village
	}
	for _, v := range vs {
		if known := v.Ref(); known.Matches(village) {
			s.mu.Lock()
			s.resolved[key] = known
			s.mu.Unlock()
			return known
		}
	}
	return village
}

// Villages lists the villages known to the backend.
func (s *CollectionService) Villages(ctx context.Context) ([]core.Village, error) {
	if s.villages == nil {
		return nil, errors.New("backend cannot list villages")
	}
	vs, err := s.villages.ListVillages(ctx)
	if err != nil {
		return nil, core.Transport("list villages", err)
	}
	return vs, nil
}

// Overview summarizes every known village and all of them together.
func (s *CollectionService) Overview(ctx context.Context) (core.Overview, error) {
	vs, err := s.Villages(ctx)
	if err != nil {
		return core.Overview{}, err
	}
	refs := make([]core.VillageRef, len(vs))
	stores := make([]store.Store, len(vs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(overviewConcurrency)
	for i, v := range vs {
		refs[i] = v.Ref()
		i := i // per-iteration copy (go directive predates 1.22 loop semantics)
		g.Go(func() error {
			st, err := s.Open(gctx, refs[i])
			if err != nil {
				return err
			}
			stores[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return core.Overview{}, err
	}

	records := make(map[string][]core.Record, len(refs))
	for i, ref := range refs {
		records[ref.Key()] = stores[i].All()
	}
	return core.BuildOverview(refs, records), nil
}

// publish announces a change. Failures are logged and never fail the write.
func (s *CollectionService) publish(ctx context.Context, op string, rec core.Record) {
	if s.publisher == nil {
		s.log.DebugContext(ctx, "AMQP client not available, skipping change message")
		return
	}
	if err := s.publisher.PublishCollectionChanged(ctx, amqp.NewCollectionChangedMessage(op, rec)); err != nil {
		s.log.ErrorContext(ctx, "Failed to publish change message",
			log.NewFields().WithOperation(op).WithRecord(rec.ID, rec.Date.String(), -1, -1).
				WithError(err, log.ErrorTypeNetwork).ToSlice()...)
	}
}
