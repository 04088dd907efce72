package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"villagecash/internal/amqp"
	"villagecash/internal/core"
	"villagecash/internal/log"
	"villagecash/internal/source"
	"villagecash/internal/source/memory"
)

var riverside = core.VillageRef{ID: "v1", Name: "Riverside"}

type fakeBackend struct {
	*memory.Store
	creates, updates, deletes atomic.Int32
	failWrites                atomic.Bool
}

func (f *fakeBackend) Create(ctx context.Context, in core.RawRecord) (core.RawRecord, error) {
	f.creates.Add(1)
	if f.failWrites.Load() {
		return nil, errors.New("connection reset")
	}
	return f.Store.Create(ctx, in)
}

func (f *fakeBackend) Update(ctx context.Context, id string, patch core.RawRecord) (core.RawRecord, error) {
	f.updates.Add(1)
	if f.failWrites.Load() {
		return nil, errors.New("connection reset")
	}
	return f.Store.Update(ctx, id, patch)
}

func (f *fakeBackend) Delete(ctx context.Context, id string) error {
	f.deletes.Add(1)
	if f.failWrites.Load() {
		return errors.New("connection reset")
	}
	return f.Store.Delete(ctx, id)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*amqp.CollectionChangedMessage
	err  error
}

func (p *recordingPublisher) PublishCollectionChanged(_ context.Context, msg *amqp.CollectionChangedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func newTestService(t *testing.T, pub Publisher) (*CollectionService, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{Store: memory.New([]core.Village{{ID: "v1", Name: "Riverside"}, {ID: "v2", Name: "Lakeside"}})}
	return NewCollectionService(backend, backend, backend, pub, log.Discard()), backend
}

func mustCreate(t *testing.T, svc *CollectionService, v core.VillageRef, raw core.RawRecord) core.Record {
	t.Helper()
	rec, err := svc.Create(context.Background(), v, raw)
	if err != nil {
		t.Fatalf("Create(%v): %v", raw, err)
	}
	return rec
}

func TestCollectionService_CreateAndSummary(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newTestService(t, pub)
	ctx := context.Background()

	mustCreate(t, svc, riverside, core.RawRecord{"date": "2024-03-01", "customers": 10, "amountCollected": "100"})
	rec := mustCreate(t, svc, riverside, core.RawRecord{"date": "2024-03-02T08:30:00", "customers": 5, "amountCollected": "250.00"})
	if !rec.Persisted() || rec.Village.ID != "v1" || rec.Date != "2024-03-02" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	sum, err := svc.Summary(ctx, riverside)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalAmount.Cents != 35000 || sum.TotalCustomers != 15 || sum.TotalRecords != 2 {
		t.Fatalf("unexpected totals: %+v", sum)
	}
	if sum.AveragePerCustomer.Cents != 2333 || sum.AveragePerRecord.Cents != 17500 {
		t.Fatalf("unexpected averages: %+v", sum)
	}
	if sum.MostProfitableDate != "2024-03-02" {
		t.Fatalf("unexpected most profitable date: %s", sum.MostProfitableDate)
	}

	st, err := svc.Open(ctx, riverside)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	all := st.All()
	if len(all) != 2 || all[0].Date != "2024-03-02" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	if len(pub.msgs) != 2 || pub.msgs[0].Op != amqp.OpCreated {
		t.Fatalf("expected two created messages, got %+v", pub.msgs)
	}
}

func TestCollectionService_RejectsBeforePersisting(t *testing.T) {
	svc, backend := newTestService(t, nil)
	ctx := context.Background()
	mustCreate(t, svc, riverside, core.RawRecord{"date": "2024-03-02", "customers": 1})

	tests := []struct {
		name string
		raw  core.RawRecord
		want error
	}{
		{"same day", core.RawRecord{"date": "2024-03-02T19:00:00"}, core.ErrDuplicateDate},
		{"negative customers", core.RawRecord{"date": "2024-03-03", "customers": -1}, core.ErrValidation},
		{"bad date", core.RawRecord{"date": "someday"}, core.ErrValidation},
		{"other village", core.RawRecord{"date": "2024-03-04", "villageId": "v2"}, core.ErrValidation},
		{"unreadable amount", core.RawRecord{"date": "2024-03-05", "amount": "lots"}, core.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := backend.creates.Load()
			_, err := svc.Create(ctx, riverside, tt.raw)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if backend.creates.Load() != before {
				t.Fatal("persister should not have been called")
			}
		})
	}

	st, _ := svc.Open(ctx, riverside)
	if st.Len() != 1 {
		t.Fatalf("store should be unchanged, got %d records", st.Len())
	}
}

func TestCollectionService_UpdateChecksOtherDays(t *testing.T) {
	svc, backend := newTestService(t, nil)
	ctx := context.Background()
	first := mustCreate(t, svc, riverside, core.RawRecord{"date": "2024-03-01", "amount": "10"})
	mustCreate(t, svc, riverside, core.RawRecord{"date": "2024-03-02", "amount": "20"})

	_, err := svc.Update(ctx, riverside, first.ID, core.RawRecord{"date": "2024-03-02"})
	if !errors.Is(err, core.ErrDuplicateDate) {
		t.Fatalf("expected duplicate date, got %v", err)
	}
	if backend.updates.Load() != 0 {
		t.Fatal("persister should not have been called")
	}

	updated, err := svc.Update(ctx, riverside, first.ID, core.RawRecord{"amount": "12.5", "customers": 3})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.AmountValue().Cents != 1250 || updated.CustomerCount() != 3 || updated.Date != "2024-03-01" {
		t.Fatalf("unexpected update: %+v", updated)
	}

	if _, err := svc.Update(ctx, riverside, "missing", core.RawRecord{"amount": "1"}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCollectionService_Delete(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc, backend := newTestService(t, pub)
	ctx := context.Background()
	rec := mustCreate(t, svc, riverside, core.RawRecord{"date": "2024-03-01"})

	if err := svc.Delete(ctx, riverside, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if backend.deletes.Load() != 0 {
		t.Fatal("unknown id should not reach the persister")
	}
	if err := svc.Delete(ctx, riverside, rec.ID); err != nil {
		t.Fatalf("Delete should succeed even when publishing fails: %v", err)
	}
	st, _ := svc.Open(ctx, riverside)
	if st.Len() != 0 {
		t.Fatalf("expected empty store, got %d", st.Len())
	}
	if len(pub.msgs) != 2 || pub.msgs[1].Op != amqp.OpDeleted {
		t.Fatalf("unexpected messages: %+v", pub.msgs)
	}
}

func TestCollectionService_TransportFailureKeepsStore(t *testing.T) {
	svc, backend := newTestService(t, nil)
	ctx := context.Background()
	rec := mustCreate(t, svc, riverside, core.RawRecord{"date": "2024-03-01", "amount": "5"})

	backend.failWrites.Store(true)
	if _, err := svc.Create(ctx, riverside, core.RawRecord{"date": "2024-03-02"}); !errors.Is(err, core.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, err := svc.Update(ctx, riverside, rec.ID, core.RawRecord{"amount": "6"}); !errors.Is(err, core.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if err := svc.Delete(ctx, riverside, rec.ID); !errors.Is(err, core.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}

	st, _ := svc.Open(ctx, riverside)
	got, ok := st.Get(rec.ID)
	if st.Len() != 1 || !ok || got.AmountValue().Cents != 500 {
		t.Fatalf("store changed after transport failures: %+v", st.All())
	}
}

func TestCollectionService_Today(t *testing.T) {
	backend := &fakeBackend{Store: memory.New(nil)}
	backend.WithClock(func() time.Time { return time.Date(2024, 3, 2, 15, 0, 0, 0, time.Local) })
	svc := NewCollectionService(backend, backend, backend, nil, log.Discard())

	mustCreate(t, svc, riverside, core.RawRecord{"date": "2024-03-02", "customers": 4, "amount": "40"})
	mustCreate(t, svc, riverside, core.RawRecord{"date": "2024-03-01", "customers": 9, "amount": "90"})

	got, err := svc.Today(context.Background(), riverside)
	if err != nil {
		t.Fatalf("Today: %v", err)
	}
	if got.Date != "2024-03-02" || got.Customers != 4 || got.Amount.Cents != 4000 || got.Records != 1 {
		t.Fatalf("unexpected totals: %+v", got)
	}

	day, err := svc.Day(context.Background(), riverside, "2024-03-01")
	if err != nil {
		t.Fatalf("Day: %v", err)
	}
	if day.Customers != 9 {
		t.Fatalf("unexpected day totals: %+v", day)
	}
}

func TestCollectionService_Overview(t *testing.T) {
	svc, _ := newTestService(t, nil)
	lakeside := core.VillageRef{ID: "v2", Name: "Lakeside"}
	mustCreate(t, svc, riverside, core.RawRecord{"date": "2024-03-01", "customers": 2, "amount": "20"})
	mustCreate(t, svc, lakeside, core.RawRecord{"date": "2024-03-01", "customers": 3, "amount": "45"})

	ov, err := svc.Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if len(ov.Villages) != 2 || ov.Villages[0].Village.ID != "v1" {
		t.Fatalf("unexpected villages: %+v", ov.Villages)
	}
	if ov.Villages[1].Summary.TotalAmount.Cents != 4500 {
		t.Fatalf("unexpected Lakeside summary: %+v", ov.Villages[1].Summary)
	}
	if ov.Total.TotalAmount.Cents != 6500 || ov.Total.TotalCustomers != 5 {
		t.Fatalf("unexpected total: %+v", ov.Total)
	}
}

func TestCollectionService_RefreshSeesExternalWrites(t *testing.T) {
	svc, backend := newTestService(t, nil)
	ctx := context.Background()
	if _, err := svc.Open(ctx, riverside); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := backend.Store.Create(ctx, core.RawRecord{"villageId": "v1", "date": "2024-03-01"}); err != nil {
		t.Fatalf("direct create: %v", err)
	}

	st, _ := svc.Open(ctx, riverside)
	if st.Len() != 0 {
		t.Fatalf("cached store should not see external write yet")
	}
	st, err := svc.Refresh(ctx, riverside)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if st.Len() != 1 {
		t.Fatalf("expected refreshed store to hold 1 record, got %d", st.Len())
	}
}

func TestCollectionService_RequiresVillage(t *testing.T) {
	svc, _ := newTestService(t, nil)
	if _, err := svc.Open(context.Background(), core.VillageRef{}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type blockingLoader struct {
	source.Loader
	block   core.VillageRef
	release chan struct{}
	started chan struct{}
}

func (b *blockingLoader) FetchRecords(ctx context.Context, q source.Query) ([]core.RawRecord, error) {
	if q.Village().Matches(b.block) {
		close(b.started)
		<-b.release
	}
	return b.Loader.FetchRecords(ctx, q)
}

func TestSelector_DiscardsSupersededLoad(t *testing.T) {
	backend := memory.New(nil)
	loader := &blockingLoader{Loader: backend, block: riverside, release: make(chan struct{}), started: make(chan struct{})}
	svc := NewCollectionService(loader, backend, backend, nil, log.Discard())
	sel := NewSelector(svc)

	errc := make(chan error, 1)
	go func() {
		_, err := sel.Select(context.Background(), riverside)
		errc <- err
	}()
	<-loader.started

	lakeside := core.VillageRef{ID: "v2", Name: "Lakeside"}
	if _, err := sel.Select(context.Background(), lakeside); err != nil {
		t.Fatalf("Select lakeside: %v", err)
	}
	close(loader.release)

	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	cur, ok := sel.Current()
	if !ok || cur != lakeside {
		t.Fatalf("current selection = %+v, want %+v", cur, lakeside)
	}
}

func TestKeyedMutex(t *testing.T) {
	var k keyedMutex
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("v1")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
}

func TestCollectionService_NameAndIDShareOneVillage(t *testing.T) {
	svc, backend := newTestService(t, nil)
	ctx := context.Background()
	byName := core.VillageRef{Name: "riverside"}
	byID := core.VillageRef{ID: "v1"}

	rec := mustCreate(t, svc, byName, core.RawRecord{"date": "2024-03-05", "customers": 2})
	if rec.Village.ID != "v1" || rec.Village.Name != "Riverside" {
		t.Fatalf("expected the village to be resolved, got %+v", rec.Village)
	}

	st, err := svc.Open(ctx, byID)
	if err != nil {
		t.Fatalf("Open by id: %v", err)
	}
	if st.Len() != 1 {
		t.Fatalf("record created by name not visible by id: %d records", st.Len())
	}
	if _, err := svc.Create(ctx, riverside, core.RawRecord{"date": "2024-03-05T17:00:00"}); !errors.Is(err, core.ErrDuplicateDate) {
		t.Fatalf("expected duplicate date across name and id, got %v", err)
	}

	// A row saved without a village id still belongs to the village.
	if _, err := backend.Store.Create(ctx, core.RawRecord{"villageName": "Riverside", "date": "2024-03-06"}); err != nil {
		t.Fatalf("seed name-only row: %v", err)
	}
	st, err = svc.Refresh(ctx, riverside)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if st.Len() != 2 {
		t.Fatalf("expected the name-only row in the id view, got %d records", st.Len())
	}
	if _, err := svc.Create(ctx, byID, core.RawRecord{"date": "2024-03-06"}); !errors.Is(err, core.ErrDuplicateDate) {
		t.Fatalf("expected duplicate date against the name-only row, got %v", err)
	}
	if st, _ := svc.Refresh(ctx, byName); st.Len() != 2 {
		t.Fatalf("name view disagrees with id view: %d records", st.Len())
	}
	if backend.creates.Load() != 1 {
		t.Fatalf("rejected creates reached the backend: %d calls", backend.creates.Load())
	}
}
