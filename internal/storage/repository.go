package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"villagecash/internal/core"
	"villagecash/internal/source"

	_ "modernc.org/sqlite"
)

var _ source.Backend = (*SQLiteRepository)(nil)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("SQLite schema ready", "path", dbPath, "version", version)

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// FetchRecords implements source.Loader. Rows come back with the read-path
// field names (householdsCollected, amountCollected).
func (r *SQLiteRepository) FetchRecords(ctx context.Context, q source.Query) ([]core.RawRecord, error) {
	var (
		rows []Collection
		err  error
	)
	day := ""
	if q.Date.Valid() {
		day = string(q.Date)
	}
	switch {
	case q.VillageID != "":
		rows, err = r.queries.ListCollectionsByVillageID(ctx, q.VillageID, q.VillageName, day)
	case q.VillageName != "":
		rows, err = r.queries.ListCollectionsByVillageName(ctx, q.VillageName, day)
	default:
		return nil, errors.New("query needs a village id or name")
	}
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	out := make([]core.RawRecord, len(rows))
	for i, c := range rows {
		out[i] = readRaw(c)
	}
	return out, nil
}

// FetchServerTime implements source.Loader using the database clock.
func (r *SQLiteRepository) FetchServerTime(ctx context.Context) (time.Time, error) {
	s, err := r.queries.ServerTime(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("read server time: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse server time %q: %w", s, err)
	}
	return t, nil
}

// Create implements source.Persister.
func (r *SQLiteRepository) Create(ctx context.Context, in core.RawRecord) (core.RawRecord, error) {
	rec, err := core.FromRaw(in)
	if err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if rec.Village.IsZero() {
		return nil, &core.ValidationError{Field: "village", Reason: "village id or name required"}
	}
	if rec.Village.ID == "" {
		// A registered village is always keyed by its id.
		v, err := r.queries.GetVillageByName(ctx, rec.Village.Name)
		switch {
		case err == nil:
			rec.Village = core.VillageRef{ID: v.ID, Name: v.Name}
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("look up village: %w", err)
		}
	}

	c, err := r.queries.CreateCollection(ctx, CreateCollectionParams{
		ID:                  uuid.NewString(),
		VillageID:           nullString(rec.Village.ID),
		VillageName:         nullString(rec.Village.Name),
		VillageKey:          rec.Village.Key(),
		Day:                 string(rec.Date),
		HouseholdsCollected: nullInt(rec.Customers),
		AmountCents:         nullAmount(rec.Amount),
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &core.DuplicateDateError{Village: rec.Village, Date: rec.Date}
		}
		return nil, fmt.Errorf("create collection: %w", err)
	}

	slog.InfoContext(ctx, "Collection saved to SQLite",
		"id", c.ID,
		"village_key", c.VillageKey,
		"day", c.Day,
		"households_collected", c.HouseholdsCollected.Int64,
		"amount_cents", c.AmountCents.Int64)

	return core.ToRaw(toRecord(c)), nil
}

// Update implements source.Persister.
func (r *SQLiteRepository) Update(ctx context.Context, id string, patch core.RawRecord) (core.RawRecord, error) {
	current, err := r.queries.GetCollection(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}

	merged, err := core.Merge(toRecord(current), patch)
	if err != nil {
		return nil, err
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	c, err := r.queries.UpdateCollection(ctx, UpdateCollectionParams{
		ID:                  id,
		VillageID:           nullString(merged.Village.ID),
		VillageName:         nullString(merged.Village.Name),
		VillageKey:          merged.Village.Key(),
		Day:                 string(merged.Date),
		HouseholdsCollected: nullInt(merged.Customers),
		AmountCents:         nullAmount(merged.Amount),
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &core.DuplicateDateError{Village: merged.Village, Date: merged.Date}
		}
		return nil, fmt.Errorf("update collection: %w", err)
	}

	slog.InfoContext(ctx, "Collection updated in SQLite", "id", c.ID, "day", c.Day)
	return readRaw(c), nil
}

// Delete implements source.Persister.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	n, err := r.queries.DeleteCollection(ctx, id)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	if n == 0 {
		return &core.NotFoundError{ID: id}
	}
	slog.InfoContext(ctx, "Collection deleted from SQLite", "id", id)
	return nil
}

// ListVillages implements source.VillageLister: registered villages first,
// then villages only referenced by collections.
func (r *SQLiteRepository) ListVillages(ctx context.Context) ([]core.Village, error) {
	registered, err := r.queries.ListVillages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list villages: %w", err)
	}
	referenced, err := r.queries.ListCollectionVillages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collection villages: %w", err)
	}

	var out []core.Village
	add := func(v Village) {
		ref := core.VillageRef{ID: v.ID, Name: v.Name}
		if ref.IsZero() {
			return
		}
		for _, o := range out {
			if o.Ref().Matches(ref) || o.Ref().Key() == ref.Key() {
				return
			}
		}
		out = append(out, core.Village{ID: v.ID, Name: v.Name})
	}
	for _, v := range registered {
		add(v)
	}
	for _, v := range referenced {
		add(v)
	}
	return out, nil
}

// CreateVillage registers a village under a fresh id.
func (r *SQLiteRepository) CreateVillage(ctx context.Context, name string) (core.Village, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Village{}, &core.ValidationError{Field: "name", Reason: "village name required"}
	}
	v, err := r.queries.CreateVillage(ctx, uuid.NewString(), name)
	if err != nil {
		return core.Village{}, fmt.Errorf("create village: %w", err)
	}
	slog.InfoContext(ctx, "Village created", "id", v.ID, "name", v.Name)
	return core.Village{ID: v.ID, Name: v.Name}, nil
}

func toRecord(c Collection) core.Record {
	rec := core.Record{
		ID:      c.ID,
		Village: core.VillageRef{ID: c.VillageID.String, Name: c.VillageName.String},
		Date:    core.DayKey(c.Day),
	}
	if c.HouseholdsCollected.Valid {
		rec.Customers = core.Int64Ptr(c.HouseholdsCollected.Int64)
	}
	if c.AmountCents.Valid {
		rec.Amount = core.MoneyPtr(c.AmountCents.Int64)
	}
	return rec
}

func readRaw(c Collection) core.RawRecord {
	raw := core.RawRecord{"_id": c.ID, "date": c.Day}
	if c.VillageID.Valid {
		raw["village"] = c.VillageID.String
	}
	if c.VillageName.Valid {
		raw["villageName"] = c.VillageName.String
	}
	if c.HouseholdsCollected.Valid {
		raw["householdsCollected"] = c.HouseholdsCollected.Int64
	}
	if c.AmountCents.Valid {
		raw["amountCollected"] = core.Money{Cents: c.AmountCents.Int64}.String()
	}
	return raw
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullAmount(m *core.Money) sql.NullInt64 {
	if m == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: m.Cents, Valid: true}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
