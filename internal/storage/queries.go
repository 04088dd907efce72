package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

type Collection struct {
	ID                  string
	VillageID           sql.NullString
	VillageName         sql.NullString
	VillageKey          string
	Day                 string
	HouseholdsCollected sql.NullInt64
	AmountCents         sql.NullInt64
	CreatedAt           string
	UpdatedAt           string
}

const collectionColumns = `id, village_id, village_name, village_key, day, households_collected, amount_cents, created_at, updated_at`

func scanCollection(row interface{ Scan(...any) error }) (Collection, error) {
	var c Collection
	err := row.Scan(&c.ID, &c.VillageID, &c.VillageName, &c.VillageKey, &c.Day,
		&c.HouseholdsCollected, &c.AmountCents, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

const createCollection = `INSERT INTO collections (id, village_id, village_name, village_key, day, households_collected, amount_cents)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING ` + collectionColumns

type CreateCollectionParams struct {
	ID                  string
	VillageID           sql.NullString
	VillageName         sql.NullString
	VillageKey          string
	Day                 string
	HouseholdsCollected sql.NullInt64
	AmountCents         sql.NullInt64
}

func (q *Queries) CreateCollection(ctx context.Context, arg CreateCollectionParams) (Collection, error) {
	row := q.db.QueryRowContext(ctx, createCollection,
		arg.ID, arg.VillageID, arg.VillageName, arg.VillageKey, arg.Day, arg.HouseholdsCollected, arg.AmountCents)
	return scanCollection(row)
}

const getCollection = `SELECT ` + collectionColumns + ` FROM collections WHERE id = ?`

func (q *Queries) GetCollection(ctx context.Context, id string) (Collection, error) {
	return scanCollection(q.db.QueryRowContext(ctx, getCollection, id))
}

const updateCollection = `UPDATE collections
SET village_id = ?, village_name = ?, village_key = ?, day = ?, households_collected = ?, amount_cents = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?
RETURNING ` + collectionColumns

type UpdateCollectionParams struct {
	ID                  string
	VillageID           sql.NullString
	VillageName         sql.NullString
	VillageKey          string
	Day                 string
	HouseholdsCollected sql.NullInt64
	AmountCents         sql.NullInt64
}

func (q *Queries) UpdateCollection(ctx context.Context, arg UpdateCollectionParams) (Collection, error) {
	row := q.db.QueryRowContext(ctx, updateCollection,
		arg.VillageID, arg.VillageName, arg.VillageKey, arg.Day, arg.HouseholdsCollected, arg.AmountCents, arg.ID)
	return scanCollection(row)
}

const deleteCollection = `DELETE FROM collections WHERE id = ?`

func (q *Queries) DeleteCollection(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteCollection, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Rows saved without a village id are matched on the village name.
const listCollectionsByVillageID = `SELECT ` + collectionColumns + `
FROM collections
WHERE (village_id = ? OR (COALESCE(village_id, '') = '' AND ? <> '' AND lower(village_name) = lower(?)))
  AND (? = '' OR day = ?)
ORDER BY day DESC, created_at ASC`

func (q *Queries) ListCollectionsByVillageID(ctx context.Context, villageID, villageName, day string) ([]Collection, error) {
	return q.listCollections(ctx, listCollectionsByVillageID, villageID, villageName, villageName, day, day)
}

const listCollectionsByVillageName = `SELECT ` + collectionColumns + `
FROM collections
WHERE lower(village_name) = lower(?) AND (? = '' OR day = ?)
ORDER BY day DESC, created_at ASC`

func (q *Queries) ListCollectionsByVillageName(ctx context.Context, villageName, day string) ([]Collection, error) {
	return q.listCollections(ctx, listCollectionsByVillageName, villageName, day, day)
}

func (q *Queries) listCollections(ctx context.Context, query string, args ...interface{}) ([]Collection, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const serverTime = `SELECT strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`

func (q *Queries) ServerTime(ctx context.Context) (string, error) {
	var s string
	err := q.db.QueryRowContext(ctx, serverTime).Scan(&s)
	return s, err
}

type Village struct {
	ID   string
	Name string
}

const createVillage = `INSERT INTO villages (id, name) VALUES (?, ?) RETURNING id, name`

func (q *Queries) CreateVillage(ctx context.Context, id, name string) (Village, error) {
	var v Village
	err := q.db.QueryRowContext(ctx, createVillage, id, name).Scan(&v.ID, &v.Name)
	return v, err
}

const getVillageByName = `SELECT id, name FROM villages WHERE lower(name) = lower(?)`

func (q *Queries) GetVillageByName(ctx context.Context, name string) (Village, error) {
	var v Village
	err := q.db.QueryRowContext(ctx, getVillageByName, name).Scan(&v.ID, &v.Name)
	return v, err
}

const listVillages = `SELECT id, name FROM villages ORDER BY name`

const listCollectionVillages = `SELECT DISTINCT COALESCE(village_id, ''), COALESCE(village_name, '') FROM collections ORDER BY 2, 1`

func (q *Queries) ListVillages(ctx context.Context) ([]Village, error) {
	return q.listVillages(ctx, listVillages)
}

func (q *Queries) ListCollectionVillages(ctx context.Context) ([]Village, error) {
	return q.listVillages(ctx, listCollectionVillages)
}

func (q *Queries) listVillages(ctx context.Context, query string) ([]Village, error) {
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Village
	for rows.Next() {
		var v Village
		if err := rows.Scan(&v.ID, &v.Name); err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}
