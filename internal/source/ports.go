package source

import (
	"context"
	"strings"
	"time"

	"villagecash/internal/core"
)

// Ports for the collaborators the collection service talks to.
type (
	// Query selects the records to fetch. VillageID wins over VillageName
	// when both are set; Date narrows the result to one day.
	Query struct {
		VillageID   string
		VillageName string
		Date        core.DayKey
	}

	Loader interface {
		FetchRecords(ctx context.Context, q Query) ([]core.RawRecord, error)
		// FetchServerTime returns the backend's notion of now, used to
		// decide what "today" is.
		FetchServerTime(ctx context.Context) (time.Time, error)
	}

	Persister interface {
		Create(ctx context.Context, in core.RawRecord) (core.RawRecord, error)
		Update(ctx context.Context, id string, patch core.RawRecord) (core.RawRecord, error)
		Delete(ctx context.Context, id string) error
	}

	// VillageLister lists the villages known to a backend.
	VillageLister interface {
		ListVillages(ctx context.Context) ([]core.Village, error)
	}

	// Backend is what a data backend provides.
	Backend interface {
		Loader
		Persister
		VillageLister
	}
)

// QueryFor builds the query selecting every record of village.
func QueryFor(v core.VillageRef) Query {
	return Query{VillageID: strings.TrimSpace(v.ID), VillageName: strings.TrimSpace(v.Name)}
}

// Key is a stable cache key for the query.
func (q Query) Key() string {
	var b strings.Builder
	if q.VillageID != "" {
		b.WriteString("id:" + q.VillageID)
	} else {
		b.WriteString("name:" + strings.ToLower(q.VillageName))
	}
	if q.Date.Valid() {
		b.WriteString("@" + string(q.Date))
	}
	return b.String()
}

// Village returns the village part of the query.
func (q Query) Village() core.VillageRef {
	return core.VillageRef{ID: q.VillageID, Name: q.VillageName}
}

// Matches reports whether a normalized record satisfies the query, with the
// same precedence the backends apply. The id decides when both sides carry
// one; a record saved without an id is matched by name.
func (q Query) Matches(r core.Record) bool {
	rid := strings.TrimSpace(r.Village.ID)
	switch {
	case q.VillageID != "" && rid != "":
		if rid != q.VillageID {
			return false
		}
	case q.VillageName != "":
		if !strings.EqualFold(strings.TrimSpace(r.Village.Name), q.VillageName) {
			return false
		}
	case q.VillageID != "":
		return false
	}
	if q.Date.Valid() && r.Date != q.Date {
		return false
	}
	return true
}
