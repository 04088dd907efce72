package source

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"villagecash/internal/cache"
	"villagecash/internal/core"
)

// CachedLoader keeps recent FetchRecords results and coalesces concurrent
// fetches of the same query. Server time is never cached.
type CachedLoader struct {
	next  Loader
	cache cache.Cache[[]core.RawRecord]
	group singleflight.Group
}

// NewCachedLoader wraps next with an LRU of the given size and ttl.
func NewCachedLoader(next Loader, size int, ttl time.Duration) (*CachedLoader, *cache.LRUCache[[]core.RawRecord]) {
	lru := cache.NewLRUCache[[]core.RawRecord](size, ttl)
	return &CachedLoader{next: next, cache: lru}, lru
}

func (l *CachedLoader) FetchRecords(ctx context.Context, q Query) ([]core.RawRecord, error) {
	key := q.Key()
	if rows, ok := l.cache.Get(key); ok {
		return cloneRows(rows), nil
	}
	v, err, _ := l.group.Do(key, func() (any, error) {
		rows, err := l.next.FetchRecords(ctx, q)
		if err != nil {
			return nil, err
		}
		l.cache.Set(key, cloneRows(rows))
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneRows(v.([]core.RawRecord)), nil
}

func (l *CachedLoader) FetchServerTime(ctx context.Context) (time.Time, error) {
	return l.next.FetchServerTime(ctx)
}

// Invalidate drops every cached query of village, both by id and by name.
func (l *CachedLoader) Invalidate(village core.VillageRef) {
	prefixes := []string{}
	if id := strings.TrimSpace(village.ID); id != "" {
		prefixes = append(prefixes, "id:"+id)
	}
	if name := strings.TrimSpace(village.Name); name != "" {
		prefixes = append(prefixes, "name:"+strings.ToLower(name))
	}
	l.cache.DeleteFunc(func(key string) bool {
		for _, p := range prefixes {
			if key == p || strings.HasPrefix(key, p+"@") {
				return true
			}
		}
		return false
	})
}

func cloneRows(rows []core.RawRecord) []core.RawRecord {
	out := make([]core.RawRecord, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
