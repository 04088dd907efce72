// Package cache holds the fetch cache behind the record loaders.
package cache

import (
	"sync"
	"time"
)

// Cache is what the loaders need from a cache.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	// DeleteFunc removes every key match accepts and returns the count.
	DeleteFunc(match func(key string) bool) int
}

// Cleaner is a cache that can drop its expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Manager sweeps registered caches on a ticker so expired fetches do not
// pile up between reads.
type Manager struct {
	caches  []Cleaner
	onClean func(removed int)

	stop     chan struct{}
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// NewManager creates a manager. onClean, when not nil, receives the number
// of entries a sweep removed whenever it removed any.
func NewManager(onClean func(removed int)) *Manager {
	return &Manager{onClean: onClean, stop: make(chan struct{}), done: make(chan struct{})}
}

// Register adds a cache. Call before StartCleanup.
func (m *Manager) Register(c Cleaner) {
	m.caches = append(m.caches, c)
}

// StartCleanup sweeps every interval until Stop.
func (m *Manager) StartCleanup(interval time.Duration) {
	m.started = true
	go func() {
		defer close(m.done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-t.C:
				if n := m.CleanNow(); n > 0 && m.onClean != nil {
					m.onClean(n)
				}
			}
		}
	}()
}

// CleanNow sweeps every registered cache once.
func (m *Manager) CleanNow() int {
	n := 0
	for _, c := range m.caches {
		n += c.CleanExpired()
	}
	return n
}

// Stop ends the sweeping started by StartCleanup and waits for it. Calling
// it again, or without StartCleanup, is a no-op.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		if m.started {
			<-m.done
		}
	})
}
