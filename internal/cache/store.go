package cache

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/MrSnakeDoc/wxproxy/internal/logger"
)

// Entry is a captured response. Entries are replaced wholesale, never
// mutated after Set.
type Entry struct {
	Key        string
	Body       []byte
	Status     int
	Header     http.Header
	CapturedAt time.Time
}

// Store is a time-bounded response cache. Time is the only eviction
// pressure: no size cap, no LRU.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	ttl       time.Duration
	interval  time.Duration
	now       func() time.Time
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
}

type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSweepInterval overrides the sweep period, which defaults to the TTL.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.interval = d
		}
	}
}

func New(ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		entries:  make(map[string]Entry),
		ttl:      ttl,
		interval: ttl,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) TTL() time.Duration { return s.ttl }

// Get returns the entry for key unless it is missing or expired. Expired
// entries are evicted on the way out.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}

	if s.expired(e, s.now()) {
		s.mu.Lock()
		// re-check: a concurrent Set may have refreshed it
		if cur, ok := s.entries[key]; ok && s.expired(cur, s.now()) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return Entry{}, false
	}
	return e, true
}

func (s *Store) Set(key string, e Entry) {
	e.Key = key
	if e.CapturedAt.IsZero() {
		e.CapturedAt = s.now()
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

// Sweep evicts every expired entry and reports how many it removed.
func (s *Store) Sweep() int {
	now := s.now()
	removed := 0

	s.mu.Lock()
	for key, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()

	return removed
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Start runs Sweep on every interval tick until ctx is done or Stop is called.
// It returns immediately; calling it twice is a no-op.
func (s *Store) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.loop(ctx)
	})
}

// Stop halts the sweeper and waits for it to exit. Safe to call without Start.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })

	started := true
	s.startOnce.Do(func() {
		started = false
		close(s.done)
	})
	if started {
		<-s.done
	}
}

func (s *Store) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logger.Debug("cache sweep evicted %d entries (%d left)", n, s.Len())
			}
		}
	}
}

// expired treats an entry as gone once its age reaches the TTL.
func (s *Store) expired(e Entry, now time.Time) bool {
	return now.Sub(e.CapturedAt) >= s.ttl
}
