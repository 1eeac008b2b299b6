package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

type Key struct {
	Source string
	Path   string
}

type Entry struct {
	Value   any
	Updated time.Time
}

type snapshot map[Key]Entry

// Store is a copy-on-write map of the latest bus values. Writers (the bus
// feeders) build a new snapshot under a lock; readers load the current one
// without locking and never see a partially applied batch.
type Store struct {
	// values older than MaxAge are reported as missing, 0 disables the check
	MaxAge time.Duration

	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
	now  func() time.Time
}

func NewStore(maxAge time.Duration) *Store {
	s := &Store{MaxAge: maxAge, now: time.Now}
	s.snap.Store(&snapshot{})
	return s
}

func (s *Store) Get(source, path string) (any, bool) {
	e, ok := (*s.snap.Load())[Key{Source: source, Path: path}]
	if !ok || e.Value == nil {
		return nil, false
	}
	if s.MaxAge > 0 && s.now().Sub(e.Updated) > s.MaxAge {
		return nil, false
	}
	return e.Value, true
}

func (s *Store) Put(source, path string, value any) {
	s.PutAll(map[Key]any{{Source: source, Path: path}: value})
}

// PutAll applies a batch of values as a single snapshot. A nil value removes
// the key.
func (s *Store) PutAll(values map[Key]any) {
	if len(values) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	old := *s.snap.Load()
	next := make(snapshot, len(old)+len(values))
	for k, e := range old {
		next[k] = e
	}
	for k, v := range values {
		if v == nil {
			delete(next, k)
			continue
		}
		next[k] = Entry{Value: v, Updated: now}
	}
	s.snap.Store(&next)
}

// DeleteSource drops every value of a source that left the bus.
func (s *Store) DeleteSource(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := *s.snap.Load()
	next := make(snapshot, len(old))
	for k, e := range old {
		if k.Source != source {
			next[k] = e
		}
	}
	s.snap.Store(&next)
}

// Sources lists the sources currently holding at least one value.
func (s *Store) Sources() []string {
	seen := map[string]struct{}{}
	var sources []string
	for k := range *s.snap.Load() {
		if _, ok := seen[k.Source]; !ok {
			seen[k.Source] = struct{}{}
			sources = append(sources, k.Source)
		}
	}
	return sources
}

func (s *Store) Len() int {
	return len(*s.snap.Load())
}
