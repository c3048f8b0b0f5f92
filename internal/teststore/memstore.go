// Package teststore is an in-memory store.Store used by this repository's
// own tests. It is never imported by the odm package itself — a real
// deployment supplies its own store.Store backed by an actual bucket. The
// CAS token comes from one atomic counter per Store: a number that only
// ever goes up.
package teststore

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/kartikbazzad/bundoc-odm/store"
)

type entry struct {
	value []byte
	cas   uint64
	// locked is true while a GetAndLock hold is outstanding. Unlock with
	// the entry's current cas, an Upsert of the entry, or removing it
	// releases the hold; writes themselves are only checked against cas.
	locked bool
}

// Store is a goroutine-safe, non-persistent store.Store implementation.
type Store struct {
	mu      sync.Mutex
	data    map[string]*entry
	counter atomic.Uint64
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[string]*entry)}
}

func (s *Store) nextCas() uint64 { return s.counter.Add(1) }

func (s *Store) Get(ctx context.Context, key string) (store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok {
		return store.Item{}, &store.Error{Kind: store.KindNotFound, Op: "Get", Key: key}
	}
	return store.Item{Value: append([]byte(nil), e.value...), Cas: e.cas}, nil
}

func (s *Store) GetMulti(ctx context.Context, keys []string) (map[string]store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]store.Item, len(keys))
	for _, key := range keys {
		if e, ok := s.data[key]; ok {
			out[key] = store.Item{Value: append([]byte(nil), e.value...), Cas: e.cas}
		}
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, key string, value []byte, opts store.WriteOptions) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return 0, &store.Error{Kind: store.KindFatal, Op: "Insert", Key: key}
	}
	cas := s.nextCas()
	s.data[key] = &entry{value: append([]byte(nil), value...), cas: cas}
	return cas, nil
}

func (s *Store) Replace(ctx context.Context, key string, value []byte, opts store.WriteOptions) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.data[key]
	if !exists {
		return 0, &store.Error{Kind: store.KindNotFound, Op: "Replace", Key: key}
	}
	if opts.Cas != 0 && e.cas != opts.Cas {
		return 0, &store.Error{Kind: store.KindCasMismatch, Op: "Replace", Key: key}
	}
	cas := s.nextCas()
	e.value = append([]byte(nil), value...)
	e.cas = cas
	return cas, nil
}

func (s *Store) Upsert(ctx context.Context, key string, value []byte, opts store.WriteOptions) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.data[key]
	if exists && opts.Cas != 0 && e.cas != opts.Cas {
		return 0, &store.Error{Kind: store.KindCasMismatch, Op: "Upsert", Key: key}
	}
	cas := s.nextCas()
	if exists {
		e.value = append([]byte(nil), value...)
		e.cas = cas
		e.locked = false
	} else {
		s.data[key] = &entry{value: append([]byte(nil), value...), cas: cas}
	}
	return cas, nil
}

func (s *Store) Remove(ctx context.Context, key string, opts store.WriteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.data[key]
	if !exists {
		return &store.Error{Kind: store.KindNotFound, Op: "Remove", Key: key}
	}
	if opts.Cas != 0 && e.cas != opts.Cas {
		return &store.Error{Kind: store.KindCasMismatch, Op: "Remove", Key: key}
	}
	delete(s.data, key)
	return nil
}

func (s *Store) Counter(ctx context.Context, key string, delta int64, initial int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.data[key]
	if !exists {
		s.data[key] = &entry{value: []byte(strconv.FormatInt(initial, 10)), cas: s.nextCas()}
		return initial, nil
	}
	cur, _ := strconv.ParseInt(string(e.value), 10, 64)
	cur += delta
	e.value = []byte(strconv.FormatInt(cur, 10))
	e.cas = s.nextCas()
	return cur, nil
}

func (s *Store) GetAndLock(ctx context.Context, key string, ttlSeconds int) (store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.data[key]
	if !exists {
		return store.Item{}, &store.Error{Kind: store.KindNotFound, Op: "GetAndLock", Key: key}
	}
	if e.locked {
		return store.Item{}, &store.Error{Kind: store.KindTemporary, Op: "GetAndLock", Key: key}
	}
	e.locked = true
	return store.Item{Value: append([]byte(nil), e.value...), Cas: e.cas}, nil
}

func (s *Store) Unlock(ctx context.Context, key string, cas uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.data[key]
	if !exists {
		return &store.Error{Kind: store.KindNotFound, Op: "Unlock", Key: key}
	}
	if e.cas != cas {
		return &store.Error{Kind: store.KindCasMismatch, Op: "Unlock", Key: key}
	}
	e.locked = false
	return nil
}
