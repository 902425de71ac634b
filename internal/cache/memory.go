package cache

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type memoryItem struct {
	value   []byte
	expires time.Time
}

// MemoryStore implements Store in process memory. Values live in a
// concurrent map with their physical expiry; tag sets are maps of member
// keys. Pub/sub is in-process with drop-on-full delivery.
type MemoryStore struct {
	kv   *xsync.MapOf[string, memoryItem]
	sets *xsync.MapOf[string, *xsync.MapOf[string, struct{}]]

	mu     sync.Mutex
	subs   map[string]map[chan []byte]struct{}
	closed bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-process Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:   xsync.NewMapOf[string, memoryItem](),
		sets: xsync.NewMapOf[string, *xsync.MapOf[string, struct{}]](),
		subs: make(map[string]map[chan []byte]struct{}),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, ok := s.kv.Load(key)
	if !ok {
		return nil, false, nil
	}
	if !item.expires.IsZero() && time.Now().After(item.expires) {
		s.kv.Delete(key)
		return nil, false, nil
	}
	return item.value, true, nil
}

func (s *MemoryStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expires = time.Now().Add(ttl)
	}
	s.kv.Store(key, item)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) (int, error) {
	deleted := 0
	for _, key := range keys {
		if _, ok := s.kv.LoadAndDelete(key); ok {
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) AddMember(_ context.Context, set, member string) error {
	members, _ := s.sets.LoadOrStore(set, xsync.NewMapOf[string, struct{}]())
	members.Store(member, struct{}{})
	return nil
}

func (s *MemoryStore) Members(_ context.Context, set string) ([]string, error) {
	members, ok := s.sets.Load(set)
	if !ok {
		return nil, nil
	}
	var out []string
	members.Range(func(member string, _ struct{}) bool {
		out = append(out, member)
		return true
	})
	return out, nil
}

func (s *MemoryStore) DeleteSet(_ context.Context, set string) error {
	s.sets.Delete(set)
	return nil
}

func (s *MemoryStore) Publish(_ context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs[channel] {
		select {
		case ch <- payload:
		default:
			// Slow subscriber, drop rather than block the publisher.
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)

	s.mu.Lock()
	if s.subs[channel] == nil {
		s.subs[channel] = make(map[chan []byte]struct{})
	}
	s.subs[channel][ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// Only close if still registered; Close may have beaten us here.
		if _, ok := s.subs[channel][ch]; ok {
			delete(s.subs[channel], ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, chans := range s.subs {
		for ch := range chans {
			close(ch)
		}
	}
	s.subs = make(map[string]map[chan []byte]struct{})
	return nil
}
