// Package cache implements a read-through cache with tag-based bulk
// invalidation. Entries carry their tags in an envelope; each tag owns a
// reverse-index set of the keys it covers, so invalidating a tag removes
// every entry written under it in one pass.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// InvalidationChannel carries invalidation notices to interested consumers.
const InvalidationChannel = "cache:invalidate"

// Default TTLs per entry class.
const (
	DefaultTTL   = 300 * time.Second
	LookupTTL    = 600 * time.Second
	ReferenceTTL = 1800 * time.Second
)

// Store is the backing key-value store. Get reports a miss with found=false
// and a nil error; errors are reserved for transport failures.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) (int, error)
	AddMember(ctx context.Context, set, member string) error
	Members(ctx context.Context, set string) ([]string, error)
	DeleteSet(ctx context.Context, set string) error
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(channel string) (<-chan []byte, func(), error)
	Close() error
}

// entry is the stored envelope around a cached value. Timestamp is epoch
// milliseconds at write time; TTL is seconds. Expiry is also checked on
// read so a backend without native expiration still honors it.
type entry struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTL       int64           `json:"ttl"`
	Tags      []string        `json:"tags"`
}

func (e *entry) expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.UnixMilli()-e.Timestamp >= e.TTL*1000
}

// Result is the outcome of a cache lookup. Hit is false on a miss or an
// expired entry.
type Result struct {
	Hit   bool
	Value json.RawMessage
	Tags  []string
}

// Invalidation summarizes a tag invalidation pass.
type Invalidation struct {
	Tags         []string `json:"tags"`
	AffectedKeys []string `json:"keys"`
	Invalidated  int      `json:"invalidated"`
}

// notice is the payload published on InvalidationChannel.
type notice struct {
	Type      string   `json:"type"`
	Tags      []string `json:"tags"`
	Keys      []string `json:"keys"`
	Timestamp int64    `json:"timestamp"`
}

// TaggedCache layers key namespacing, the entry envelope, and tag bookkeeping
// over a Store.
type TaggedCache struct {
	store  Store
	prefix string
	now    func() time.Time
}

// Option configures a TaggedCache.
type Option func(*TaggedCache)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *TaggedCache) { c.now = now }
}

// New wraps store with the given key namespace prefix.
func New(store Store, prefix string, opts ...Option) *TaggedCache {
	c := &TaggedCache{store: store, prefix: prefix, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TaggedCache) entryKey(key string) string { return c.prefix + ":cache:" + key }
func (c *TaggedCache) tagKey(tag string) string   { return c.prefix + ":tags:" + tag }

// Get fetches and unwraps an entry. A decode failure or an expired entry is
// treated as a miss; the stale entry is deleted best-effort.
func (c *TaggedCache) Get(ctx context.Context, key string) (*Result, error) {
	raw, found, err := c.store.Get(ctx, c.entryKey(key))
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	if !found {
		return &Result{}, nil
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		_, _ = c.store.Delete(ctx, c.entryKey(key))
		return &Result{}, nil
	}
	if e.expired(c.now()) {
		_, _ = c.store.Delete(ctx, c.entryKey(key))
		return &Result{}, nil
	}
	return &Result{Hit: true, Value: e.Data, Tags: e.Tags}, nil
}

// Set stores value under key with the given TTL and registers the key in
// every tag's reverse-index set. A non-positive ttl falls back to DefaultTTL.
func (c *TaggedCache) Set(ctx context.Context, key string, value any, ttl time.Duration, tags []string) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set %s: marshal: %w", key, err)
	}

	e := entry{
		Key:       key,
		Data:      data,
		Timestamp: c.now().UnixMilli(),
		TTL:       int64(ttl / time.Second),
		Tags:      dedupe(tags),
	}
	raw, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("cache set %s: marshal envelope: %w", key, err)
	}
	if err := c.store.SetWithTTL(ctx, c.entryKey(key), raw, ttl); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	for _, tag := range e.Tags {
		if err := c.store.AddMember(ctx, c.tagKey(tag), c.entryKey(key)); err != nil {
			return fmt.Errorf("cache set %s: tag %s: %w", key, tag, err)
		}
	}
	return nil
}

// InvalidateKey removes a single entry. Tag sets are not rewritten; stale
// members are tolerated because invalidation deletes by key and missing
// keys are a no-op.
func (c *TaggedCache) InvalidateKey(ctx context.Context, key string) error {
	if _, err := c.store.Delete(ctx, c.entryKey(key)); err != nil {
		return fmt.Errorf("cache invalidate %s: %w", key, err)
	}
	return nil
}

// InvalidateTags removes every entry registered under any of the given tags,
// drops the tag sets, and publishes an invalidation notice.
func (c *TaggedCache) InvalidateTags(ctx context.Context, tags ...string) (*Invalidation, error) {
	inv := &Invalidation{Tags: tags}
	seen := make(map[string]bool)

	for _, tag := range tags {
		members, err := c.store.Members(ctx, c.tagKey(tag))
		if err != nil {
			return nil, fmt.Errorf("cache invalidate tag %s: %w", tag, err)
		}
		for _, m := range members {
			if !seen[m] {
				seen[m] = true
				inv.AffectedKeys = append(inv.AffectedKeys, m)
			}
		}
	}

	if len(inv.AffectedKeys) > 0 {
		n, err := c.store.Delete(ctx, inv.AffectedKeys...)
		if err != nil {
			return nil, fmt.Errorf("cache invalidate tags: delete: %w", err)
		}
		inv.Invalidated = n
	}
	for _, tag := range tags {
		if err := c.store.DeleteSet(ctx, c.tagKey(tag)); err != nil {
			return nil, fmt.Errorf("cache invalidate tag %s: drop set: %w", tag, err)
		}
	}

	payload, err := json.Marshal(notice{
		Type:      "invalidation",
		Tags:      tags,
		Keys:      inv.AffectedKeys,
		Timestamp: c.now().UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("cache invalidate tags: marshal notice: %w", err)
	}
	if err := c.store.Publish(ctx, InvalidationChannel, payload); err != nil {
		return nil, fmt.Errorf("cache invalidate tags: publish: %w", err)
	}
	return inv, nil
}

// Subscribe delivers invalidation notices published by any cache sharing
// this store.
func (c *TaggedCache) Subscribe() (<-chan []byte, func(), error) {
	return c.store.Subscribe(InvalidationChannel)
}

// Close releases the backing store.
func (c *TaggedCache) Close() error {
	return c.store.Close()
}

func dedupe(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
