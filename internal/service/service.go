// Package service orchestrates the event pipeline: validated writes to the
// primary store, cache-aside reads with tag invalidation, best-effort search
// indexing, bus publication, and realtime notification. Collaborators are
// injected so transports and tests can swap implementations freely.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/errsight/errsight/internal/bus"
	"github.com/errsight/errsight/internal/cache"
	"github.com/errsight/errsight/internal/idgen"
	"github.com/errsight/errsight/internal/model"
	"github.com/errsight/errsight/internal/search"
	"github.com/errsight/errsight/internal/store"
)

// Notification topics for realtime subscribers.
const (
	TopicEventCreated = "events.created"
)

// sideEffectTimeout bounds each detached side effect after the create
// response has been returned.
const sideEffectTimeout = 10 * time.Second

// Reference list cache keys.
const (
	keySubjects   = "events:subjects"
	keyCategories = "events:categories"
	keyURLs       = "events:urls"
)

// Notifier pushes payloads to realtime subscribers. Implementations must
// not block.
type Notifier interface {
	Broadcast(topic string, payload any)
}

// NoopNotifier discards broadcasts.
type NoopNotifier struct{}

func (NoopNotifier) Broadcast(string, any) {}

// Service is the application core. All reads are cache-aside; all side
// effects of a create run detached from the caller.
type Service struct {
	store    store.Store
	search   *search.Adapter
	cache    *cache.TaggedCache
	producer bus.Producer
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

// Options configures optional collaborators. Nil fields get no-op or
// default implementations.
type Options struct {
	Producer bus.Producer
	Notifier Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// New wires a Service. Store, search adapter and cache are required.
func New(st store.Store, sr *search.Adapter, ca *cache.TaggedCache, opts Options) *Service {
	if opts.Producer == nil {
		opts.Producer = &bus.NoopProducer{}
	}
	if opts.Notifier == nil {
		opts.Notifier = NoopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:    st,
		search:   sr,
		cache:    ca,
		producer: opts.Producer,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Create validates and persists an event, then kicks off the detached side
// effects: search indexing, bus publication, realtime broadcast, and cache
// invalidation. Only the primary store write can fail the call.
func (s *Service) Create(ctx context.Context, c *model.EventCreate) (*model.Event, error) {
	return s.create(ctx, c, true)
}

// Ingest is the bus-side entry point. It runs the same pipeline as Create
// but never republishes to the bus, so a consumed event cannot loop.
func (s *Service) Ingest(ctx context.Context, c *model.EventCreate) (*model.Event, error) {
	return s.create(ctx, c, false)
}

func (s *Service) create(ctx context.Context, c *model.EventCreate, publish bool) (*model.Event, error) {
	now := s.now().UTC()
	if err := model.ValidateCreate(c, now); err != nil {
		return nil, err
	}

	id, err := idgen.Generate()
	if err != nil {
		return nil, fmt.Errorf("creating event: %w", err)
	}
	event := &model.Event{
		ID:        id,
		Timestamp: c.Timestamp.UTC(),
		SubjectID: c.SubjectID,
		Category:  c.Category,
		SourceURL: c.SourceURL,
		Message:   c.Message,
		Trace:     c.Trace,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, &DependencyError{Dependency: "store", Err: err}
	}

	s.detach(func(ctx context.Context) {
		s.search.Index(ctx, event)
	})
	if publish {
		s.detach(func(ctx context.Context) {
			if err := s.producer.PublishEvent(ctx, event.ID, c); err != nil {
				s.logger.Warn("failed to publish event", "event_id", event.ID, "error", err)
			}
		})
	}
	s.detach(func(ctx context.Context) {
		s.notifier.Broadcast(TopicEventCreated, event)
	})
	s.detach(func(ctx context.Context) {
		s.invalidateFor(ctx, event)
	})

	return event, nil
}

// Registry returns the bus handler bindings for this service.
func (s *Service) Registry() *bus.Registry {
	return &bus.Registry{
		ErrorEvent: func(ctx context.Context, payload *model.EventCreate) error {
			_, err := s.Ingest(ctx, payload)
			return err
		},
	}
}

// GetByID returns one event, cache-aside with a 10 minute TTL. Absence is
// returned as NotFoundError and never cached.
func (s *Service) GetByID(ctx context.Context, id string) (*model.Event, error) {
	key := cache.DeriveKey(cache.ScopeEvent, map[string]string{"id": id})

	if hit, ok := s.cacheGet(ctx, key); ok {
		var event model.Event
		if err := json.Unmarshal(hit, &event); err == nil {
			return &event, nil
		}
	}

	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, &DependencyError{Dependency: "store", Err: err}
	}
	if event == nil {
		return nil, &NotFoundError{Kind: "event", ID: id}
	}

	tags := []string{cache.ScopeEvent, cache.SubjectTag(event.SubjectID), cache.CategoryTag(event.Category)}
	s.cacheSet(ctx, key, event, cache.LookupTTL, tags)
	return event, nil
}

// Search returns a page of events matching the filter, cache-aside. Engine
// failures fall back to the primary store inside the adapter; the caller
// sees results either way.
func (s *Service) Search(ctx context.Context, filter model.Filter) (*model.SearchResult, error) {
	filter.Normalize()
	params := filter.Params()
	key := cache.DeriveKey(cache.ScopeSearch, params)

	if hit, ok := s.cacheGet(ctx, key); ok {
		var result model.SearchResult
		if err := json.Unmarshal(hit, &result); err == nil {
			return &result, nil
		}
	}

	events, total, err := s.search.Search(ctx, filter)
	if err != nil {
		return nil, &DependencyError{Dependency: "store", Err: err}
	}
	result := model.NewSearchResult(events, total, &filter)

	s.cacheSet(ctx, key, result, cache.LookupTTL, cache.DeriveTags(cache.ScopeSearch, params))
	return result, nil
}

// Stats returns the aggregation summary for the filter, cache-aside.
// Pagination and sort do not change the aggregates, so they are left out of
// the cache key.
func (s *Service) Stats(ctx context.Context, filter model.Filter) (*model.Stats, error) {
	keyFilter := filter
	keyFilter.Page, keyFilter.PageSize = 0, 0
	keyFilter.SortField, keyFilter.SortDesc = "", false
	params := keyFilter.Params()
	key := cache.DeriveKey(cache.ScopeStats, params)

	if hit, ok := s.cacheGet(ctx, key); ok {
		var stats model.Stats
		if err := json.Unmarshal(hit, &stats); err == nil {
			return &stats, nil
		}
	}

	stats, err := s.search.Stats(ctx, filter)
	if err != nil {
		return nil, &DependencyError{Dependency: "store", Err: err}
	}

	s.cacheSet(ctx, key, stats, cache.LookupTTL, cache.DeriveTags(cache.ScopeStats, params))
	return stats, nil
}

// Subjects lists distinct subject ids, cached for 30 minutes.
func (s *Service) Subjects(ctx context.Context) ([]string, error) {
	return s.reference(ctx, keySubjects, store.FieldSubjectID)
}

// Categories lists distinct categories, cached for 30 minutes.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	return s.reference(ctx, keyCategories, store.FieldCategory)
}

// SourceURLs lists distinct source URLs, cached for 30 minutes.
func (s *Service) SourceURLs(ctx context.Context) ([]string, error) {
	return s.reference(ctx, keyURLs, store.FieldSourceURL)
}

func (s *Service) reference(ctx context.Context, key string, field store.Field) ([]string, error) {
	if hit, ok := s.cacheGet(ctx, key); ok {
		var values []string
		if err := json.Unmarshal(hit, &values); err == nil {
			return values, nil
		}
	}

	values, err := s.store.Distinct(ctx, field)
	if err != nil {
		return nil, &DependencyError{Dependency: "store", Err: err}
	}
	if values == nil {
		values = []string{}
	}

	s.cacheSet(ctx, key, values, cache.ReferenceTTL, []string{cache.TagReference})
	return values, nil
}

// invalidateFor drops every cached read the new event could change.
func (s *Service) invalidateFor(ctx context.Context, event *model.Event) {
	inv, err := s.cache.InvalidateTags(ctx,
		cache.ScopeSearch,
		cache.ScopeStats,
		cache.SubjectTag(event.SubjectID),
		cache.CategoryTag(event.Category),
		cache.TagSearch,
		cache.TagDateRange,
		cache.TagReference,
	)
	if err != nil {
		s.logger.Warn("failed to invalidate cache", "event_id", event.ID, "error", err)
		return
	}
	if inv.Invalidated > 0 {
		s.logger.Debug("invalidated cache entries", "event_id", event.ID, "count", inv.Invalidated)
	}
}

// cacheGet reads one entry; a degraded cache is logged and treated as a miss.
func (s *Service) cacheGet(ctx context.Context, key string) (json.RawMessage, bool) {
	res, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !res.Hit {
		return nil, false
	}
	return res.Value, true
}

// cacheSet writes one entry; a degraded cache is logged and skipped.
func (s *Service) cacheSet(ctx context.Context, key string, value any, ttl time.Duration, tags []string) {
	if err := s.cache.Set(ctx, key, value, ttl, tags); err != nil {
		s.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// detach runs fn in the background with its own deadline, tracked so Wait
// can drain in-flight work at shutdown.
func (s *Service) detach(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until all detached side effects have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
