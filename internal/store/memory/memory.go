// Package memory implements store.Store in process memory. It backs the
// --dev serve mode and the end-to-end tests; semantics mirror the postgres
// store, including substring matching on the free-text fallback path.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/errsight/errsight/internal/model"
	"github.com/errsight/errsight/internal/store"
)

// MemoryStore implements store.Store with a mutex-guarded slice.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*model.Event
	byID   map[string]*model.Event
}

// Compile-time check that MemoryStore implements store.Store.
var _ store.Store = (*MemoryStore)(nil)

// New returns an empty in-memory store.
func New() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*model.Event)}
}

func (s *MemoryStore) CreateEvent(_ context.Context, event *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[event.ID]; exists {
		return fmt.Errorf("create event: duplicate id %q", event.ID)
	}
	clone := *event
	s.events = append(s.events, &clone)
	s.byID[clone.ID] = &clone
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	clone := *e
	return &clone, nil
}

func (s *MemoryStore) FindEvents(_ context.Context, filter model.Filter) ([]*model.Event, int, error) {
	filter.Normalize()

	s.mu.RLock()
	var matched []*model.Event
	for _, e := range s.events {
		if matches(e, filter) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sortEvents(matched, filter.SortField, filter.SortDesc)

	total := len(matched)
	start := filter.Offset()
	if start > total {
		start = total
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}

	page := make([]*model.Event, 0, end-start)
	for _, e := range matched[start:end] {
		clone := *e
		page = append(page, &clone)
	}
	return page, total, nil
}

func (s *MemoryStore) Distinct(_ context.Context, field store.Field) ([]string, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("distinct: invalid field %q", field)
	}

	s.mu.RLock()
	seen := make(map[string]bool)
	for _, e := range s.events {
		seen[fieldValue(e, field)] = true
	}
	s.mu.RUnlock()

	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)
	return values, nil
}

func (s *MemoryStore) Stats(_ context.Context, filter model.Filter) (*model.Stats, error) {
	s.mu.RLock()
	var matched []*model.Event
	for _, e := range s.events {
		if matches(e, filter) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	stats := &model.Stats{
		CountByCategory: make(map[string]int),
		CountByURL:      make(map[string]int),
	}
	subjects := make(map[string]bool)
	messages := make(map[string]int)
	days := make(map[string]int)

	for _, e := range matched {
		stats.TotalCount++
		subjects[e.SubjectID] = true
		stats.CountByCategory[e.Category]++
		stats.CountByURL[e.SourceURL]++
		messages[e.Message]++
		days[e.Timestamp.UTC().Format("2006-01-02")]++
	}
	stats.UniqueSubjects = len(subjects)
	stats.TopMessages = topCounts(messages, 5)

	for day, count := range days {
		stats.CountsOverTime = append(stats.CountsOverTime, model.DateCount{Date: day, Count: count})
	}
	sort.Slice(stats.CountsOverTime, func(i, j int) bool {
		return stats.CountsOverTime[i].Date < stats.CountsOverTime[j].Date
	})

	stats.FinishAverage()
	return stats, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Len reports the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func matches(e *model.Event, f model.Filter) bool {
	if f.Start != nil && e.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && e.Timestamp.After(*f.End) {
		return false
	}
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.URLSubstring != "" && !containsFold(e.SourceURL, f.URLSubstring) {
		return false
	}
	if f.FreeText != "" {
		if !containsFold(e.Message, f.FreeText) &&
			!containsFold(e.Trace, f.FreeText) &&
			!containsFold(e.SubjectID, f.FreeText) &&
			!containsFold(e.Category, f.FreeText) &&
			!containsFold(e.SourceURL, f.FreeText) {
			return false
		}
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func fieldValue(e *model.Event, field store.Field) string {
	switch field {
	case store.FieldSubjectID:
		return e.SubjectID
	case store.FieldCategory:
		return e.Category
	case store.FieldSourceURL:
		return e.SourceURL
	}
	return ""
}

func sortEvents(events []*model.Event, field string, desc bool) {
	less := func(a, b *model.Event) bool {
		switch field {
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt)
		case "subject_id":
			return a.SubjectID < b.SubjectID
		case "category":
			return a.Category < b.Category
		case "source_url":
			return a.SourceURL < b.SourceURL
		default:
			return a.Timestamp.Before(b.Timestamp)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		if desc {
			return less(events[j], events[i])
		}
		return less(events[i], events[j])
	})
}

func topCounts(counts map[string]int, limit int) []model.MessageCount {
	ranked := make([]model.MessageCount, 0, len(counts))
	for k, v := range counts {
		ranked = append(ranked, model.MessageCount{Message: k, Count: v})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Message < ranked[j].Message
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
