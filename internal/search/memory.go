package search

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/errsight/errsight/internal/model"
)

// MemoryEngine evaluates the query DSL against documents held in process. It
// backs --dev serve mode and the tests; scoring is a field-count heuristic,
// not a relevance model.
type MemoryEngine struct {
	mu   sync.RWMutex
	docs map[string]*model.Event
}

var _ Engine = (*MemoryEngine)(nil)

// NewMemory returns an empty in-process engine.
func NewMemory() *MemoryEngine {
	return &MemoryEngine{docs: make(map[string]*model.Event)}
}

func (m *MemoryEngine) EnsureIndex(context.Context) error { return nil }

func (m *MemoryEngine) Index(_ context.Context, event *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *event
	m.docs[clone.ID] = &clone
	return nil
}

func (m *MemoryEngine) Search(_ context.Context, filter model.Filter) ([]*model.Event, int, error) {
	req := BuildQuery(filter)
	hits := m.evaluate(req)

	total := len(hits)
	start := min(req.From, total)
	end := min(start+req.Size, total)

	events := make([]*model.Event, 0, end-start)
	for _, h := range hits[start:end] {
		clone := *h.doc
		events = append(events, &clone)
	}
	return events, total, nil
}

func (m *MemoryEngine) Stats(_ context.Context, filter model.Filter) (*model.Stats, error) {
	req := BuildStatsQuery(filter)
	hits := m.evaluate(req)

	stats := &model.Stats{
		TotalCount:      len(hits),
		CountByCategory: make(map[string]int),
		CountByURL:      make(map[string]int),
	}

	for name, agg := range req.Aggs {
		switch {
		case agg.Terms != nil:
			buckets := termBuckets(hits, agg.Terms.Field, agg.Terms.Size)
			switch name {
			case "by_category":
				for _, b := range buckets {
					stats.CountByCategory[b.Message] = b.Count
				}
			case "by_url":
				for _, b := range buckets {
					stats.CountByURL[b.Message] = b.Count
				}
			case "top_messages":
				stats.TopMessages = buckets
			}
		case agg.Cardinality != nil:
			seen := make(map[string]bool)
			for _, h := range hits {
				seen[docField(h.doc, agg.Cardinality.Field)] = true
			}
			stats.UniqueSubjects = len(seen)
		case agg.DateHistogram != nil:
			days := make(map[string]int)
			for _, h := range hits {
				days[h.doc.Timestamp.UTC().Format("2006-01-02")]++
			}
			for day, count := range days {
				stats.CountsOverTime = append(stats.CountsOverTime, model.DateCount{Date: day, Count: count})
			}
			sort.Slice(stats.CountsOverTime, func(i, j int) bool {
				return stats.CountsOverTime[i].Date < stats.CountsOverTime[j].Date
			})
		}
	}
	stats.FinishAverage()
	return stats, nil
}

func (m *MemoryEngine) Close() error { return nil }

// Len reports the number of indexed documents.
func (m *MemoryEngine) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

type hit struct {
	doc   *model.Event
	score float64
}

func (m *MemoryEngine) evaluate(req *Request) []hit {
	m.mu.RLock()
	var hits []hit
	for _, doc := range m.docs {
		score, ok := evalQuery(req.Query, doc)
		if ok {
			hits = append(hits, hit{doc: doc, score: score})
		}
	}
	m.mu.RUnlock()

	sortHits(hits, req)
	return hits
}

func evalQuery(q Query, doc *model.Event) (float64, bool) {
	if q.MatchAll != nil {
		return 0, true
	}
	if q.Bool == nil {
		return 0, false
	}
	for _, c := range q.Bool.Filter {
		if _, ok := evalClause(c, doc); !ok {
			return 0, false
		}
	}
	var score float64
	for _, c := range q.Bool.Must {
		s, ok := evalClause(c, doc)
		if !ok {
			return 0, false
		}
		score += s
	}
	return score, true
}

func evalClause(c Clause, doc *model.Event) (float64, bool) {
	switch {
	case c.Range != nil:
		for field, bounds := range c.Range {
			if field != "timestamp" {
				return 0, false
			}
			if bounds.GTE != nil && doc.Timestamp.Before(*bounds.GTE) {
				return 0, false
			}
			if bounds.LTE != nil && doc.Timestamp.After(*bounds.LTE) {
				return 0, false
			}
		}
		return 0, true
	case c.Term != nil:
		for field, value := range c.Term {
			if docField(doc, field) != value {
				return 0, false
			}
		}
		return 0, true
	case c.Wildcard != nil:
		for field, pattern := range c.Wildcard {
			needle := strings.Trim(pattern, "*")
			if !strings.Contains(strings.ToLower(docField(doc, field)), strings.ToLower(needle)) {
				return 0, false
			}
		}
		return 0, true
	case c.MultiMatch != nil:
		var score float64
		needle := strings.ToLower(c.MultiMatch.Query)
		for _, spec := range c.MultiMatch.Fields {
			field, boost := splitBoost(spec)
			if strings.Contains(strings.ToLower(docField(doc, field)), needle) {
				score += boost
			}
		}
		return score, score > 0
	}
	return 0, false
}

// splitBoost parses "message^2" into field and weight.
func splitBoost(spec string) (string, float64) {
	field, boost, found := strings.Cut(spec, "^")
	if !found || boost == "" {
		return spec, 1
	}
	var w float64
	for _, r := range boost {
		if r < '0' || r > '9' {
			return field, 1
		}
		w = w*10 + float64(r-'0')
	}
	return field, w
}

func docField(doc *model.Event, field string) string {
	switch strings.TrimSuffix(field, ".keyword") {
	case "id":
		return doc.ID
	case "subject_id":
		return doc.SubjectID
	case "category":
		return doc.Category
	case "source_url":
		return doc.SourceURL
	case "message":
		return doc.Message
	case "trace":
		return doc.Trace
	}
	return ""
}

func sortHits(hits []hit, req *Request) {
	// Relevance order when the query scored the hits.
	if len(req.Sort) == 0 {
		sort.SliceStable(hits, func(i, j int) bool {
			if hits[i].score != hits[j].score {
				return hits[i].score > hits[j].score
			}
			return hits[i].doc.Timestamp.After(hits[j].doc.Timestamp)
		})
		return
	}

	directive := req.Sort[0]
	for field, order := range directive {
		desc := order.Order == "desc"
		sort.SliceStable(hits, func(i, j int) bool {
			a, b := hits[i].doc, hits[j].doc
			if desc {
				a, b = b, a
			}
			if field == "timestamp" {
				return a.Timestamp.Before(b.Timestamp)
			}
			return docField(a, field) < docField(b, field)
		})
	}
}

func termBuckets(hits []hit, field string, size int) []model.MessageCount {
	counts := make(map[string]int)
	for _, h := range hits {
		counts[docField(h.doc, field)]++
	}
	buckets := make([]model.MessageCount, 0, len(counts))
	for k, v := range counts {
		buckets = append(buckets, model.MessageCount{Message: k, Count: v})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Message < buckets[j].Message
	})
	if len(buckets) > size {
		buckets = buckets[:size]
	}
	return buckets
}
