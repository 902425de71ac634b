package search

import (
	"time"

	"github.com/errsight/errsight/internal/model"
)

// Bucket limits used by the stats aggregations.
const (
	topMessageCount = 5
	topBucketCount  = 10
)

// matchFields are the free-text targets, message weighted above the rest.
var matchFields = []string{"message^2", "trace", "subject_id", "category", "source_url"}

// Request is the serialized form of a search call. It marshals to the
// index's native _search body.
type Request struct {
	Query Query                  `json:"query"`
	Sort  []map[string]SortOrder `json:"sort,omitempty"`
	From  int                    `json:"from"`
	Size  int                    `json:"size"`
	Aggs  map[string]Agg         `json:"aggs,omitempty"`
}

// Query is a boolean query or a match-all.
type Query struct {
	Bool     *BoolQuery `json:"bool,omitempty"`
	MatchAll *struct{}  `json:"match_all,omitempty"`
}

// BoolQuery combines scoring must clauses with non-scoring filters.
type BoolQuery struct {
	Must   []Clause `json:"must,omitempty"`
	Filter []Clause `json:"filter,omitempty"`
}

// Clause is a single leaf query. Exactly one member is set.
type Clause struct {
	Range      map[string]RangeBounds `json:"range,omitempty"`
	Term       map[string]string      `json:"term,omitempty"`
	Wildcard   map[string]string      `json:"wildcard,omitempty"`
	MultiMatch *MultiMatch            `json:"multi_match,omitempty"`
}

// RangeBounds is an inclusive time range; either bound may be open.
type RangeBounds struct {
	GTE *time.Time `json:"gte,omitempty"`
	LTE *time.Time `json:"lte,omitempty"`
}

// MultiMatch is a fuzzy free-text query across several fields.
type MultiMatch struct {
	Query     string   `json:"query"`
	Fields    []string `json:"fields"`
	Fuzziness string   `json:"fuzziness,omitempty"`
}

// SortOrder is one sort directive.
type SortOrder struct {
	Order string `json:"order"`
}

// Agg is a single aggregation. Exactly one member is set.
type Agg struct {
	Terms         *TermsAgg         `json:"terms,omitempty"`
	Cardinality   *FieldAgg         `json:"cardinality,omitempty"`
	DateHistogram *DateHistogramAgg `json:"date_histogram,omitempty"`
}

// TermsAgg buckets documents by field value, largest buckets first.
type TermsAgg struct {
	Field string `json:"field"`
	Size  int    `json:"size"`
}

// FieldAgg names the field a metric aggregation runs over.
type FieldAgg struct {
	Field string `json:"field"`
}

// DateHistogramAgg buckets documents into calendar intervals.
type DateHistogramAgg struct {
	Field    string `json:"field"`
	Interval string `json:"calendar_interval"`
	Format   string `json:"format"`
}

// BuildQuery translates a domain filter into a paged search request.
func BuildQuery(filter model.Filter) *Request {
	filter.Normalize()

	req := &Request{
		Query: buildBool(filter),
		From:  filter.Offset(),
		Size:  filter.PageSize,
		Sort:  buildSort(filter),
	}
	return req
}

// BuildStatsQuery translates a domain filter into a zero-hit aggregation
// request covering the full stats summary.
func BuildStatsQuery(filter model.Filter) *Request {
	return &Request{
		Query: buildBool(filter),
		Size:  0,
		Aggs: map[string]Agg{
			"by_category":     {Terms: &TermsAgg{Field: "category", Size: topBucketCount}},
			"by_url":          {Terms: &TermsAgg{Field: "source_url", Size: topBucketCount}},
			"top_messages":    {Terms: &TermsAgg{Field: "message.keyword", Size: topMessageCount}},
			"unique_subjects": {Cardinality: &FieldAgg{Field: "subject_id"}},
			"over_time": {DateHistogram: &DateHistogramAgg{
				Field:    "timestamp",
				Interval: "day",
				Format:   "yyyy-MM-dd",
			}},
		},
	}
}

func buildBool(filter model.Filter) Query {
	var b BoolQuery

	if filter.Start != nil || filter.End != nil {
		b.Filter = append(b.Filter, Clause{Range: map[string]RangeBounds{
			"timestamp": {GTE: filter.Start, LTE: filter.End},
		}})
	}
	if filter.SubjectID != "" {
		b.Filter = append(b.Filter, Clause{Term: map[string]string{"subject_id": filter.SubjectID}})
	}
	if filter.Category != "" {
		b.Filter = append(b.Filter, Clause{Term: map[string]string{"category": filter.Category}})
	}
	if filter.URLSubstring != "" {
		b.Filter = append(b.Filter, Clause{Wildcard: map[string]string{
			"source_url": "*" + filter.URLSubstring + "*",
		}})
	}
	if filter.FreeText != "" {
		b.Must = append(b.Must, Clause{MultiMatch: &MultiMatch{
			Query:     filter.FreeText,
			Fields:    matchFields,
			Fuzziness: "AUTO",
		}})
	}

	if len(b.Must) == 0 && len(b.Filter) == 0 {
		return Query{MatchAll: &struct{}{}}
	}
	return Query{Bool: &b}
}

func buildSort(filter model.Filter) []map[string]SortOrder {
	// Relevance order when a free-text query scores the hits.
	if filter.FreeText != "" {
		return nil
	}
	order := "asc"
	if filter.SortDesc {
		order = "desc"
	}
	field := filter.SortField
	if field == "" {
		field = "timestamp"
	}
	return []map[string]SortOrder{{field: {Order: order}}}
}
