package model

import (
	"fmt"
	"strconv"
	"time"
)

// Default and maximum page sizes for filtered queries.
const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// Filter holds criteria for querying events.
type Filter struct {
	Start        *time.Time `json:"start,omitempty"` // inclusive lower bound on Timestamp
	End          *time.Time `json:"end,omitempty"`   // inclusive upper bound on Timestamp
	SubjectID    string     `json:"subject_id,omitempty"`
	Category     string     `json:"category,omitempty"`
	URLSubstring string     `json:"url,omitempty"`      // substring match on SourceURL
	FreeText     string     `json:"keyword,omitempty"`  // fuzzy match across text fields
	Page         int        `json:"page,omitempty"`     // 1-based
	PageSize     int        `json:"page_size,omitempty"`
	SortField    string     `json:"sort_field,omitempty"` // defaults to "timestamp"
	SortDesc     bool       `json:"sort_desc,omitempty"`
}

// Normalize fills defaults: page 1, page size 20 (capped), sort by
// timestamp descending when no sort is given.
func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	if f.SortField == "" {
		f.SortField = "timestamp"
		f.SortDesc = true
	}
}

// Offset returns the row offset implied by Page/PageSize.
func (f *Filter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// Params flattens the filter into name/value pairs for cache key
// derivation. Only non-empty parameters appear, so two filters that differ
// only in unset fields derive the same key.
func (f *Filter) Params() map[string]string {
	p := make(map[string]string)
	if f.Start != nil {
		p["start"] = f.Start.UTC().Format(time.RFC3339)
	}
	if f.End != nil {
		p["end"] = f.End.UTC().Format(time.RFC3339)
	}
	if f.SubjectID != "" {
		p["subject"] = f.SubjectID
	}
	if f.Category != "" {
		p["category"] = f.Category
	}
	if f.URLSubstring != "" {
		p["url"] = f.URLSubstring
	}
	if f.FreeText != "" {
		p["keyword"] = f.FreeText
	}
	if f.Page > 1 {
		p["page"] = strconv.Itoa(f.Page)
	}
	if f.PageSize > 0 && f.PageSize != DefaultPageSize {
		p["page_size"] = strconv.Itoa(f.PageSize)
	}
	if f.SortField != "" && f.SortField != "timestamp" {
		p["sort"] = f.SortField
	}
	if f.SortField != "" && !f.SortDesc {
		p["sort_dir"] = "asc"
	}
	return p
}

// SearchResult is one page of events plus pagination metadata.
type SearchResult struct {
	Items      []*Event `json:"items"`
	Total      int      `json:"total"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	TotalPages int      `json:"total_pages"`
}

// NewSearchResult computes the derived pagination fields for a page of items.
func NewSearchResult(items []*Event, total int, f *Filter) *SearchResult {
	pages := 0
	if f.PageSize > 0 {
		pages = (total + f.PageSize - 1) / f.PageSize
	}
	return &SearchResult{
		Items:      items,
		Total:      total,
		Page:       f.Page,
		PageSize:   f.PageSize,
		TotalPages: pages,
	}
}

// String implements fmt.Stringer for log lines.
func (f *Filter) String() string {
	return fmt.Sprintf("filter{subject=%q category=%q url=%q keyword=%q page=%d size=%d}",
		f.SubjectID, f.Category, f.URLSubstring, f.FreeText, f.Page, f.PageSize)
}
