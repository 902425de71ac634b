package cache

import (
	"sort"
	"strings"
)

// Scope names for derived cache keys and tags.
const (
	ScopeSearch = "events:search"
	ScopeStats  = "events:stats"
	ScopeEvent  = "events:by-id"
)

// Well-known tags shared between the populate and invalidate paths.
const (
	TagSearch    = "search"
	TagDateRange = "date-range"
	TagReference = "reference"
)

// SubjectTag returns the invalidation tag scoping all entries about one subject.
func SubjectTag(subjectID string) string { return "subject:" + subjectID }

// CategoryTag returns the invalidation tag scoping all entries about one category.
func CategoryTag(category string) string { return "category:" + category }

// DeriveKey builds a deterministic cache key from a prefix and a parameter
// map. Parameter names are sorted so insertion order never changes the key;
// an empty map yields "<prefix>:".
func DeriveKey(prefix string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for name, value := range params {
		if value == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, len(names))
	for i, name := range names {
		pairs[i] = name + ":" + params[name]
	}
	return prefix + ":" + strings.Join(pairs, "|")
}

// DeriveTags maps an operation scope and its parameters to the set of
// invalidation tags the resulting entry belongs to.
func DeriveTags(scope string, params map[string]string) []string {
	tags := []string{scope}
	if v := params["subject"]; v != "" {
		tags = append(tags, SubjectTag(v))
	}
	if v := params["category"]; v != "" {
		tags = append(tags, CategoryTag(v))
	}
	if params["start"] != "" || params["end"] != "" {
		tags = append(tags, TagDateRange)
	}
	if params["keyword"] != "" {
		tags = append(tags, TagSearch)
	}
	return tags
}
