package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/errsight/errsight/internal/model"
)

// indexMapping is the document schema PUT on index creation. Identity fields
// are keywords for exact terms and aggregations; message and trace are
// analyzed text, with a keyword sub-field on message for top-N buckets.
const indexMapping = `{
  "mappings": {
    "properties": {
      "id":         {"type": "keyword"},
      "timestamp":  {"type": "date"},
      "subject_id": {"type": "keyword"},
      "category":   {"type": "keyword"},
      "source_url": {"type": "keyword"},
      "message":    {"type": "text", "fields": {"keyword": {"type": "keyword", "ignore_above": 512}}},
      "trace":      {"type": "text"},
      "created_at": {"type": "date"},
      "updated_at": {"type": "date"}
    }
  }
}`

// ElasticEngine talks to an Elasticsearch-compatible node over HTTP.
type ElasticEngine struct {
	node  string
	index string
	hc    *http.Client
}

var _ Engine = (*ElasticEngine)(nil)

// NewElastic returns an engine for one index on one node.
func NewElastic(node, index string) *ElasticEngine {
	return &ElasticEngine{
		node:  strings.TrimRight(node, "/"),
		index: index,
		hc:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (e *ElasticEngine) EnsureIndex(ctx context.Context) error {
	status, _, err := e.do(ctx, http.MethodHead, "/"+e.index, nil)
	if err != nil {
		return fmt.Errorf("check index %s: %w", e.index, err)
	}
	if status == http.StatusOK {
		return nil
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("check index %s: status %d", e.index, status)
	}

	status, body, err := e.do(ctx, http.MethodPut, "/"+e.index, []byte(indexMapping))
	if err != nil {
		return fmt.Errorf("create index %s: %w", e.index, err)
	}
	if status >= 300 {
		return fmt.Errorf("create index %s: status %d: %s", e.index, status, body)
	}
	return nil
}

func (e *ElasticEngine) Index(ctx context.Context, event *model.Event) error {
	doc, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("index event %s: marshal: %w", event.ID, err)
	}
	status, body, err := e.do(ctx, http.MethodPut, "/"+e.index+"/_doc/"+event.ID, doc)
	if err != nil {
		return fmt.Errorf("index event %s: %w", event.ID, err)
	}
	if status >= 300 {
		return fmt.Errorf("index event %s: status %d: %s", event.ID, status, body)
	}
	return nil
}

func (e *ElasticEngine) Search(ctx context.Context, filter model.Filter) ([]*model.Event, int, error) {
	resp, err := e.search(ctx, BuildQuery(filter))
	if err != nil {
		return nil, 0, err
	}

	events := make([]*model.Event, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var ev model.Event
		if err := json.Unmarshal(hit.Source, &ev); err != nil {
			return nil, 0, fmt.Errorf("decode hit: %w", err)
		}
		events = append(events, &ev)
	}
	return events, resp.Hits.Total.Value, nil
}

func (e *ElasticEngine) Stats(ctx context.Context, filter model.Filter) (*model.Stats, error) {
	resp, err := e.search(ctx, BuildStatsQuery(filter))
	if err != nil {
		return nil, err
	}

	stats := &model.Stats{
		TotalCount:      resp.Hits.Total.Value,
		CountByCategory: make(map[string]int),
		CountByURL:      make(map[string]int),
	}
	for _, b := range resp.Aggregations["by_category"].Buckets {
		stats.CountByCategory[b.Key] = b.DocCount
	}
	for _, b := range resp.Aggregations["by_url"].Buckets {
		stats.CountByURL[b.Key] = b.DocCount
	}
	for _, b := range resp.Aggregations["top_messages"].Buckets {
		stats.TopMessages = append(stats.TopMessages, model.MessageCount{Message: b.Key, Count: b.DocCount})
	}
	for _, b := range resp.Aggregations["over_time"].Buckets {
		if b.DocCount == 0 {
			continue
		}
		stats.CountsOverTime = append(stats.CountsOverTime, model.DateCount{Date: b.KeyAsString, Count: b.DocCount})
	}
	stats.UniqueSubjects = resp.Aggregations["unique_subjects"].Value
	stats.FinishAverage()
	return stats, nil
}

// Close releases idle connections.
func (e *ElasticEngine) Close() error {
	e.hc.CloseIdleConnections()
	return nil
}

type esResponse struct {
	Took int `json:"took"`
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]esAgg `json:"aggregations"`
}

type esAgg struct {
	Value   int `json:"value"` // cardinality
	Buckets []struct {
		Key         string `json:"key"`
		KeyAsString string `json:"key_as_string"`
		DocCount    int    `json:"doc_count"`
	} `json:"buckets"`
}

func (e *ElasticEngine) search(ctx context.Context, req *Request) (*esResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}
	status, respBody, err := e.do(ctx, http.MethodPost, "/"+e.index+"/_search", body)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", e.index, err)
	}
	if status >= 300 {
		return nil, fmt.Errorf("search %s: status %d: %s", e.index, status, respBody)
	}

	var resp esResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &resp, nil
}

func (e *ElasticEngine) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.node+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}
