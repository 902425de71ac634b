package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/errsight/errsight/internal/cache"
	"github.com/errsight/errsight/internal/model"
	"github.com/errsight/errsight/internal/search"
	"github.com/errsight/errsight/internal/service"
	"github.com/errsight/errsight/internal/store/memory"
)

// newTestServer wires a full in-memory stack behind the HTTP handler.
func newTestServer(t *testing.T) (*httptest.Server, *service.Service) {
	t.Helper()
	st := memory.New()
	logger := slog.New(slog.DiscardHandler)
	ca := cache.New(cache.NewMemoryStore(), "errsight")
	t.Cleanup(func() { ca.Close() })

	adapter := search.NewAdapter(search.NewMemory(), st, logger)

	srv := New(logger)
	svc := service.New(st, adapter, ca, service.Options{
		Notifier: srv,
		Logger:   logger,
	})
	srv.Attach(svc)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, svc
}

func createBody(subject, category, message string) []byte {
	body, _ := json.Marshal(map[string]string{
		"timestamp":  time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
		"subject_id": subject,
		"category":   category,
		"source_url": "https://app.example.com/checkout",
		"message":    message,
		"trace":      "at checkout.js:42",
	})
	return body
}

func TestCreateAndGetEvent(t *testing.T) {
	ts, svc := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/events", "application/json", bytes.NewReader(createBody("u1", "Chrome", "TypeError")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var created model.Event
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.SubjectID != "u1" {
		t.Errorf("created = %+v", created)
	}
	svc.Wait()

	resp, err = http.Get(ts.URL + "/v1/events/" + created.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	var got model.Event
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("got %+v", got)
	}
}

func TestCreateValidationFailure(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/events", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Error  string `json:"error"`
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Fields) != 6 {
		t.Errorf("field errors = %d, want 6", len(body.Fields))
	}
}

func TestGetEventNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/events/ev-none")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestSearchAndStats(t *testing.T) {
	ts, svc := newTestServer(t)

	for i, category := range []string{"Chrome", "Chrome", "Firefox"} {
		body := createBody(fmt.Sprintf("u%d", i%2+1), category, "TypeError")
		resp, err := http.Post(ts.URL+"/v1/events", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
	}
	svc.Wait()

	resp, err := http.Get(ts.URL + "/v1/events?category=Chrome&page_size=1")
	if err != nil {
		t.Fatalf("GET search: %v", err)
	}
	defer resp.Body.Close()
	var result model.SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Total != 2 || len(result.Items) != 1 || result.TotalPages != 2 {
		t.Errorf("result = total %d items %d pages %d", result.Total, len(result.Items), result.TotalPages)
	}

	resp, err = http.Get(ts.URL + "/v1/events/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	defer resp.Body.Close()
	var stats model.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalCount != 3 || stats.UniqueSubjects != 2 {
		t.Errorf("stats = %d/%d", stats.TotalCount, stats.UniqueSubjects)
	}

	resp, err = http.Get(ts.URL + "/v1/events?start=bogus")
	if err != nil {
		t.Fatalf("GET bad filter: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad filter status = %d", resp.StatusCode)
	}
}

func TestMetaLists(t *testing.T) {
	ts, svc := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/events", "application/json", bytes.NewReader(createBody("u1", "Chrome", "m")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	svc.Wait()

	for path, want := range map[string]string{
		"/v1/meta/subjects":   "u1",
		"/v1/meta/categories": "Chrome",
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		var values []string
		if err := json.NewDecoder(resp.Body).Decode(&values); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
		resp.Body.Close()
		if len(values) != 1 || values[0] != want {
			t.Errorf("%s = %v", path, values)
		}
	}
}

func TestMatchTopicPattern(t *testing.T) {
	for _, tc := range []struct {
		pattern, topic string
		want           bool
	}{
		{"events.created", "events.created", true},
		{"events.*", "events.created", true},
		{"events.>", "events.created", true},
		{"events.>", "events", false},
		{"other.*", "events.created", false},
		{"events.*", "events.created.extra", false},
	} {
		if got := matchTopicPattern(tc.pattern, tc.topic); got != tc.want {
			t.Errorf("matchTopicPattern(%q, %q) = %v", tc.pattern, tc.topic, got)
		}
	}
}

func TestHubReplay(t *testing.T) {
	h := newHub()
	for i := 1; i <= 5; i++ {
		h.broadcast("events.created", []byte(fmt.Sprintf(`{"n":%d}`, i)))
	}

	replayed := h.eventsSince(3)
	if len(replayed) != 2 {
		t.Fatalf("replayed %d events", len(replayed))
	}
	if replayed[0].ID != 4 || replayed[1].ID != 5 {
		t.Errorf("ids = %d, %d", replayed[0].ID, replayed[1].ID)
	}
}

func TestBroadcastReachesSubscriber(t *testing.T) {
	h := newHub()
	c := h.subscribe([]string{"events.*"})
	defer h.unsubscribe(c)

	h.broadcast("events.created", []byte(`{"id":"ev-1"}`))
	h.broadcast("other.topic", []byte(`{}`))

	select {
	case evt := <-c.ch:
		if evt.Topic != "events.created" {
			t.Errorf("topic = %s", evt.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case evt := <-c.ch:
		t.Errorf("unexpected second delivery: %+v", evt)
	default:
	}
}
