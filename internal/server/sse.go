package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ringSize is the number of recent broadcasts kept for Last-Event-ID
	// reconnection replay.
	ringSize = 1000

	// keepaliveInterval is how often comment lines are sent to keep idle
	// connections open through proxies.
	keepaliveInterval = 15 * time.Second
)

// streamEvent is one broadcast, as buffered and as sent to clients.
type streamEvent struct {
	ID    uint64 // monotonically increasing sequence number
	Topic string
	Data  []byte
}

// hub fans out event notifications to connected SSE clients and keeps a
// ring buffer for replay after reconnects.
type hub struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	nextID  atomic.Uint64

	ringMu  sync.RWMutex
	ring    [ringSize]streamEvent
	ringPos int
	ringLen int
}

// streamClient is a single connected SSE consumer.
type streamClient struct {
	topics []string // topic patterns to match (empty = all)
	ch     chan *streamEvent
}

func newHub() *hub {
	return &hub{clients: make(map[*streamClient]struct{})}
}

// broadcast buffers the event and delivers it to every matching client.
// Slow clients lose events rather than block the publisher.
func (h *hub) broadcast(topic string, payload []byte) {
	evt := &streamEvent{
		ID:    h.nextID.Add(1),
		Topic: topic,
		Data:  payload,
	}

	h.ringMu.Lock()
	h.ring[h.ringPos] = *evt
	h.ringPos = (h.ringPos + 1) % ringSize
	if h.ringLen < ringSize {
		h.ringLen++
	}
	h.ringMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.matchesTopic(topic) {
			select {
			case c.ch <- evt:
			default:
			}
		}
	}
}

func (h *hub) subscribe(topics []string) *streamClient {
	c := &streamClient{
		topics: topics,
		ch:     make(chan *streamEvent, 64),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *hub) unsubscribe(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// eventsSince returns buffered events with ID > lastID, oldest first.
func (h *hub) eventsSince(lastID uint64) []*streamEvent {
	h.ringMu.RLock()
	defer h.ringMu.RUnlock()

	if h.ringLen == 0 {
		return nil
	}

	var result []*streamEvent
	start := h.ringPos - h.ringLen
	if start < 0 {
		start += ringSize
	}
	for i := range h.ringLen {
		idx := (start + i) % ringSize
		evt := &h.ring[idx]
		if evt.ID > lastID {
			result = append(result, evt)
		}
	}
	return result
}

// matchesTopic reports whether any of the client's patterns match. An empty
// pattern list matches everything.
func (c *streamClient) matchesTopic(topic string) bool {
	if len(c.topics) == 0 {
		return true
	}
	for _, pattern := range c.topics {
		if matchTopicPattern(pattern, topic) {
			return true
		}
	}
	return false
}

// matchTopicPattern matches a dot-separated topic against a pattern with
// "*" as a single-segment wildcard and ">" as a multi-segment suffix.
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	patParts := strings.Split(pattern, ".")
	topParts := strings.Split(topic, ".")

	for i, pp := range patParts {
		if pp == ">" {
			return i < len(topParts)
		}
		if i >= len(topParts) {
			return false
		}
		if pp != "*" && pp != topParts[i] {
			return false
		}
	}
	return len(patParts) == len(topParts)
}

// handleStream handles GET /v1/events/stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var topics []string
	if q := r.URL.Query().Get("topics"); q != "" {
		for _, t := range strings.Split(q, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}

	client := s.hub.subscribe(topics)
	defer s.hub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if lastID, err := strconv.ParseUint(lastIDStr, 10, 64); err == nil {
			for _, evt := range s.hub.eventsSince(lastID) {
				if client.matchesTopic(evt.Topic) {
					writeStreamEvent(w, evt)
				}
			}
			flusher.Flush()
		}
	}

	ctx := r.Context()
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-client.ch:
			writeStreamEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeStreamEvent(w http.ResponseWriter, evt *streamEvent) {
	fmt.Fprintf(w, "id:%d\n", evt.ID)
	fmt.Fprintf(w, "event:%s\n", evt.Topic)
	fmt.Fprintf(w, "data:%s\n\n", evt.Data)
}

// Broadcast implements service.Notifier by fanning the payload out to SSE
// subscribers.
func (s *Server) Broadcast(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("failed to marshal broadcast payload", "topic", topic, "error", err)
		return
	}
	s.hub.broadcast(topic, data)
}
