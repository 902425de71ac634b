package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/errsight/errsight/internal/model"
)

// Header names stamped on published messages.
const (
	headerEventType = "Errsight-Event-Type"
	headerSubjectID = "Errsight-Subject-Id"
	headerCategory  = "Errsight-Category"
	headerTimestamp = "Errsight-Timestamp"
)

// ensureStream creates the JetStream stream for subject if it is missing.
func ensureStream(js nats.JetStreamContext, stream, subject string) error {
	_, err := js.StreamInfo(stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("checking stream %s: %w", stream, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      stream,
		Subjects:  []string{subject},
		Retention: nats.LimitsPolicy,
		// Dedupe window for Nats-Msg-Id; duplicates inside it are discarded
		// server-side, which makes producer retries idempotent.
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", stream, err)
	}
	return nil
}

// JetStreamProducer publishes error events to a JetStream subject.
type JetStreamProducer struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	source  string
}

var _ Producer = (*JetStreamProducer)(nil)

// NewJetStreamProducer connects, ensures the stream exists, and returns a
// producer stamping messages with the given source name.
func NewJetStreamProducer(url, stream, subject, source string) (*JetStreamProducer, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("opening JetStream context: %w", err)
	}
	if err := ensureStream(js, stream, subject); err != nil {
		nc.Close()
		return nil, err
	}
	return &JetStreamProducer{conn: nc, js: js, subject: subject, source: source}, nil
}

// PublishEvent wraps payload in the envelope and publishes it with id as the
// broker dedupe key, so retried publishes of the same event are dropped by
// the server.
func (p *JetStreamProducer) PublishEvent(ctx context.Context, id string, payload *model.EventCreate) error {
	env, err := NewErrorEventMessage(p.source, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set(headerEventType, string(env.EventType))
	msg.Header.Set(headerSubjectID, payload.SubjectID)
	msg.Header.Set(headerCategory, payload.Category)
	msg.Header.Set(headerTimestamp, env.Timestamp.Format(time.RFC3339))

	_, err = p.js.PublishMsg(msg, nats.MsgId(id), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publishing event %s: %w", id, err)
	}
	return nil
}

func (p *JetStreamProducer) Close() error {
	p.conn.Close()
	return nil
}

// Consumer lifecycle states.
type consumerState int

const (
	stateConnected consumerState = iota
	stateConsuming
	stateClosed
)

// JetStreamConsumer consumes error events in a durable queue group. Every
// delivery is acked whether or not processing succeeded; poison messages
// are logged and dropped so they cannot wedge the group.
type JetStreamConsumer struct {
	conn     *nats.Conn
	js       nats.JetStreamContext
	subject  string
	group    string
	registry *Registry
	logger   *slog.Logger

	mu    sync.Mutex
	state consumerState
	sub   *nats.Subscription
}

var _ Consumer = (*JetStreamConsumer)(nil)

// NewJetStreamConsumer connects and ensures the stream, but does not start
// consuming until Start is called.
func NewJetStreamConsumer(url, stream, subject, group string, registry *Registry, logger *slog.Logger) (*JetStreamConsumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("opening JetStream context: %w", err)
	}
	if err := ensureStream(js, stream, subject); err != nil {
		nc.Close()
		return nil, err
	}
	return &JetStreamConsumer{
		conn:     nc,
		js:       js,
		subject:  subject,
		group:    group,
		registry: registry,
		logger:   logger,
	}, nil
}

// Start subscribes the durable queue group. Safe to call repeatedly; a
// running consumer stays running.
func (c *JetStreamConsumer) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateConsuming:
		return nil
	case stateClosed:
		return errors.New("consumer is closed")
	}

	sub, err := c.js.QueueSubscribe(c.subject, c.group, c.handle,
		nats.Durable(c.group),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.DeliverAll(),
	)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", c.subject, err)
	}
	if err := c.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flushing subscription: %w", err)
	}
	c.sub = sub
	c.state = stateConsuming
	c.logger.Info("consumer started", "subject", c.subject, "group", c.group)
	return nil
}

// handle processes one delivery. The ack is unconditional: offsets advance
// past malformed, unknown, and failing messages alike.
func (c *JetStreamConsumer) handle(msg *nats.Msg) {
	defer func() {
		if err := msg.Ack(); err != nil {
			c.logger.Warn("failed to ack message", "error", err)
		}
	}()

	var env Message
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		c.logger.Warn("dropping malformed message", "error", err)
		return
	}

	ctx := context.Background()
	switch env.EventType {
	case TypeErrorEvent:
		if c.registry == nil || c.registry.ErrorEvent == nil {
			c.logger.Warn("dropping message with no handler", "event_type", env.EventType)
			return
		}
		var payload model.EventCreate
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			c.logger.Warn("dropping message with malformed payload",
				"event_type", env.EventType, "error", err)
			return
		}
		if err := c.registry.ErrorEvent(ctx, &payload); err != nil {
			attrs := []any{
				"event_id", msg.Header.Get(nats.MsgIdHdr),
				"event_type", env.EventType,
				"source", env.Source,
				"subject", msg.Subject,
				"error", err,
			}
			if meta, merr := msg.Metadata(); merr == nil {
				attrs = append(attrs, "stream_seq", meta.Sequence.Stream)
			}
			c.logger.Error("dropping message after handler error", attrs...)
		}
	default:
		c.logger.Warn("dropping message with unknown type", "event_type", env.EventType)
	}
}

// Stop unsubscribes the queue group, leaving the connection open. Calling
// Stop on an idle consumer is a no-op.
func (c *JetStreamConsumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateConsuming {
		return nil
	}
	if err := c.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribing: %w", err)
	}
	c.sub = nil
	c.state = stateConnected
	return nil
}

// Close stops consumption and closes the connection.
func (c *JetStreamConsumer) Close() error {
	c.mu.Lock()
	if c.state == stateConsuming && c.sub != nil {
		_ = c.sub.Unsubscribe()
		c.sub = nil
	}
	c.state = stateClosed
	c.mu.Unlock()
	c.conn.Close()
	return nil
}
