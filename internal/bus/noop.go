package bus

import (
	"context"

	"github.com/errsight/errsight/internal/model"
)

// NoopProducer is a Producer that does nothing (used when the broker is not
// configured).
type NoopProducer struct{}

func (n *NoopProducer) PublishEvent(context.Context, string, *model.EventCreate) error {
	return nil
}

func (n *NoopProducer) Close() error {
	return nil
}
