package ingestion

import (
	"context"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

// RouterInterface dispatches decoded NATS messages by event type.
type RouterInterface interface {
	Register(eventType model.EventType, handler EventHandler)
	// RegisterDefault sets the handler for subjects with no registered type.
	RegisterDefault(handler EventHandler)
	Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error
}

// ConsumerInterface is the lifecycle of an inbound consumer: Setup declares
// the stream and durable consumer, Start subscribes and Stop drains.
type ConsumerInterface interface {
	Setup() error
	Start() error
	Stop()
}

var (
	_ RouterInterface   = (*Router)(nil)
	_ ConsumerInterface = (*MessageConsumer)(nil)
)
