package jetstream

import (
	"context"

	"github.com/nats-io/nats.go"
)

// ClientInterface is what the ingestion consumer and the outbound publisher
// need from JetStream.
type ClientInterface interface {
	SetupStream(ctx context.Context, cfg *nats.StreamConfig) error
	SetupConsumer(ctx context.Context, stream string, cfg *nats.ConsumerConfig) error

	// SubscribePush binds a queue subscription to the durable consumer on stream.
	SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error)

	// Publish sends data with optional headers, e.g. nats.MsgIdHdr for dedup.
	Publish(subject string, data []byte, headers map[string]string) error

	Ping(ctx context.Context) error
	NatsConn() *nats.Conn
	Close()
}
