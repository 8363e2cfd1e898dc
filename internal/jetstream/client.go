package jetstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

const (
	connectMaxElapsed = 2 * time.Minute
	reconnectWait     = 2 * time.Second
)

// Client is the engine's JetStream connection.
type Client struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

var _ ClientInterface = (*Client)(nil)

// NewClient dials NATS, retrying with exponential backoff until ctx ends or
// the retry budget runs out. Once connected the client reconnects forever.
func NewClient(ctx context.Context, url, name string) (*Client, error) {
	log := logger.Log.Named("nats").With(zap.String("url", url))

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("server", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			log.Error("NATS async error", fields...)
		}),
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = connectMaxElapsed

	var nc *nats.Conn
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		conn, err := nats.Connect(url, opts...)
		if err != nil {
			return err
		}
		nc = conn
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		log.Warn("NATS connect failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", apperrors.ErrNATS, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: jetstream context: %v", apperrors.ErrNATS, err)
	}
	log.Info("Connected to NATS", zap.Int("attempts", attempt))
	return &Client{nc: nc, js: js}, nil
}

// SetupStream creates the stream or updates it when its config drifted.
func (c *Client) SetupStream(ctx context.Context, cfg *nats.StreamConfig) error {
	log := logger.FromContext(ctx).With(zap.String("stream", cfg.Name))

	info, err := c.js.StreamInfo(cfg.Name)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("%w: stream info %s: %v", apperrors.ErrNATS, cfg.Name, err)
	}

	switch {
	case info == nil:
		if _, err := c.js.AddStream(cfg); err != nil {
			return fmt.Errorf("%w: add stream %s: %v", apperrors.ErrNATS, cfg.Name, err)
		}
		log.Info("Stream created", zap.Strings("subjects", cfg.Subjects))
	case !utils.StreamConfigEqual(info.Config, *cfg):
		if _, err := c.js.UpdateStream(cfg); err != nil {
			return fmt.Errorf("%w: update stream %s: %v", apperrors.ErrNATS, cfg.Name, err)
		}
		log.Info("Stream updated", zap.Strings("subjects", cfg.Subjects))
	default:
		log.Debug("Stream up to date")
	}
	return nil
}

// SetupConsumer creates the durable consumer. A consumer whose config drifted
// is recreated since most consumer fields cannot be edited in place.
func (c *Client) SetupConsumer(ctx context.Context, stream string, cfg *nats.ConsumerConfig) error {
	log := logger.FromContext(ctx).With(zap.String("stream", stream), zap.String("consumer", cfg.Durable))

	info, err := c.js.ConsumerInfo(stream, cfg.Durable)
	if err != nil && !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("%w: consumer info %s/%s: %v", apperrors.ErrNATS, stream, cfg.Durable, err)
	}

	if info != nil {
		if utils.ConsumerConfigEqual(info.Config, *cfg) {
			log.Debug("Consumer up to date")
			return nil
		}
		log.Warn("Consumer config changed, recreating")
		if err := c.js.DeleteConsumer(stream, cfg.Durable); err != nil {
			return fmt.Errorf("%w: delete consumer %s/%s: %v", apperrors.ErrNATS, stream, cfg.Durable, err)
		}
	}

	if _, err := c.js.AddConsumer(stream, cfg); err != nil {
		return fmt.Errorf("%w: add consumer %s/%s: %v", apperrors.ErrNATS, stream, cfg.Durable, err)
	}
	log.Info("Consumer ready",
		zap.String("deliver_subject", cfg.DeliverSubject),
		zap.String("queue_group", cfg.DeliverGroup),
		zap.Strings("filter_subjects", cfg.FilterSubjects),
	)
	return nil
}

// SubscribePush binds a queue subscription to an existing durable consumer.
func (c *Client) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.js.QueueSubscribe(subject, group, handler,
		nats.Durable(consumer),
		nats.ManualAck(),
		nats.BindStream(stream),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", apperrors.ErrNATS, subject, err)
	}
	return sub, nil
}

// Publish sends data to subject through JetStream and waits for the ack.
func (c *Client) Publish(subject string, data []byte, headers map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	if _, err := c.js.PublishMsg(msg); err != nil {
		return fmt.Errorf("%w: publish %s: %v", apperrors.ErrNATS, subject, err)
	}
	return nil
}

// Ping reports whether the connection is up and the server answers.
func (c *Client) Ping(ctx context.Context) error {
	if c.nc == nil || !c.nc.IsConnected() {
		return fmt.Errorf("%w: not connected", apperrors.ErrNATS)
	}
	if err := c.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("%w: flush: %v", apperrors.ErrNATS, err)
	}
	return nil
}

func (c *Client) NatsConn() *nats.Conn {
	return c.nc
}

// Close drains subscriptions before closing the connection.
func (c *Client) Close() {
	if c.nc == nil || c.nc.IsClosed() {
		return
	}
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
	}
}
