// Package delivery publishes system messages and admin notifications to NATS
// for the channel and notification services.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/counter"
	"gitlab.com/timkado/api/daisi-function-engine/internal/jetstream"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
)

// Sender is what the executor and schedule runner use to reach the outside world.
type Sender interface {
	SendSystemMessage(ctx context.Context, msg model.OutboundMessage) error
	NotifyAdmin(ctx context.Context, n model.AdminNotification) error
}

// Publisher implements Sender on JetStream.
type Publisher struct {
	js                  jetstream.ClientInterface
	dedup               *counter.Deduper
	stream              string
	outboundSubject     string
	notificationSubject string
	log                 *zap.Logger
}

var _ Sender = (*Publisher)(nil)

func NewPublisher(js jetstream.ClientInterface, dedup *counter.Deduper, stream, outboundSubject, notificationSubject string) *Publisher {
	return &Publisher{
		js:                  js,
		dedup:               dedup,
		stream:              stream,
		outboundSubject:     outboundSubject,
		notificationSubject: notificationSubject,
		log:                 logger.Log.Named("delivery"),
	}
}

// Setup makes sure a stream captures the outbound subjects.
func (p *Publisher) Setup(ctx context.Context) error {
	cfg := &nats.StreamConfig{
		Name:      p.stream,
		Subjects:  []string{p.outboundSubject + ".*", p.notificationSubject + ".*"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}
	if err := p.js.SetupStream(ctx, cfg); err != nil {
		return fmt.Errorf("%w: setup outbound stream %s: %w", apperrors.ErrNATS, p.stream, err)
	}
	return nil
}

// SendSystemMessage publishes msg once per (execution or message id, destination).
func (p *Publisher) SendSystemMessage(ctx context.Context, msg model.OutboundMessage) error {
	subject := fmt.Sprintf("%s.%s", p.outboundSubject, msg.CompanyID)
	origin := msg.ExecutionID
	if origin == "" {
		origin = msg.MessageID
	}
	key := fmt.Sprintf("%s:%s:%s", origin, subject, msg.ConversationID)
	log := logger.FromContextOr(ctx, p.log).With(zap.String("dedup_key", key))

	if p.dedup != nil {
		first, err := p.dedup.First(ctx, key)
		if err != nil {
			// keep delivering when the dedup store is down, JetStream still dedups on Nats-Msg-Id
			log.Warn("Dedup check failed", zap.Error(err))
		} else if !first {
			log.Info("System message already delivered, skipping")
			observer.IncDeliverySkipped()
			return nil
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}
	if err := p.js.Publish(subject, data, map[string]string{nats.MsgIdHdr: key}); err != nil {
		if p.dedup != nil {
			_ = p.dedup.Forget(ctx, key)
		}
		observer.IncDeliveryPublished("outbound", err)
		return fmt.Errorf("%w: publish system message: %w", apperrors.ErrNATS, err)
	}
	observer.IncDeliveryPublished("outbound", nil)
	log.Debug("System message published", zap.String("subject", subject))
	return nil
}

// NotifyAdmin publishes an admin notification for the company.
func (p *Publisher) NotifyAdmin(ctx context.Context, n model.AdminNotification) error {
	subject := fmt.Sprintf("%s.%s", p.notificationSubject, n.CompanyID)
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode admin notification: %w", err)
	}
	if err := p.js.Publish(subject, data, nil); err != nil {
		observer.IncDeliveryPublished("notification", err)
		return fmt.Errorf("%w: publish admin notification: %w", apperrors.ErrNATS, err)
	}
	observer.IncDeliveryPublished("notification", nil)
	logger.FromContextOr(ctx, p.log).Info("Admin notification published",
		zap.String("subject", subject),
		zap.String("function_id", n.FunctionID),
		zap.String("severity", n.Severity),
	)
	return nil
}
