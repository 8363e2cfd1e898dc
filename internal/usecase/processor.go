package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/config"
	"gitlab.com/timkado/api/daisi-function-engine/internal/ingestion"
	"gitlab.com/timkado/api/daisi-function-engine/internal/ingestion/handler"
	"gitlab.com/timkado/api/daisi-function-engine/internal/jetstream"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
)

// Processor wires the inbound message consumer to the message service.
type Processor struct {
	jsClient       jetstream.ClientInterface
	consumer       ingestion.ConsumerInterface
	eventRouter    ingestion.RouterInterface
	messageHandler handler.EventHandlerInterface
	changeHandler  handler.EventHandlerInterface
}

// NewProcessor creates a processor for one company. Consumer and queue group
// names from cfg get the company id appended.
func NewProcessor(service handler.MessageService, jsClient jetstream.ClientInterface, cfg *config.Config, companyID string) *Processor {
	router := ingestion.NewRouter()

	consumerCfg := cfg.NATS.Messages
	consumerCfg.Consumer = consumerCfg.Consumer + companyID
	consumerCfg.QueueGroup = consumerCfg.QueueGroup + companyID

	return &Processor{
		jsClient:       jsClient,
		consumer:       ingestion.NewMessageConsumer(jsClient, router, consumerCfg, companyID),
		eventRouter:    router,
		messageHandler: handler.NewMessageHandler(service),
	}
}

// GetRouter returns the processor's event router.
func (p *Processor) GetRouter() ingestion.RouterInterface {
	return p.eventRouter
}

// WatchFunctionChanges evicts webhook functions from fc when function change
// events arrive. Call it before Setup.
func (p *Processor) WatchFunctionChanges(fc handler.FunctionCacheInvalidator) {
	p.changeHandler = handler.NewFunctionChangeHandler(fc)
}

// Setup registers handlers and sets up the consumer.
func (p *Processor) Setup() error {
	p.eventRouter.Register(model.V1ConversationMessage, p.messageHandler.HandleEvent)
	if p.changeHandler != nil {
		p.eventRouter.Register(model.V1FunctionChanged, p.changeHandler.HandleEvent)
	}

	p.eventRouter.RegisterDefault(func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
		logger.FromContext(ctx).Warn("Unhandled event type",
			zap.String("type", string(eventType)),
			zap.String("subject", metadata.MessageSubject),
		)
		return nil
	})

	if err := p.consumer.Setup(); err != nil {
		return fmt.Errorf("failed to setup message consumer: %w", err)
	}

	logger.Log.Info("Processor setup complete")
	return nil
}

// Start starts consuming.
func (p *Processor) Start() (err error) {
	logger.Log.Info("Starting message processor...")

	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("[panic] Recovered from panic in processor",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("panic starting processor: %v", r)
		}
	}()

	if err := p.consumer.Start(); err != nil {
		return fmt.Errorf("failed to start message consumer: %w", err)
	}

	logger.Log.Info("Message consumer started successfully")
	return nil
}

// Stop stops the consumer.
func (p *Processor) Stop() {
	logger.Log.Info("Stopping message processor...")
	p.consumer.Stop()
	logger.Log.Info("Message processor stopped")
}
