package ingestion

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
)

// EventHandler defines a function that processes events
type EventHandler func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error

// Router dispatches consumed messages to handlers by base event type.
type Router struct {
	handlers       map[model.EventType]EventHandler
	defaultHandler EventHandler
}

// NewRouter creates a new event router
func NewRouter() *Router {
	return &Router{
		handlers: make(map[model.EventType]EventHandler),
	}
}

// Register registers a handler for a base event type (subject without the company suffix).
func (r *Router) Register(eventType model.EventType, handler EventHandler) {
	r.handlers[eventType] = handler
}

// RegisterDefault registers the handler used for unmapped event types
func (r *Router) RegisterDefault(handler EventHandler) {
	r.defaultHandler = handler
}

// Route enriches ctx with the tenant and a scoped logger, then calls the
// handler for the message's event type.
func (r *Router) Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx).With(
		zap.String("event_type", metadata.MessageSubject),
		zap.String("event_id", metadata.MessageID),
		zap.String("company_id", metadata.CompanyID),
	)
	ctx = logger.WithLogger(ctx, log)

	if metadata.CompanyID != "" {
		ctx = tenant.WithCompanyID(ctx, metadata.CompanyID)
	}

	eventType, found := model.MapToBaseEventType(metadata.MessageSubject)
	if !found {
		log.Warn("Could not map subject to a known base event type", zap.String("subject", metadata.MessageSubject))
	}

	log.Debug("Event received",
		zap.Int("payload_bytes", len(rawEvent)),
		zap.String("version", eventType.GetVersion()),
		zap.String("base_type", string(eventType.GetBaseType())),
	)

	handler, ok := r.handlers[eventType]
	if !ok {
		if r.defaultHandler != nil {
			log.Warn("No specific handler for event type, using default")
			return r.defaultHandler(ctx, eventType, metadata, rawEvent)
		}
		log.Error("No handler registered for event type")
		return nil
	}
	return handler(ctx, eventType, metadata, rawEvent)
}
