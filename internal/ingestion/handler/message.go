package handler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MessageService processes decoded inbound conversation messages.
type MessageService interface {
	HandleInboundMessage(ctx context.Context, payload model.InboundMessagePayload) error
}

// MessageHandler decodes inbound conversation messages for the service.
type MessageHandler struct {
	service MessageService
}

// NewMessageHandler creates a new inbound message handler
func NewMessageHandler(service MessageService) *MessageHandler {
	return &MessageHandler{service: service}
}

// HandleEvent processes inbound message events
func (h *MessageHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	ctx = tenant.WithRequestID(ctx, uuid.NewString())
	log := logger.FromContext(ctx)

	if eventType != model.V1ConversationMessage {
		log.Error("Unsupported event type", zap.String("eventType", string(eventType)))
		return apperrors.NewFatal(fmt.Errorf("unsupported event type: %s", eventType), "unsupported event type")
	}

	var payload model.InboundMessagePayload
	if err := json.Unmarshal(rawEvent, &payload); err != nil {
		log.Error("Failed to unmarshal inbound message payload", zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal inbound message payload")
	}

	if payload.CompanyID == "" {
		payload.CompanyID = metadata.CompanyID
	}
	if payload.MessageID == "" {
		payload.MessageID = metadata.MessageID
	}

	log.Debug("Processing inbound message",
		zap.String("message_id", payload.MessageID),
		zap.String("nats_message_id", metadata.MessageID))
	return h.service.HandleInboundMessage(ctx, payload)
}
