package handler

import (
	"context"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

// EventHandlerInterface defines the common interface for event handlers
type EventHandlerInterface interface {
	// HandleEvent processes an event
	HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error
}

// Ensure the handlers implement the interface
var (
	_ EventHandlerInterface = (*MessageHandler)(nil)
	_ EventHandlerInterface = (*FunctionChangeHandler)(nil)
)
