package handler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
)

// FunctionCacheInvalidator drops cached function definitions.
type FunctionCacheInvalidator interface {
	Invalidate(key string)
	Purge()
}

// FunctionChangeHandler evicts webhook functions from the cache when their
// definitions change elsewhere.
type FunctionChangeHandler struct {
	cache FunctionCacheInvalidator
}

func NewFunctionChangeHandler(cache FunctionCacheInvalidator) *FunctionChangeHandler {
	return &FunctionChangeHandler{cache: cache}
}

func (h *FunctionChangeHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	if eventType != model.V1FunctionChanged {
		return apperrors.NewFatal(fmt.Errorf("unsupported event type: %s", eventType), "unsupported event type")
	}

	var payload model.FunctionChangedPayload
	if err := json.Unmarshal(rawEvent, &payload); err != nil {
		return apperrors.NewFatal(err, "failed to unmarshal function change payload")
	}

	log := logger.FromContext(ctx).With(zap.String("function_id", payload.FunctionID))
	if payload.WebhookKey == "" && payload.PreviousWebhookKey == "" {
		h.cache.Purge()
		log.Info("Function cache purged")
		return nil
	}
	for _, key := range []string{payload.WebhookKey, payload.PreviousWebhookKey} {
		if key != "" {
			h.cache.Invalidate(key)
		}
	}
	log.Debug("Function cache entries invalidated")
	return nil
}
