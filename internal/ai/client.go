// Package ai defines the AI collaborator used for intent, entity and sentiment
// classification, parameter extraction and free-form replies.
package ai

import (
	"context"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

// Client is the AI backend. Responses are untrusted text; callers parse them
// with pkg/aijson.
type Client interface {
	// Classify answers a classification prompt, normally with a small JSON object.
	Classify(ctx context.Context, prompt string) (string, error)
	// ExtractData answers a structured-extraction prompt with a JSON object.
	ExtractData(ctx context.Context, prompt string) (string, error)
	// GenerateResponse produces a conversational reply.
	GenerateResponse(ctx context.Context, system string, history []model.Message, message string) (string, error)
}
