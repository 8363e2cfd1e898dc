package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/config"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
)

const (
	classifySystemPrompt = "You are a precise classifier. Answer only with a JSON object, no prose."
	extractSystemPrompt  = "You extract structured data from conversations. Answer only with a JSON object. Use null for values that are not present."
)

// completer is the part of the OpenAI chat service used here.
type completer interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClient implements Client on top of the OpenAI chat completions API.
type OpenAIClient struct {
	chat        completer
	model       openai.ChatModel
	temperature float64
	timeout     time.Duration
	log         *zap.Logger
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client from configuration.
func NewOpenAIClient(cfg config.AIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: ai.apiKey is not set", apperrors.ErrBadRequest)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(opts...)
	return newOpenAIClient(&cli.Chat.Completions, cfg), nil
}

func newOpenAIClient(chat completer, cfg config.AIConfig) *OpenAIClient {
	chatModel := openai.ChatModel(cfg.Model)
	if chatModel == "" {
		chatModel = openai.ChatModelGPT4oMini
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIClient{
		chat:        chat,
		model:       chatModel,
		temperature: cfg.Temperature,
		timeout:     timeout,
		log:         logger.Log.Named("ai"),
	}
}

func (c *OpenAIClient) Classify(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, "classify", []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(classifySystemPrompt),
		openai.UserMessage(prompt),
	})
}

func (c *OpenAIClient) ExtractData(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, "extract", []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(extractSystemPrompt),
		openai.UserMessage(prompt),
	})
}

func (c *OpenAIClient) GenerateResponse(ctx context.Context, system string, history []model.Message, message string) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	for _, m := range history {
		switch m.Role {
		case model.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case model.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(message))
	return c.complete(ctx, "respond", msgs)
}

func (c *OpenAIClient) complete(ctx context.Context, op string, msgs []openai.ChatCompletionMessageParamUnion) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    msgs,
		Temperature: openai.Float(c.temperature),
	})
	if err != nil {
		c.log.Warn("AI completion failed", zap.String("operation", op), zap.Duration("duration", time.Since(start)), zap.Error(err))
		if ctx.Err() != nil {
			return "", apperrors.NewRetryable(apperrors.ErrTimeout, "ai %s", op)
		}
		return "", fmt.Errorf("ai %s: %w", op, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("ai %s: no choices returned", op)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.log.Debug("AI completion", zap.String("operation", op), zap.Duration("duration", time.Since(start)), zap.Int("length", len(content)))
	return content, nil
}
