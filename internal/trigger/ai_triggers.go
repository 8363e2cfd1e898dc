package trigger

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/aijson"
)

const (
	intentPrompt = `Decide whether the user's message expresses the intent %q.
Message: %q
Answer with JSON: {"intent": "<%s or other>", "confidence": <number between 0 and 1>}`

	entityPrompt = `Find the entity %q in the user's message.%s
Message: %q
Answer with JSON: {"%s": <value as written in the message, or null if absent>}`

	sentimentPrompt = `Classify the sentiment of the user's message as positive, negative or neutral.
Message: %q
Answer with JSON: {"sentiment": "<positive|negative|neutral>", "confidence": <number between 0 and 1>}`
)

func (e *Evaluator) thresholdOr(v float64) float64 {
	if v > 0 {
		return v
	}
	return e.threshold
}

func (e *Evaluator) matchIntent(ctx context.Context, t *model.Trigger, ev *model.Event) (MatchDetail, error) {
	var cfg model.IntentConfig
	if err := t.DecodeConfig(&cfg); err != nil {
		return MatchDetail{}, evalErr(t, err)
	}
	if cfg.Intent == "" {
		return MatchDetail{}, evalErr(t, fmt.Errorf("intent is not configured"))
	}
	if e.ai == nil || strings.TrimSpace(ev.Text()) == "" {
		return MatchDetail{Reason: "no ai client or empty message"}, nil
	}

	raw, err := e.ai.Classify(ctx, fmt.Sprintf(intentPrompt, cfg.Intent, ev.Text(), cfg.Intent))
	if err != nil {
		return MatchDetail{}, evalErr(t, err)
	}
	label, confidence := labelAndConfidence(raw, "intent")
	detail := MatchDetail{Content: label, Confidence: confidence}
	detail.Matched = strings.EqualFold(label, strings.TrimSpace(cfg.Intent)) && confidence >= e.thresholdOr(cfg.Threshold)
	if !detail.Matched {
		detail.Reason = fmt.Sprintf("classified as %q with confidence %.2f", label, confidence)
	}
	return detail, nil
}

func (e *Evaluator) matchSentiment(ctx context.Context, t *model.Trigger, ev *model.Event) (MatchDetail, error) {
	var cfg model.SentimentConfig
	if err := t.DecodeConfig(&cfg); err != nil {
		return MatchDetail{}, evalErr(t, err)
	}
	if cfg.Sentiment == "" {
		return MatchDetail{}, evalErr(t, fmt.Errorf("sentiment is not configured"))
	}
	if e.ai == nil || strings.TrimSpace(ev.Text()) == "" {
		return MatchDetail{Reason: "no ai client or empty message"}, nil
	}

	raw, err := e.ai.Classify(ctx, fmt.Sprintf(sentimentPrompt, ev.Text()))
	if err != nil {
		return MatchDetail{}, evalErr(t, err)
	}
	label, confidence := labelAndConfidence(raw, "sentiment")
	detail := MatchDetail{Content: label, Confidence: confidence}
	detail.Matched = strings.EqualFold(label, strings.TrimSpace(cfg.Sentiment)) && confidence >= e.thresholdOr(cfg.Threshold)
	return detail, nil
}

func (e *Evaluator) matchEntity(ctx context.Context, t *model.Trigger, ev *model.Event) (MatchDetail, error) {
	var cfg model.EntityConfig
	if err := t.DecodeConfig(&cfg); err != nil {
		return MatchDetail{}, evalErr(t, err)
	}
	if cfg.Entity == "" {
		return MatchDetail{}, evalErr(t, fmt.Errorf("entity is not configured"))
	}
	if e.ai == nil || strings.TrimSpace(ev.Text()) == "" {
		return MatchDetail{Reason: "no ai client or empty message"}, nil
	}

	hints := ""
	if len(cfg.Hints) > 0 {
		hints = " Hints: " + strings.Join(cfg.Hints, "; ") + "."
	}
	raw, err := e.ai.ExtractData(ctx, fmt.Sprintf(entityPrompt, cfg.Entity, hints, ev.Text(), cfg.Entity))
	if err != nil {
		return MatchDetail{}, evalErr(t, err)
	}

	obj := aijson.ExtractObject(raw)
	value, ok := obj[cfg.Entity]
	if !ok || value == nil {
		return MatchDetail{Reason: "entity not found"}, nil
	}
	s := strings.TrimSpace(cast.ToString(value))
	if s == "" || strings.EqualFold(s, "null") {
		return MatchDetail{Reason: "entity not found"}, nil
	}
	return MatchDetail{Matched: true, Content: s}, nil
}

// labelAndConfidence reads {"<key>": ..., "confidence": ...} from model output.
// Unparseable output yields an empty label and zero confidence.
func labelAndConfidence(raw, key string) (string, float64) {
	obj := aijson.ExtractObject(raw)
	label := strings.TrimSpace(cast.ToString(obj[key]))
	confidence, err := cast.ToFloat64E(obj["confidence"])
	if err != nil {
		confidence = 0
	}
	if confidence > 1 && confidence <= 100 {
		confidence /= 100
	}
	return label, confidence
}
