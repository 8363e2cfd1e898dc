// Package trigger decides whether a Function fires for an event.
package trigger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/ai"
	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
)

const defaultThreshold = 0.7

// MatchDetail explains why a trigger did or did not fire.
type MatchDetail struct {
	TriggerID  string            `json:"trigger_id"`
	Type       model.TriggerType `json:"type"`
	Matched    bool              `json:"matched"`
	Content    string            `json:"content,omitempty"` // matched keyword, pattern, intent, entity value or sentiment
	Confidence float64           `json:"confidence,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Conditions []ConditionResult `json:"conditions,omitempty"`
}

// Evaluator matches events against triggers.
type Evaluator struct {
	ai        ai.Client
	threshold float64
	patterns  *regexCache
	log       *zap.Logger
}

// NewEvaluator creates an Evaluator. aiClient may be nil, in which case AI
// backed triggers never match.
func NewEvaluator(aiClient ai.Client, threshold float64) *Evaluator {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Evaluator{
		ai:        aiClient,
		threshold: threshold,
		patterns:  newRegexCache(),
		log:       logger.Log.Named("trigger"),
	}
}

// FirstMatch evaluates the function's active triggers by descending priority
// and returns the first one that matches.
func (e *Evaluator) FirstMatch(ctx context.Context, fn *model.Function, ev *model.Event) (*model.Trigger, MatchDetail, bool) {
	for _, t := range fn.SortedTriggers() {
		t := t
		if ok, detail := e.Matches(ctx, &t, ev); ok {
			return &t, detail, true
		}
	}
	return nil, MatchDetail{}, false
}

// Matches evaluates a single trigger. Errors are logged and count as a non-match.
func (e *Evaluator) Matches(ctx context.Context, t *model.Trigger, ev *model.Event) (bool, MatchDetail) {
	log := logger.FromContextOr(ctx, e.log).With(
		zap.String("trigger_id", t.ID),
		zap.String("trigger_type", string(t.Type)),
		zap.String("function_id", t.FunctionID),
	)

	detail, err := e.evaluate(ctx, t, ev)
	detail.TriggerID = t.ID
	detail.Type = t.Type

	switch {
	case err != nil:
		detail.Matched = false
		detail.Reason = err.Error()
		observer.IncTriggerEvaluation(string(t.Type), "error")
		log.Warn("Trigger evaluation failed", zap.Error(err))
	case detail.Matched:
		observer.IncTriggerEvaluation(string(t.Type), "matched")
		log.Info("Trigger matched",
			zap.String("content", detail.Content),
			zap.Float64("confidence", detail.Confidence),
			zap.Any("conditions", detail.Conditions),
		)
	default:
		observer.IncTriggerEvaluation(string(t.Type), "not_matched")
		log.Debug("Trigger not matched", zap.String("reason", detail.Reason))
	}
	return detail.Matched, detail
}

func (e *Evaluator) evaluate(ctx context.Context, t *model.Trigger, ev *model.Event) (MatchDetail, error) {
	switch t.Type {
	case model.TriggerKeyword:
		var cfg model.KeywordConfig
		if err := t.DecodeConfig(&cfg); err != nil {
			return MatchDetail{}, evalErr(t, err)
		}
		ok, kw := matchKeywords(ev.Text(), cfg)
		return MatchDetail{Matched: ok, Content: kw}, nil

	case model.TriggerPattern:
		var cfg model.PatternConfig
		if err := t.DecodeConfig(&cfg); err != nil {
			return MatchDetail{}, evalErr(t, err)
		}
		if cfg.Pattern == "" {
			return MatchDetail{}, evalErr(t, fmt.Errorf("empty pattern"))
		}
		re, err := e.patterns.get(cfg.Pattern)
		if err != nil {
			return MatchDetail{}, evalErr(t, err)
		}
		loc := re.FindStringIndex(ev.Text())
		if loc == nil {
			return MatchDetail{}, nil
		}
		return MatchDetail{Matched: true, Content: ev.Text()[loc[0]:loc[1]]}, nil

	case model.TriggerIntent:
		return e.matchIntent(ctx, t, ev)

	case model.TriggerEntity:
		return e.matchEntity(ctx, t, ev)

	case model.TriggerSentiment:
		return e.matchSentiment(ctx, t, ev)

	case model.TriggerCondition:
		results, ok := e.evaluateConditions(ctx, t.SortedConditions(), newEnv(ev))
		return MatchDetail{Matched: ok, Conditions: results}, nil

	case model.TriggerSchedule, model.TriggerWebhook:
		return MatchDetail{Reason: "fired by its own event source"}, nil
	}
	return MatchDetail{}, evalErr(t, fmt.Errorf("unknown trigger type %q", t.Type))
}

func evalErr(t *model.Trigger, err error) error {
	return fmt.Errorf("%w: trigger %s: %w", apperrors.ErrTriggerEvaluation, t.ID, err)
}

// matchKeywords applies the keyword mode to the lowercased message and returns the matching keyword.
func matchKeywords(text string, cfg model.KeywordConfig) (bool, string) {
	msg := strings.ToLower(strings.TrimSpace(text))
	if msg == "" {
		return false, ""
	}

	keywords := make([]string, 0, len(cfg.Keywords))
	for _, k := range cfg.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) == 0 {
		return false, ""
	}

	switch cfg.Mode {
	case model.KeywordAll:
		for _, k := range keywords {
			if !strings.Contains(msg, k) {
				return false, ""
			}
		}
		return true, strings.Join(keywords, ",")
	case model.KeywordExact:
		for _, k := range keywords {
			if msg == k {
				return true, k
			}
		}
		return false, ""
	default:
		for _, k := range keywords {
			if strings.Contains(msg, k) {
				return true, k
			}
		}
		return false, ""
	}
}
