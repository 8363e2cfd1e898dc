// Package webhook runs functions from inbound HTTP calls addressed by an
// opaque per-function key.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/cache"
	"gitlab.com/timkado/api/daisi-function-engine/internal/config"
	"gitlab.com/timkado/api/daisi-function-engine/internal/counter"
	"gitlab.com/timkado/api/daisi-function-engine/internal/extraction"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-function-engine/internal/storage"
	"gitlab.com/timkado/api/daisi-function-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-function-engine/internal/usecase"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

const (
	defaultRateLimit  = 60
	defaultRateWindow = 60 * time.Second
	webhookChannel    = "webhook"
	idempotencyHeader = "Idempotency-Key"
	maxMessagePreview = 500
)

// identityCandidates are tried in order when no identity_field is configured.
var identityCandidates = []string{"email", "phone", "id", "user_id"}

// Request is one inbound webhook call.
type Request struct {
	Key      string
	Body     []byte
	Header   http.Header
	ClientIP string
}

// Response is the HTTP answer to a webhook call. Body is JSON.
type Response struct {
	Status int
	Body   []byte
}

// Ingress resolves the function behind a webhook key, checks the call and
// hands it to the executor.
type Ingress struct {
	functions     storage.FunctionRepo
	conversations storage.ConversationRepo
	executor      usecase.FunctionRunner
	cache         *cache.FunctionCache
	limiter       *counter.RateLimiter
	defaults      config.WebhookConfig
	companyID     string
	now           func() time.Time
	log           *zap.Logger
}

func NewIngress(
	functions storage.FunctionRepo,
	conversations storage.ConversationRepo,
	executor usecase.FunctionRunner,
	functionCache *cache.FunctionCache,
	limiter *counter.RateLimiter,
	defaults config.WebhookConfig,
	companyID string,
) *Ingress {
	return &Ingress{
		functions:     functions,
		conversations: conversations,
		executor:      executor,
		cache:         functionCache,
		limiter:       limiter,
		defaults:      defaults,
		companyID:     companyID,
		now:           utils.Now,
		log:           logger.Log.Named("webhook"),
	}
}

// Handle processes one call. Every outcome, including rejections, is a Response;
// the error is only set for storage failures and is already reflected in the
// 500 response.
func (in *Ingress) Handle(ctx context.Context, req Request) (*Response, error) {
	if in.companyID != "" {
		if _, err := tenant.FromContext(ctx); errors.Is(err, tenant.ErrCompanyIDNotFound) {
			ctx = tenant.WithCompanyID(ctx, in.companyID)
		}
	}
	log := logger.FromContextOr(ctx, in.log).With(zap.String("client_ip", req.ClientIP))
	ctx = logger.WithLogger(ctx, log)

	fn, err := in.lookup(ctx, req.Key)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return reject(http.StatusNotFound, "not_found", "unknown webhook"), nil
		}
		log.Error("Webhook function lookup failed", zap.Error(err))
		return reject(http.StatusInternalServerError, "error", "internal error"), err
	}
	log = log.With(zap.String("function_id", fn.ID))
	ctx = logger.WithLogger(ctx, log)

	if !fn.IsActive {
		return reject(http.StatusNotFound, "inactive", apperrors.ErrFunctionInactive.Error()), nil
	}
	trig, ok := fn.TriggerOfType(model.TriggerWebhook)
	if !ok {
		return reject(http.StatusForbidden, "inactive", "webhook trigger disabled"), nil
	}
	var cfg model.WebhookConfig
	if err := trig.DecodeConfig(&cfg); err != nil {
		log.Error("Invalid webhook trigger config", zap.Error(err))
		return reject(http.StatusInternalServerError, "error", "webhook misconfigured"), nil
	}

	if cfg.VerifySignature {
		if err := VerifySignature(cfg, req.Header, req.Body); err != nil {
			log.Warn("Webhook signature rejected", zap.Error(err))
			return reject(http.StatusUnauthorized, "unauthorized", "invalid signature"), nil
		}
	}

	if allowed := in.allow(ctx, fn.ID, req.ClientIP, cfg); !allowed {
		return reject(http.StatusTooManyRequests, "rate_limited", apperrors.ErrRateLimited.Error()), nil
	}

	body := req.Body
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return reject(http.StatusBadRequest, "bad_request", "body must be a JSON object"), nil
	}

	raw := ExtractParams(fn.Parameters, cfg.ParameterMapping, body)
	if missing := precheck(ctx, fn, raw); len(missing) > 0 {
		log.Info("Webhook parameters incomplete", zap.Strings("missing", missing))
		return validationFailure(missing, nil), nil
	}

	identity := ResolveIdentity(cfg.IdentityField, body, req.ClientIP)
	conv, err := in.conversation(ctx, fn, identity)
	if err != nil {
		log.Error("Failed to ensure webhook conversation", zap.Error(err))
		return reject(http.StatusInternalServerError, "error", "internal error"), err
	}

	now := in.now()
	msg := model.Message{
		ID:             in.messageID(fn.ID, req.Header),
		ConversationID: conv.ID,
		Role:           model.RoleSystem,
		Content:        describe(fn, body),
		CreatedAt:      now,
	}
	if err := in.conversations.AddMessage(ctx, &msg); err != nil {
		log.Error("Failed to store webhook message", zap.Error(err))
		return reject(http.StatusInternalServerError, "error", "internal error"), err
	}

	res, err := in.executor.Execute(ctx, fn, &model.Event{
		Source:       model.SourceWebhook,
		Message:      msg,
		Conversation: conv,
		Metadata:     map[string]interface{}{"client_ip": req.ClientIP, "identity": identity.Value},
		Params:       raw,
		ReceivedAt:   now,
	})
	if err != nil {
		log.Error("Webhook run failed", zap.Error(err))
		return reject(http.StatusInternalServerError, "error", "internal error"), err
	}

	switch res.Status {
	case usecase.RunDuplicate:
		observer.IncWebhookRequest("duplicate")
		return &Response{Status: http.StatusOK, Body: []byte(`{"success":true,"duplicate":true}`)}, nil
	case usecase.RunInvalid, usecase.RunCollecting:
		return validationFailure(res.Missing, res.Invalid), nil
	}

	out, err := FormatResponse(cfg, res)
	if err != nil {
		log.Error("Failed to format webhook response", zap.Error(err))
		return reject(http.StatusInternalServerError, "error", "internal error"), nil
	}
	if res.Succeeded() {
		observer.IncWebhookRequest("executed")
	} else {
		observer.IncWebhookRequest("failed")
	}
	return &Response{Status: http.StatusOK, Body: out}, nil
}

// lookup reads the function from the cache, then the store, and caches it.
func (in *Ingress) lookup(ctx context.Context, key string) (*model.Function, error) {
	if key == "" {
		return nil, apperrors.ErrNotFound
	}
	if in.cache != nil {
		if fn, ok := in.cache.Get(key); ok {
			return fn, nil
		}
	}
	fn, err := in.functions.FindByWebhookKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if in.cache != nil {
		in.cache.Put(key, fn)
	}
	return fn, nil
}

// allow applies the per (function, client) rate limit. Counter errors let the call through.
func (in *Ingress) allow(ctx context.Context, functionID, clientIP string, cfg model.WebhookConfig) bool {
	if in.limiter == nil {
		return true
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = in.defaults.RateLimit
	}
	if limit <= 0 {
		limit = defaultRateLimit
	}
	window := time.Duration(cfg.RateWindowSeconds) * time.Second
	if window <= 0 {
		window = time.Duration(in.defaults.RateWindowSeconds) * time.Second
	}
	if window <= 0 {
		window = defaultRateWindow
	}

	ok, err := in.limiter.Allow(ctx, "webhook:"+functionID+":"+clientIP, limit, window)
	if err != nil {
		logger.FromContext(ctx).Warn("Rate limit check failed, allowing", zap.Error(err))
		return true
	}
	return ok
}

func (in *Ingress) conversation(ctx context.Context, fn *model.Function, id Identity) (*model.Conversation, error) {
	key := model.WebhookKeyPrefix + fn.ID + ":" + id.Value
	conv := model.Conversation{
		ID:          uuid.NewString(),
		BotID:       fn.BotID,
		CompanyID:   fn.CompanyID,
		ExternalKey: &key,
		Channel:     webhookChannel,
	}
	switch id.Field {
	case "email":
		conv.ContactEmail = id.Value
	case "phone":
		conv.ContactPhone = id.Value
	}
	return in.conversations.Ensure(ctx, conv)
}

// messageID makes retried deliveries carrying the same idempotency key map to
// one run.
func (in *Ingress) messageID(functionID string, h http.Header) string {
	if h != nil {
		if k := strings.TrimSpace(h.Get(idempotencyHeader)); k != "" {
			return "webhook:" + functionID + ":" + k
		}
	}
	return "webhook:" + uuid.NewString()
}

// precheck returns the required parameters the body does not supply. Values
// that fail their type or rules are dropped and count as absent.
func precheck(ctx context.Context, fn *model.Function, raw map[string]interface{}) []string {
	values, rejected := extraction.CastParameters(ctx, fn.Parameters, raw)
	if len(rejected) > 0 {
		logger.FromContext(ctx).Debug("Webhook parameters discarded", zap.Strings("codes", rejected))
	}
	values = extraction.ApplyDefaults(fn.Parameters, values)
	return extraction.MissingRequiredParameters(fn, values)
}

// Identity is the caller a webhook conversation belongs to.
type Identity struct {
	Field string
	Value string
}

// ResolveIdentity picks the caller identity from identityField, then the
// usual contact fields, then a hash of the client address.
func ResolveIdentity(identityField string, body []byte, clientIP string) Identity {
	if identityField != "" {
		if v := gjson.GetBytes(body, identityField); v.Exists() && v.String() != "" {
			return Identity{Field: identityField, Value: v.String()}
		}
	}
	for _, f := range identityCandidates {
		if v := gjson.GetBytes(body, f); v.Exists() && v.String() != "" {
			return Identity{Field: f, Value: v.String()}
		}
	}
	sum := sha256.Sum256([]byte(clientIP))
	return Identity{Field: "client_ip", Value: hex.EncodeToString(sum[:8])}
}

func describe(fn *model.Function, body []byte) string {
	preview := string(body)
	if len(preview) > maxMessagePreview {
		preview = preview[:maxMessagePreview] + "..."
	}
	return fmt.Sprintf("Webhook call for %s: %s", fn.Name, preview)
}
