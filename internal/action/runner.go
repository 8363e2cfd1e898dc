package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/crm"
	"gitlab.com/timkado/api/daisi-function-engine/internal/mailer"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	maxWebhookBody        = 1 << 20
)

// CRMResolver returns the integration for a provider name.
type CRMResolver interface {
	Get(provider string) (crm.CRM, error)
}

// Runner executes actions. It implements Visitor.
type Runner struct {
	crms   CRMResolver
	mailer mailer.Mailer
	http   *http.Client
	now    func() time.Time
	log    *zap.Logger
}

var _ Visitor = (*Runner)(nil)

func NewRunner(crms CRMResolver, m mailer.Mailer, webhookTimeout time.Duration) *Runner {
	if webhookTimeout <= 0 {
		webhookTimeout = defaultWebhookTimeout
	}
	return &Runner{
		crms:   crms,
		mailer: m,
		http:   &http.Client{Timeout: webhookTimeout},
		now:    utils.Now,
		log:    logger.Log.Named("action"),
	}
}

// Run performs one action and reports its outcome. It never returns an error
// and never panics: every failure ends up in the result.
func (r *Runner) Run(ctx context.Context, a model.Action, params map[string]interface{}, conv *model.Conversation) (res model.ActionResult) {
	log := logger.FromContextOr(ctx, r.log).With(
		zap.String("action_id", a.ID),
		zap.String("action_type", string(a.Type)),
		zap.String("provider", a.Provider),
	)
	res = model.ActionResult{ActionID: a.ID, Type: a.Type, Provider: a.Provider, Critical: a.IsCritical}
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("[panic] Recovered from panic in action", zap.Any("panic", rec))
			res.Success = false
			res.Data = nil
			res.Error = fmt.Sprintf("panic: %v", rec)
		}
		observer.IncActionResult(string(a.Type), a.Provider, res.Success)
		if res.Success {
			log.Info("Action succeeded", zap.Duration("duration", time.Since(start)))
		} else {
			log.Warn("Action failed", zap.String("error", res.Error), zap.Duration("duration", time.Since(start)))
		}
	}()

	variant, err := Decode(a)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	mappings, err := a.Mappings()
	if err != nil {
		res.Error = err.Error()
		return res
	}

	in := Input{
		Params:       params,
		Fields:       ResolveFields(mappings, params, conv, r.now()),
		Conversation: conv,
	}
	data, err := variant.Accept(ctx, r, in)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Data = data
	return res
}

func (r *Runner) VisitCreateLead(ctx context.Context, a CreateLead, in Input) (map[string]interface{}, error) {
	return r.createRecord(ctx, a.Header, crmFields(a.Provider, a.Static, in.Fields), crm.CRM.CreateLead)
}

func (r *Runner) VisitCreateDeal(ctx context.Context, a CreateDeal, in Input) (map[string]interface{}, error) {
	return r.createRecord(ctx, a.Header, crmFields(a.Provider, a.Static, in.Fields), crm.CRM.CreateDeal)
}

func (r *Runner) VisitCreateContact(ctx context.Context, a CreateContact, in Input) (map[string]interface{}, error) {
	return r.createRecord(ctx, a.Header, crmFields(a.Provider, a.Static, in.Fields), crm.CRM.CreateContact)
}

func (r *Runner) VisitCreateTask(ctx context.Context, a CreateTask, in Input) (map[string]interface{}, error) {
	fields := crmFields(a.Provider, a.Static, in.Fields)
	if a.Title != "" {
		fields["title"] = Render(a.Title, templateValues(in), r.now())
	}
	if a.DueInHours > 0 {
		fields["deadline"] = r.now().Add(time.Duration(a.DueInHours) * time.Hour).Format(time.RFC3339)
	}
	if a.ResponsibleUserID != "" {
		fields["responsible_user_id"] = a.ResponsibleUserID
	}
	if _, ok := fields["title"]; !ok {
		return nil, fmt.Errorf("%w: task has no title", apperrors.ErrActionFailed)
	}
	return r.createRecord(ctx, a.Header, fields, crm.CRM.CreateTask)
}

func (r *Runner) createRecord(ctx context.Context, h Header, fields map[string]interface{},
	create func(crm.CRM, context.Context, map[string]interface{}) (crm.Record, error),
) (map[string]interface{}, error) {
	if r.crms == nil {
		return nil, fmt.Errorf("%w: no crm integrations configured", apperrors.ErrActionFailed)
	}
	client, err := r.crms.Get(h.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: crm %q: %w", apperrors.ErrActionFailed, h.Provider, err)
	}
	rec, err := create(client, ctx, fields)
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{"id": rec.ID, "provider": h.Provider}
	if rec.URL != "" {
		data["url"] = rec.URL
	}
	return data, nil
}

func (r *Runner) VisitWebhookGet(ctx context.Context, a WebhookGet, in Input) (map[string]interface{}, error) {
	values := templateValues(in)
	target, err := r.buildURL(a.Request, values)
	if err != nil {
		return nil, err
	}
	q := target.Query()
	for k, v := range in.Fields {
		q.Set(k, cast.ToString(v))
	}
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrActionFailed, err)
	}
	return r.do(req, a.Request, values)
}

func (r *Runner) VisitWebhookPost(ctx context.Context, a WebhookPost, in Input) (map[string]interface{}, error) {
	values := templateValues(in)
	target, err := r.buildURL(a.Request, values)
	if err != nil {
		return nil, err
	}

	body := make(map[string]interface{}, len(a.Body)+len(in.Fields))
	for k, v := range a.Body {
		if s, ok := v.(string); ok {
			v = Render(s, values, r.now())
		}
		body[k] = v
	}
	for k, v := range in.Fields {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encode body: %w", apperrors.ErrActionFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrActionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(req, a.Request, values)
}

func (r *Runner) buildURL(cfg Request, values map[string]interface{}) (*url.URL, error) {
	target, err := url.Parse(Render(cfg.URL, values, r.now()))
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("%w: invalid webhook url %q", apperrors.ErrActionFailed, cfg.URL)
	}
	if len(cfg.Query) > 0 {
		q := target.Query()
		for k, v := range cfg.Query {
			q.Set(k, Render(v, values, r.now()))
		}
		target.RawQuery = q.Encode()
	}
	return target, nil
}

func (r *Runner) do(req *http.Request, cfg Request, values map[string]interface{}) (map[string]interface{}, error) {
	for k, v := range cfg.Headers {
		req.Header.Set(k, Render(v, values, r.now()))
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", apperrors.ErrActionFailed, req.Method, req.URL.Host, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", apperrors.ErrActionFailed, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: webhook returned status %d", apperrors.ErrActionFailed, resp.StatusCode)
	}
	return responseData(resp.StatusCode, raw), nil
}

// responseData keeps the status code and whatever the body decodes to. JSON
// objects are merged at the top level so behavior templates can use their keys.
func responseData(status int, raw []byte) map[string]interface{} {
	data := map[string]interface{}{"status_code": status}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return data
	}

	var decoded interface{}
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		data["body"] = truncate(string(trimmed), 2048)
		return data
	}
	if obj, ok := decoded.(map[string]interface{}); ok {
		for k, v := range obj {
			if k == "status_code" {
				continue
			}
			data[k] = v
		}
		return data
	}
	data["response"] = decoded
	return data
}

func (r *Runner) VisitSendEmail(ctx context.Context, a SendEmail, in Input) (map[string]interface{}, error) {
	if r.mailer == nil {
		return nil, fmt.Errorf("%w: email is not configured", apperrors.ErrActionFailed)
	}
	values := templateValues(in)
	now := r.now()

	email := mailer.Email{
		To:      renderAll(a.To, values, now),
		Cc:      renderAll(a.Cc, values, now),
		Subject: Render(a.Subject, values, now),
		Body:    Render(a.Body, values, now),
		HTML:    a.HTML,
	}
	if err := r.mailer.Send(ctx, email); err != nil {
		return nil, err
	}
	return map[string]interface{}{"to": strings.Join(email.To, ","), "subject": email.Subject}, nil
}

func renderAll(in []string, values map[string]interface{}, now time.Time) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if v := strings.TrimSpace(Render(s, values, now)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
