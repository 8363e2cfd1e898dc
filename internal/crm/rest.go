package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
)

const (
	opCreateLead    = "leads"
	opCreateDeal    = "deals"
	opCreateContact = "contacts"
	opCreateTask    = "tasks"
	opPipelines     = "pipelines"
	opUsers         = "users"

	maxResponseBytes = 1 << 20
)

// Paths probed for the created object id, covering the common provider envelopes.
var idPaths = []string{"id", "result", "data.id", "result.id", "_embedded.leads.0.id", "_embedded.contacts.0.id", "_embedded.tasks.0.id"}

// RESTClient talks to a CRM through a JSON REST gateway: POST <base>/<operation>.
type RESTClient struct {
	provider   string
	baseURL    string
	token      string
	http       *http.Client
	newBackOff func(ctx context.Context) backoff.BackOff
	log        *zap.Logger
}

var _ CRM = (*RESTClient)(nil)

func NewRESTClient(provider, baseURL, token string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &RESTClient{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		http:     &http.Client{Timeout: timeout},
		newBackOff: func(ctx context.Context) backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 10 * time.Second
			return backoff.WithContext(b, ctx)
		},
		log: logger.Log.Named("crm").With(zap.String("provider", provider)),
	}
}

func (c *RESTClient) CreateLead(ctx context.Context, fields map[string]interface{}) (Record, error) {
	return c.create(ctx, opCreateLead, fields)
}

func (c *RESTClient) CreateDeal(ctx context.Context, fields map[string]interface{}) (Record, error) {
	return c.create(ctx, opCreateDeal, fields)
}

func (c *RESTClient) CreateContact(ctx context.Context, fields map[string]interface{}) (Record, error) {
	return c.create(ctx, opCreateContact, fields)
}

func (c *RESTClient) CreateTask(ctx context.Context, fields map[string]interface{}) (Record, error) {
	return c.create(ctx, opCreateTask, fields)
}

func (c *RESTClient) GetPipelines(ctx context.Context) ([]Pipeline, error) {
	body, err := c.do(ctx, http.MethodGet, opPipelines, nil)
	if err != nil {
		return nil, err
	}
	var out []Pipeline
	for _, item := range listItems(body) {
		out = append(out, Pipeline{ID: item.Get("id").String(), Name: firstString(item, "name", "title", "NAME")})
	}
	return out, nil
}

func (c *RESTClient) GetUsers(ctx context.Context) ([]User, error) {
	body, err := c.do(ctx, http.MethodGet, opUsers, nil)
	if err != nil {
		return nil, err
	}
	var out []User
	for _, item := range listItems(body) {
		out = append(out, User{
			ID:    firstString(item, "id", "ID"),
			Name:  firstString(item, "name", "NAME"),
			Email: firstString(item, "email", "EMAIL"),
		})
	}
	return out, nil
}

func (c *RESTClient) create(ctx context.Context, op string, fields map[string]interface{}) (Record, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return Record{}, fmt.Errorf("%w: encode %s fields: %w", apperrors.ErrBadRequest, op, err)
	}
	body, err := c.do(ctx, http.MethodPost, op, payload)
	if err != nil {
		return Record{}, err
	}

	rec := Record{}
	parsed := gjson.ParseBytes(body)
	for _, p := range idPaths {
		if v := parsed.Get(p); v.Exists() && v.Type != gjson.JSON {
			rec.ID = v.String()
			break
		}
	}
	rec.URL = firstString(parsed, "url", "link", "data.url")
	if raw, ok := parsed.Value().(map[string]interface{}); ok {
		rec.Raw = raw
	}
	if rec.ID == "" {
		return rec, fmt.Errorf("%w: %s %s response has no id", apperrors.ErrActionFailed, c.provider, op)
	}
	return rec, nil
}

// do performs one request, retrying transport errors and 5xx responses.
func (c *RESTClient) do(ctx context.Context, method, op string, payload []byte) ([]byte, error) {
	url := c.baseURL + "/" + op
	var body []byte

	operation := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%s %s: status %d", c.provider, op, resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("%w: %s %s: status %d: %s", apperrors.ErrActionFailed, c.provider, op, resp.StatusCode, truncate(string(data), 200)))
		}
		body = data
		return nil
	}

	notify := func(err error, next time.Duration) {
		c.log.Warn("CRM request failed, retrying", zap.String("operation", op), zap.Duration("retry_in", next), zap.Error(err))
	}
	if err := backoff.RetryNotify(operation, c.newBackOff(ctx), notify); err != nil {
		if apperrors.IsActionFailedError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s %s: %w", apperrors.ErrActionFailed, c.provider, op, err)
	}
	return body, nil
}

func listItems(body []byte) []gjson.Result {
	parsed := gjson.ParseBytes(body)
	for _, p := range []string{"@this", "result", "data", "items", "_embedded.pipelines", "_embedded.users"} {
		if v := parsed.Get(p); v.IsArray() {
			return v.Array()
		}
	}
	return nil
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v.String()
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
