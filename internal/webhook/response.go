package webhook

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-function-engine/internal/usecase"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wholePathRe matches a template that is a single {path}; its value keeps its JSON type.
var wholePathRe = regexp.MustCompile(`^\{([^{}]+)\}$`)

// Result is the full response body of an executed webhook run.
type Result struct {
	Success     bool                   `json:"success"`
	ExecutionID string                 `json:"execution_id"`
	Status      string                 `json:"status"`
	Parameters  map[string]interface{} `json:"parameters"`
	Results     []model.ActionResult   `json:"results"`
	Error       string                 `json:"error,omitempty"`
}

// FormatResponse renders res in the trigger's response format.
func FormatResponse(cfg model.WebhookConfig, res *usecase.RunResult) ([]byte, error) {
	full := Result{
		Success:    res.Succeeded(),
		Parameters: res.Params,
		Results:    res.Results,
	}
	if res.Execution != nil {
		full.ExecutionID = res.Execution.ID
		full.Status = string(res.Execution.Status)
		full.Error = res.Execution.ErrorMessage
	}
	if full.Results == nil {
		full.Results = []model.ActionResult{}
	}

	switch cfg.ResponseFormat {
	case model.ResponseMinimal:
		return json.Marshal(map[string]bool{"success": full.Success})
	case model.ResponseCustom:
		doc, err := json.Marshal(full)
		if err != nil {
			return nil, err
		}
		return renderCustom(cfg.CustomResponse, doc)
	default:
		return json.Marshal(full)
	}
}

// renderCustom builds a body from key -> template pairs resolved over doc.
// Keys may be dot paths and create nested objects.
func renderCustom(templates map[string]string, doc []byte) ([]byte, error) {
	keys := make([]string, 0, len(templates))
	for k := range templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []byte("{}")
	var err error
	for _, key := range keys {
		tmpl := strings.TrimSpace(templates[key])
		if m := wholePathRe.FindStringSubmatch(tmpl); m != nil {
			v := gjson.GetBytes(doc, m[1])
			raw := "null"
			if v.Exists() {
				raw = v.Raw
			}
			out, err = sjson.SetRawBytes(out, key, []byte(raw))
		} else {
			rendered := utils.ReplacePlaceholders(tmpl, func(path string) (string, bool) {
				v := gjson.GetBytes(doc, path)
				return v.String(), v.Exists()
			})
			out, err = sjson.SetBytes(out, key, rendered)
		}
		if err != nil {
			return nil, fmt.Errorf("custom response key %q: %w", key, err)
		}
	}
	return out, nil
}

type errorBody struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Missing []string `json:"missing,omitempty"`
	Invalid []string `json:"invalid,omitempty"`
}

func reject(status int, outcome, msg string) *Response {
	observer.IncWebhookRequest(outcome)
	body, _ := json.Marshal(errorBody{Error: msg})
	return &Response{Status: status, Body: body}
}

func validationFailure(missing, invalid []string) *Response {
	observer.IncWebhookRequest("invalid")
	body, _ := json.Marshal(errorBody{Error: "invalid parameters", Missing: missing, Invalid: invalid})
	return &Response{Status: http.StatusUnprocessableEntity, Body: body}
}
