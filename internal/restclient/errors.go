package restclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/rpattn/fieldsync/internal/apperr"
)

const maxErrorBody = 64 << 10

// decodeError turns a non-2xx response into an *apperr.APIError. The message
// is taken from "detail", then "message", then "error", then the first
// field error of a {"field": ["msg"]} body.
func decodeError(resp *http.Response, endpoint string) error {
	apiErr := &apperr.APIError{StatusCode: resp.StatusCode, Endpoint: endpoint}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &body) != nil {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" || strings.HasPrefix(apiErr.Message, "<") {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	apiErr.Fields = fieldErrors(body)
	for _, key := range []string{"detail", "message", "error"} {
		if s, ok := body[key].(string); ok && s != "" {
			apiErr.Message = s
			return apiErr
		}
	}
	if len(apiErr.Fields) > 0 {
		names := make([]string, 0, len(apiErr.Fields))
		for name := range apiErr.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		first := names[0]
		if first == "non_field_errors" {
			apiErr.Message = apiErr.Fields[first]
		} else {
			apiErr.Message = fmt.Sprintf("%s: %s", first, apiErr.Fields[first])
		}
		return apiErr
	}
	apiErr.Message = http.StatusText(resp.StatusCode)
	return apiErr
}

// fieldErrors collects per-field messages from an "errors" object or from
// top level list values.
func fieldErrors(body map[string]any) map[string]string {
	out := map[string]string{}
	nested, hasNested := body["errors"].(map[string]any)
	source := body
	if hasNested {
		source = nested
	}
	for key, value := range source {
		switch typed := value.(type) {
		case string:
			if hasNested {
				out[key] = typed
			}
		case []any:
			if len(typed) > 0 {
				if s, ok := typed[0].(string); ok {
					out[key] = s
				}
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
