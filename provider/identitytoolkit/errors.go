package identitytoolkit

import (
	"encoding/json"
	"strings"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
)

func providerError(operation string, status int, code, description string, err error, raw map[string]any) error {
	return &auth.ProviderError{
		Provider:    providerName,
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
		Raw:         raw,
	}
}

// parseError reads the {"error": {"code": 400, "message": "CODE : detail"}}
// envelope. The code is the message up to the first " : ".
func parseError(body []byte) (string, string, map[string]any) {
	if len(body) == 0 {
		return "", "", nil
	}

	var payload struct {
		Error struct {
			Code    int              `json:"code"`
			Message string           `json:"message"`
			Status  string           `json:"status"`
			Errors  []map[string]any `json:"errors"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", strings.TrimSpace(string(body)), nil
	}

	message := payload.Error.Message
	code := message
	if i := strings.Index(code, " : "); i >= 0 {
		code = code[:i]
	}
	code = strings.TrimSpace(code)
	if code == "" {
		code = payload.Error.Status
	}

	raw := map[string]any{
		"code":    payload.Error.Code,
		"message": message,
	}
	if payload.Error.Status != "" {
		raw["status"] = payload.Error.Status
	}
	if len(payload.Error.Errors) > 0 {
		raw["errors"] = payload.Error.Errors
	}

	return code, message, raw
}
