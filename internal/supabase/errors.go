package supabase

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/matheus3301/chatterbox/internal/remote"
)

// errorBody covers both PostgREST and GoTrue error shapes.
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	Message          string          `json:"message"`
	Details          string          `json:"details"`
	Msg              string          `json:"msg"`
	ErrorCode        string          `json:"error_code"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func decodeError(status int, raw []byte) error {
	var body errorBody
	_ = json.Unmarshal(raw, &body)

	// PostgREST codes are strings; GoTrue sometimes sends the HTTP status
	// as a number in the same field.
	var code string
	if len(body.Code) > 0 && body.Code[0] == '"' {
		_ = json.Unmarshal(body.Code, &code)
	}
	msg := firstNonEmpty(body.Message, body.Msg, body.ErrorDescription, body.Error, strings.TrimSpace(string(raw)))

	switch {
	case code != "":
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = remote.CodeUnauthorized
	case body.ErrorCode != "" || body.Error != "":
		code = remote.CodeUnauthorized
	default:
		code = http.StatusText(status)
	}
	if code == "PGRST301" || code == "PGRST302" {
		code = remote.CodeUnauthorized
	}
	return &remote.Error{Code: code, Message: msg, Status: status}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
