package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	ErrEmptyReply        = errors.New("provider returned an empty reply")
	ErrMissingCredential = errors.New("no credential available for provider")
	ErrTimeout           = errors.New("provider call timed out")
	ErrNotSupported      = errors.New("operation not supported by provider")
	ErrUnknownKind       = errors.New("unknown provider")
)

// HTTPError is a non-2xx response from a provider.
type HTTPError struct {
	Provider Kind
	Status   int
	// Code is the provider's own error code, when it sends one.
	Code    string
	Message string
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no error detail"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s API error %d (code %s): %s", e.Provider, e.Status, e.Code, msg)
	}
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.Status, msg)
}

// Capacity markers in error text from providers that report overload
// without a distinct status.
var capacityMarkers = []string{"rate limit", "rate_limit", "overloaded", "capacity", "too many requests", "busy"}

// z.ai business codes for throttling and model overload.
var zaiCapacityCodes = map[string]bool{"1302": true, "1303": true, "1305": true}

// IsCapacityError reports whether err says the backend is out of
// capacity or rate limiting the caller.
func IsCapacityError(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	if he.Status == 429 || he.Status == 503 || he.Status == 529 {
		return true
	}
	if zaiCapacityCodes[he.Code] || he.Code == "rate_limit_exceeded" {
		return true
	}
	lower := strings.ToLower(he.Message)
	for _, m := range capacityMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ErrorCode condenses err into the short code shown next to a provider
// in the UI.
func ErrorCode(err error) string {
	var he *HTTPError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &he):
		if he.Code != "" {
			return fmt.Sprintf("%s_%s", he.Provider, he.Code)
		}
		return "http_" + strconv.Itoa(he.Status)
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrEmptyReply):
		return "empty_reply"
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	default:
		return "error"
	}
}

// isTimeout reports whether err is a deadline or client timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// apiErrorBody covers the error envelopes of every supported backend:
//
//	{"error": {"message": "...", "code": "..."}}       OpenAI, xAI, z.ai
//	{"error": {"type": "...", "message": "..."}}       Anthropic
//	{"error": "..."}                                   Ollama
type apiErrorBody struct {
	Error json.RawMessage `json:"error"`
}

type apiErrorDetail struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Code    json.RawMessage `json:"code"`
}

// parseHTTPError builds an HTTPError from a raw error body.
func parseHTTPError(kind Kind, status int, body string) *HTTPError {
	he := &HTTPError{Provider: kind, Status: status, Message: strings.TrimSpace(body)}

	var env apiErrorBody
	if err := json.Unmarshal([]byte(body), &env); err != nil || len(env.Error) == 0 {
		return he
	}
	var s string
	if json.Unmarshal(env.Error, &s) == nil {
		he.Message = s
		return he
	}
	var d apiErrorDetail
	if json.Unmarshal(env.Error, &d) != nil {
		return he
	}
	if d.Message != "" {
		he.Message = d.Message
	}
	he.Code = rawCode(d.Code)
	if he.Code == "" && kind == Anthropic {
		he.Code = d.Type
	}
	return he
}

// rawCode accepts a code sent as either a JSON string or number.
func rawCode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}
