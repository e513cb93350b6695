package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nugget/hearth/internal/httpkit"
)

const (
	maxErrorBody    = 4096
	maxResponseBody = 8 << 20
)

// doJSON sends req and decodes a 2xx JSON body into out. Non-2xx
// responses become *HTTPError.
func doJSON(client *http.Client, logger *slog.Logger, kind Kind, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%s: %w", kind, ErrTimeout)
		}
		return fmt.Errorf("%s request failed: %w", kind, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := httpkit.ReadErrorBody(resp.Body, maxErrorBody)
		he := parseHTTPError(kind, resp.StatusCode, body)
		logger.Warn("provider API error", "status", resp.StatusCode, "code", he.Code)
		return he
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%s: %w", kind, ErrTimeout)
		}
		return fmt.Errorf("%s read response: %w", kind, err)
	}
	logger.Log(req.Context(), levelTrace, "response payload", "json", string(data))
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s decode response: %w", kind, err)
	}
	return nil
}

func baseURL(creds Credentials, fallback string) string {
	if creds.BaseURL != "" {
		return trimSlash(creds.BaseURL)
	}
	return fallback
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
