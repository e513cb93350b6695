// Package relay is the client for the user-run shell relay, a small
// local HTTP service that executes commands on the agent's behalf.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/hearth/internal/httpkit"
	"github.com/nugget/hearth/internal/tools"
)

// Client implements [tools.ShellRelay].
type Client struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New returns a relay client for baseURL. token is sent as a bearer
// token when non-empty.
func New(httpClient *http.Client, baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:        strings.TrimRight(baseURL, "/") + "/exec",
		token:      token,
		httpClient: httpClient,
		logger:     logger.With("component", "relay"),
	}
}

// Exec posts the command and waits for the relay's verdict. The HTTP
// call is allowed a little longer than the command itself so the relay
// can report a timeout rather than the connection being cut.
func (c *Client) Exec(ctx context.Context, req tools.ExecRequest) (tools.ExecResult, error) {
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond+5*time.Second)
		defer cancel()
	}

	httpReq, err := httpkit.NewJSONRequest(ctx, http.MethodPost, c.url, req)
	if err != nil {
		return tools.ExecResult{}, err
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Info("relay exec", "command", truncate(req.Command, 120), "timeout_ms", req.TimeoutMs)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return tools.ExecResult{}, fmt.Errorf("relay unreachable: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return tools.ExecResult{}, fmt.Errorf("relay %d: %s", resp.StatusCode, strings.TrimSpace(body))
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	var out tools.ExecResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return tools.ExecResult{}, fmt.Errorf("decode relay response: %w", err)
	}
	c.logger.Debug("relay result", "exit", out.ExitCode, "timed_out", out.TimedOut, "truncated", out.Truncated)
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
