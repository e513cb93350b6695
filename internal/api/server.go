// Package api implements the local HTTP control API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/hearth/internal/app"
	"github.com/nugget/hearth/internal/buildinfo"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/settings"
	"github.com/nugget/hearth/internal/telegram"
	"github.com/nugget/hearth/internal/threads"
	"github.com/nugget/hearth/internal/vault"
)

// maxBodyBytes bounds request bodies. Chat messages are the largest
// legitimate payload.
const maxBodyBytes = 1 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	agent   *app.AgentContext
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, ac *app.AgentContext, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		agent:   ac,
		logger:  logger.With("component", "api"),
	}
}

// Handler returns the routed handler without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/status", s.handleStatus)

	// Vault
	mux.HandleFunc("POST /v1/vault/init", s.handleVaultInit)
	mux.HandleFunc("POST /v1/vault/unlock", s.handleVaultUnlock)
	mux.HandleFunc("POST /v1/vault/lock", s.handleVaultLock)
	mux.HandleFunc("POST /v1/vault/unencrypted", s.handleVaultUnencrypted)

	// Credentials
	mux.HandleFunc("PUT /v1/credentials/{provider}", s.handleCredentialSave)
	mux.HandleFunc("POST /v1/credentials/{provider}/validate", s.handleCredentialValidate)
	mux.HandleFunc("GET /v1/models/{provider}", s.handleModels)

	mux.HandleFunc("GET /v1/settings", s.handleSettingsGet)
	mux.HandleFunc("PATCH /v1/settings", s.handleSettingsPatch)

	// Threads
	mux.HandleFunc("GET /v1/threads", s.handleThreadList)
	mux.HandleFunc("POST /v1/threads", s.handleThreadCreate)
	mux.HandleFunc("GET /v1/threads/{id}", s.handleThreadGet)
	mux.HandleFunc("POST /v1/threads/{id}/activate", s.handleThreadActivate)

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/audit", s.handleAudit)

	mux.HandleFunc("GET /v1/documents/{name}", s.handleDocumentGet)
	mux.HandleFunc("PUT /v1/documents/{name}", s.handleDocumentPut)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Chat turns may run several model calls back to back.
		WriteTimeout: 10 * time.Minute,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("starting API server", "address", s.address, "port", s.port)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

// fail maps a domain error onto an HTTP status.
func (s *Server) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, vault.ErrWeakPassphrase),
		errors.Is(err, settings.ErrUnknownProvider),
		errors.Is(err, llm.ErrUnknownKind),
		errors.Is(err, threads.ErrUnknownDocument):
		code = http.StatusBadRequest
	case errors.Is(err, vault.ErrWrongPassphrase):
		code = http.StatusUnauthorized
	case errors.Is(err, vault.ErrVaultLocked):
		code = http.StatusLocked
	case errors.Is(err, vault.ErrNotInitialized), errors.Is(err, threads.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, vault.ErrAlreadyInitialized), errors.Is(err, app.ErrVaultInitialized):
		code = http.StatusConflict
	case errors.Is(err, llm.ErrNotSupported):
		code = http.StatusNotImplemented
	case errors.Is(err, llm.ErrMissingCredential), errors.Is(err, telegram.ErrNoToken):
		code = http.StatusPreconditionFailed
	}
	var he *llm.HTTPError
	if errors.As(err, &he) || errors.Is(err, llm.ErrTimeout) {
		code = http.StatusBadGateway
	}
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.errorResponse(w, code, err.Error())
}

// decode reads a JSON body into v, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) ok(w http.ResponseWriter) {
	writeJSON(w, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.agent.Status()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, st, s.logger)
}

// Vault handlers

type passphraseRequest struct {
	Passphrase string `json:"passphrase"`
}

func (s *Server) handleVaultInit(w http.ResponseWriter, r *http.Request) {
	var req passphraseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.agent.InitVault(req.Passphrase); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) handleVaultUnlock(w http.ResponseWriter, r *http.Request) {
	var req passphraseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.agent.UnlockVault(req.Passphrase); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) handleVaultLock(w http.ResponseWriter, r *http.Request) {
	s.agent.LockVault()
	s.ok(w)
}

func (s *Server) handleVaultUnencrypted(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.EnableUnencryptedMode(); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w)
}

// Credential handlers

type credentialRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleCredentialSave(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.agent.SaveCredential(r.PathValue("provider"), req.Value); err != nil {
		if errors.Is(err, vault.ErrVaultLocked) {
			s.fail(w, err)
			return
		}
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	s.ok(w)
}

func (s *Server) handleCredentialValidate(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.ValidateCredential(r.Context(), r.PathValue("provider")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{"valid": true}, s.logger)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ids, err := s.agent.ListModels(r.Context(), r.PathValue("provider"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{"count": len(ids), "models": ids}, s.logger)
}

// Settings handlers

// settingsPatchRequest carries durations as Go duration strings.
type settingsPatchRequest struct {
	Provider           *string  `json:"provider"`
	Model              *string  `json:"model"`
	Temperature        *float64 `json:"temperature"`
	HeartbeatInterval  *string  `json:"heartbeat_interval"`
	MaxContextMessages *int     `json:"max_context_messages"`
	PollInterval       *string  `json:"poll_interval"`
	BridgeEnabled      *bool    `json:"bridge_enabled"`
}

func (p settingsPatchRequest) toPatch() (app.SettingsPatch, error) {
	out := app.SettingsPatch{
		Provider:           p.Provider,
		Model:              p.Model,
		Temperature:        p.Temperature,
		MaxContextMessages: p.MaxContextMessages,
		BridgeEnabled:      p.BridgeEnabled,
	}
	var err error
	if out.HeartbeatInterval, err = parseDuration("heartbeat_interval", p.HeartbeatInterval); err != nil {
		return out, err
	}
	if out.PollInterval, err = parseDuration("poll_interval", p.PollInterval); err != nil {
		return out, err
	}
	return out, nil
}

func parseDuration(field string, s *string) (*time.Duration, error) {
	if s == nil {
		return nil, nil
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return &d, nil
}

// settingsView renders durations the way they are written in requests.
type settingsView struct {
	ActiveProvider     string            `json:"active_provider"`
	Models             map[string]string `json:"models"`
	Temperature        float64           `json:"temperature"`
	HeartbeatInterval  string            `json:"heartbeat_interval"`
	MaxContextMessages int               `json:"max_context_messages"`
	PollInterval       string            `json:"poll_interval"`
	BridgeEnabled      bool              `json:"bridge_enabled"`
	LastErrors         map[string]string `json:"last_errors,omitempty"`
}

func viewSettings(c settings.RuntimeConfig) settingsView {
	return settingsView{
		ActiveProvider:     c.ActiveProvider,
		Models:             c.Models,
		Temperature:        c.Temperature,
		HeartbeatInterval:  c.HeartbeatInterval.String(),
		MaxContextMessages: c.MaxContextMessages,
		PollInterval:       c.PollInterval.String(),
		BridgeEnabled:      c.BridgeEnabled,
		LastErrors:         c.LastErrors,
	}
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, viewSettings(s.agent.Settings.Get()), s.logger)
}

func (s *Server) handleSettingsPatch(w http.ResponseWriter, r *http.Request) {
	var req settingsPatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := s.agent.UpdateSettings(patch)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, viewSettings(cfg), s.logger)
}

// Thread handlers

func (s *Server) handleThreadList(w http.ResponseWriter, r *http.Request) {
	list := s.agent.Threads.List()
	writeJSON(w, map[string]any{
		"count":   len(list),
		"active":  s.agent.Threads.Active().ID,
		"threads": list,
	}, s.logger)
}

func (s *Server) handleThreadCreate(w http.ResponseWriter, r *http.Request) {
	t, err := s.agent.CreateThread()
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, t, s.logger)
}

func (s *Server) handleThreadGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.agent.Threads.Get(r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, t, s.logger)
}

func (s *Server) handleThreadActivate(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.Threads.SetActive(r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w)
}

// SimpleChatRequest is the body of POST /v1/chat.
type SimpleChatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req SimpleChatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	res, err := s.agent.Chat(r.Context(), req.ThreadID, req.Message)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, res, s.logger)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	events := s.agent.Audit.List(parseIntParam(r, "limit", 50))
	writeJSON(w, map[string]any{
		"count":  len(events),
		"events": events,
	}, s.logger)
}

// Document handlers

type documentBody struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

func (s *Server) handleDocumentGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.agent.Documents()[name]; !ok {
		s.fail(w, fmt.Errorf("%w: %q", threads.ErrUnknownDocument, name))
		return
	}
	writeJSON(w, documentBody{Name: name, Text: s.agent.Document(name)}, s.logger)
}

func (s *Server) handleDocumentPut(w http.ResponseWriter, r *http.Request) {
	var req documentBody
	if !s.decode(w, r, &req) {
		return
	}
	name := r.PathValue("name")
	if err := s.agent.SetDocument(name, req.Text); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, documentBody{Name: name, Text: s.agent.Document(name)}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
