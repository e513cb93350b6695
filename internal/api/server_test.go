package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nugget/hearth/internal/app"
	"github.com/nugget/hearth/internal/config"
	"github.com/nugget/hearth/internal/kvstore/kvtest"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/tools"
	"github.com/nugget/hearth/internal/vault"
)

type echoAdapter struct{}

func (echoAdapter) Kind() llm.Kind { return llm.Ollama }

func (echoAdapter) Chat(_ context.Context, _ llm.Credentials, req llm.Request) (string, error) {
	return "echo: " + req.Messages[len(req.Messages)-1].Content, nil
}

func (echoAdapter) Validate(context.Context, llm.Credentials, string) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *app.AgentContext) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	ac, err := app.Build(cfg, kvtest.New(t), nil,
		app.WithCollaborators(tools.Collaborators{}),
		app.WithGatewayOptions(llm.WithAdapter(echoAdapter{})),
		app.WithVaultOptions(vault.WithIterations(1000)),
	)
	if err != nil {
		t.Fatalf("app.Build: %v", err)
	}
	srv := httptest.NewServer(NewServer("127.0.0.1", 0, ac, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, ac
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestHealthAndVersion(t *testing.T) {
	srv, _ := newTestServer(t)
	if code, body := do(t, srv, "GET", "/health", ""); code != 200 || body["status"] != "healthy" {
		t.Errorf("health = %d %v", code, body)
	}
	if code, body := do(t, srv, "GET", "/v1/version", ""); code != 200 || body["version"] == "" {
		t.Errorf("version = %d %v", code, body)
	}
}

func TestVaultEndpoints(t *testing.T) {
	srv, ac := newTestServer(t)

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"weak passphrase", "POST", "/v1/vault/init", `{"passphrase":"short"}`, http.StatusBadRequest},
		{"unlock before init", "POST", "/v1/vault/unlock", `{"passphrase":"whatever1"}`, http.StatusNotFound},
		{"init", "POST", "/v1/vault/init", `{"passphrase":"correct horse"}`, http.StatusOK},
		{"init twice", "POST", "/v1/vault/init", `{"passphrase":"correct horse"}`, http.StatusConflict},
		{"unencrypted after init", "POST", "/v1/vault/unencrypted", "", http.StatusConflict},
		{"lock", "POST", "/v1/vault/lock", "", http.StatusOK},
		{"wrong passphrase", "POST", "/v1/vault/unlock", `{"passphrase":"wrong horse"}`, http.StatusUnauthorized},
		{"unlock", "POST", "/v1/vault/unlock", `{"passphrase":"correct horse"}`, http.StatusOK},
		{"bad body", "POST", "/v1/vault/unlock", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		code, body := do(t, srv, tt.method, tt.path, tt.body)
		if code != tt.want {
			t.Errorf("%s: status = %d, want %d (%v)", tt.name, code, tt.want, body)
		}
	}
	if !ac.Vault.IsUnlocked() {
		t.Error("vault should end unlocked")
	}
}

func TestCredentialAndStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, "POST", "/v1/vault/init", `{"passphrase":"correct horse"}`)

	if code, body := do(t, srv, "PUT", "/v1/credentials/openai", `{"value":"sk-1"}`); code != 200 {
		t.Fatalf("save = %d %v", code, body)
	}
	if code, _ := do(t, srv, "PUT", "/v1/credentials/nope", `{"value":"x"}`); code != http.StatusBadRequest {
		t.Errorf("unknown credential = %d", code)
	}
	if code, _ := do(t, srv, "GET", "/v1/models/ollama", ""); code != http.StatusNotImplemented {
		t.Errorf("ollama models = %d, want 501", code)
	}
	if code, _ := do(t, srv, "POST", "/v1/credentials/telegram/validate", ""); code != http.StatusPreconditionFailed {
		t.Errorf("telegram validate without token = %d, want 412", code)
	}
	if code, _ := do(t, srv, "GET", "/v1/models/bogus", ""); code != http.StatusBadRequest {
		t.Errorf("bogus models = %d, want 400", code)
	}

	code, body := do(t, srv, "GET", "/v1/status", "")
	if code != 200 {
		t.Fatalf("status = %d", code)
	}
	creds := body["credentials"].(map[string]any)
	if creds["openai"] != "encrypted" {
		t.Errorf("openai = %v", creds["openai"])
	}
	if raw, _ := json.Marshal(body); strings.Contains(string(raw), "sk-1") {
		t.Error("status leaks a credential")
	}
}

func TestSettingsPatch(t *testing.T) {
	srv, _ := newTestServer(t)

	code, body := do(t, srv, "PATCH", "/v1/settings", `{"temperature":1.2,"heartbeat_interval":"10m","bridge_enabled":true}`)
	if code != 200 {
		t.Fatalf("patch = %d %v", code, body)
	}
	if body["temperature"] != 1.2 || body["heartbeat_interval"] != "10m0s" || body["bridge_enabled"] != true {
		t.Errorf("settings = %v", body)
	}

	for _, bad := range []string{
		`{"temperature":3}`,
		`{"provider":"mystery"}`,
		`{"poll_interval":"soon"}`,
	} {
		if code, _ := do(t, srv, "PATCH", "/v1/settings", bad); code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", bad, code)
		}
	}

	_, body = do(t, srv, "GET", "/v1/settings", "")
	if body["temperature"] != 1.2 {
		t.Errorf("rejected patch changed settings: %v", body)
	}
}

func TestThreadsAndChat(t *testing.T) {
	srv, ac := newTestServer(t)

	code, created := do(t, srv, "POST", "/v1/threads", "")
	if code != http.StatusCreated {
		t.Fatalf("create = %d", code)
	}
	id := created["id"].(string)
	if created["label"] != "Chat 2" {
		t.Errorf("label = %v", created["label"])
	}

	code, body := do(t, srv, "POST", "/v1/chat", `{"message":"hello"}`)
	if code != 200 {
		t.Fatalf("chat = %d %v", code, body)
	}
	if body["thread_id"] != id {
		t.Errorf("chat went to %v, want active thread %s", body["thread_id"], id)
	}
	reply := body["reply"].(map[string]any)
	if reply["content"] != "echo: hello" {
		t.Errorf("reply = %v", reply)
	}

	if code, _ := do(t, srv, "POST", "/v1/chat", `{"message":""}`); code != http.StatusBadRequest {
		t.Errorf("empty chat = %d", code)
	}

	def := ac.Threads.Default().ID
	if code, _ := do(t, srv, "POST", "/v1/threads/"+def+"/activate", ""); code != 200 {
		t.Errorf("activate = %d", code)
	}
	if code, _ := do(t, srv, "GET", "/v1/threads/missing", ""); code != http.StatusNotFound {
		t.Errorf("missing thread = %d", code)
	}

	_, list := do(t, srv, "GET", "/v1/threads", "")
	if list["count"] != 2.0 || list["active"] != def {
		t.Errorf("list = %v", list)
	}

	_, th := do(t, srv, "GET", "/v1/threads/"+id, "")
	if msgs := th["messages"].([]any); len(msgs) != 2 {
		t.Errorf("messages = %d, want 2", len(msgs))
	}

	_, audit := do(t, srv, "GET", "/v1/audit?limit=1", "")
	if audit["count"] != 1.0 {
		t.Errorf("audit count = %v", audit["count"])
	}
}

func TestDocuments(t *testing.T) {
	srv, _ := newTestServer(t)

	code, body := do(t, srv, "PUT", "/v1/documents/persona", `{"text":"You are Ember."}`)
	if code != 200 || body["text"] != "You are Ember." {
		t.Fatalf("put = %d %v", code, body)
	}
	if _, body := do(t, srv, "GET", "/v1/documents/persona", ""); body["text"] != "You are Ember." {
		t.Errorf("get = %v", body)
	}
	if code, _ := do(t, srv, "GET", "/v1/documents/nope", ""); code != http.StatusBadRequest {
		t.Errorf("unknown get = %d", code)
	}
	if code, _ := do(t, srv, "PUT", "/v1/documents/nope", `{"text":"x"}`); code != http.StatusBadRequest {
		t.Errorf("unknown put = %d", code)
	}
}
