package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nugget/hearth/internal/httpkit"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

var testReq = Request{
	Model:       "test-model",
	Temperature: 0.5,
	System:      "be brief",
	Messages: []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "list files"},
	},
}

func TestOpenAIChat(t *testing.T) {
	var got ccRequest
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"model":"test-model","choices":[{"message":{"role":"assistant","content":" done "}}]}`))
	})

	a := NewOpenAI(httpkit.NewClient(), nil)
	text, err := a.Chat(context.Background(), Credentials{APIKey: "sk-test", BaseURL: srv.URL + "/"}, testReq)
	if err != nil {
		t.Fatal(err)
	}
	if text != "done" {
		t.Errorf("text = %q", text)
	}
	if len(got.Messages) != 4 || got.Messages[0].Role != "system" || got.Messages[0].Content != "be brief" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if got.Temperature == nil || *got.Temperature != 0.5 {
		t.Errorf("temperature = %v", got.Temperature)
	}
}

func TestOpenAIChat_EmptyReply(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"   "}}]}`))
	})
	a := NewXAI(httpkit.NewClient(), nil)
	_, err := a.Chat(context.Background(), Credentials{APIKey: "k", BaseURL: srv.URL}, testReq)
	if !errors.Is(err, ErrEmptyReply) {
		t.Errorf("err = %v, want ErrEmptyReply", err)
	}
}

func TestOpenAIChat_HTTPError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	})
	a := NewOpenAI(httpkit.NewClient(), nil)
	_, err := a.Chat(context.Background(), Credentials{APIKey: "bad", BaseURL: srv.URL}, testReq)

	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("err = %v, want *HTTPError", err)
	}
	if he.Status != 401 || he.Code != "invalid_api_key" || he.Message != "Incorrect API key" || he.Provider != OpenAI {
		t.Errorf("HTTPError = %+v", he)
	}
	if IsCapacityError(err) {
		t.Error("401 classified as capacity error")
	}
}

func TestOpenAIValidateAndList(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/models" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"data":[{"id":"gpt-4o"},{"id":"gpt-4o-mini"}]}`))
	})
	a := NewOpenAI(httpkit.NewClient(), nil)
	creds := Credentials{APIKey: "sk", BaseURL: srv.URL}

	ids, err := a.ListModels(context.Background(), creds)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "gpt-4o" {
		t.Errorf("ids = %v", ids)
	}
	if err := a.Validate(context.Background(), creds, "gpt-4o-mini"); err != nil {
		t.Errorf("Validate(known) = %v", err)
	}
	if err := a.Validate(context.Background(), creds, "gpt-9"); err == nil {
		t.Error("Validate(unknown model) should fail")
	}
}

func TestZAIValidate_NumericCode(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body ccRequest
		json.NewDecoder(r.Body).Decode(&body)
		if body.MaxTokens != 1 {
			t.Errorf("max_tokens = %d", body.MaxTokens)
		}
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":1302,"message":"concurrency too high"}}`))
	})
	a := NewZAI(httpkit.NewClient(), nil)
	err := a.Validate(context.Background(), Credentials{APIKey: "k", BaseURL: srv.URL}, "glm-5")

	var he *HTTPError
	if !errors.As(err, &he) || he.Code != "1302" {
		t.Fatalf("err = %v", err)
	}
	if ErrorCode(err) != "zai_1302" {
		t.Errorf("ErrorCode = %q", ErrorCode(err))
	}
	if _, ok := any(a).(ModelLister); ok {
		t.Error("z.ai adapter should not list models")
	}
}

func TestAnthropicChat(t *testing.T) {
	var got anthropicRequest
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "ak" || r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("headers = %v", r.Header)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"content":[{"type":"text","text":"part one "},{"type":"tool_use"},{"type":"text","text":"part two"}]}`))
	})
	a := NewAnthropic(httpkit.NewClient(), nil)
	req := testReq
	req.Messages = append([]Message{{Role: RoleAssistant, Content: "orphan"}}, req.Messages...)
	req.Messages = append(req.Messages, Message{Role: RoleUser, Content: "again"})

	text, err := a.Chat(context.Background(), Credentials{APIKey: "ak", BaseURL: srv.URL}, req)
	if err != nil {
		t.Fatal(err)
	}
	if text != "part one part two" {
		t.Errorf("text = %q", text)
	}
	if got.System != "be brief" || got.MaxTokens != anthropicMaxTokens {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 3 || got.Messages[0].Role != RoleUser || got.Messages[2].Content != "list files\n\nagain" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestAnthropicOverloaded(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	})
	a := NewAnthropic(httpkit.NewClient(), nil)
	_, err := a.Chat(context.Background(), Credentials{APIKey: "ak", BaseURL: srv.URL}, testReq)
	if !IsCapacityError(err) {
		t.Errorf("err = %v, want capacity error", err)
	}
	if ErrorCode(err) != "anthropic_overloaded_error" {
		t.Errorf("ErrorCode = %q", ErrorCode(err))
	}
}

func TestOllamaChatAndValidate(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			var body ollamaChatRequest
			json.NewDecoder(r.Body).Decode(&body)
			if body.Stream {
				t.Error("stream should be false")
			}
			if body.Messages[0].Role != "system" {
				t.Errorf("first message = %+v", body.Messages[0])
			}
			w.Write([]byte(`{"message":{"role":"assistant","content":"local reply"},"done":true}`))
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"llama3.2:latest"}]}`))
		default:
			http.NotFound(w, r)
		}
	})
	o := NewOllama(httpkit.NewClient(), nil)
	creds := Credentials{BaseURL: srv.URL}

	text, err := o.Chat(context.Background(), creds, testReq)
	if err != nil || text != "local reply" {
		t.Fatalf("Chat = %q, %v", text, err)
	}
	if err := o.Validate(context.Background(), creds, "llama3.2"); err != nil {
		t.Errorf("Validate = %v", err)
	}
	if err := o.Validate(context.Background(), creds, "mistral"); err == nil {
		t.Error("Validate(unpulled) should fail")
	}
	if _, ok := any(o).(ModelLister); ok {
		t.Error("ollama adapter should not list models")
	}
}

func TestParseHTTPError_Shapes(t *testing.T) {
	tests := []struct {
		name     string
		kind     Kind
		body     string
		wantCode string
		wantMsg  string
	}{
		{"plain text", OpenAI, "bad gateway", "", "bad gateway"},
		{"string error", Ollama, `{"error":"model not found"}`, "", "model not found"},
		{"string code", ZAI, `{"error":{"code":"1305","message":"busy"}}`, "1305", "busy"},
		{"null code", OpenAI, `{"error":{"code":null,"message":"x"}}`, "", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := parseHTTPError(tt.kind, 500, tt.body)
			if he.Code != tt.wantCode || he.Message != tt.wantMsg {
				t.Errorf("got code=%q msg=%q", he.Code, he.Message)
			}
		})
	}
}
