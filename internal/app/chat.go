package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/hearth/internal/agent"
	"github.com/nugget/hearth/internal/audit"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/prompts"
	"github.com/nugget/hearth/internal/scheduler"
	"github.com/nugget/hearth/internal/threads"
)

// ChatResult is the outcome of one user turn.
type ChatResult struct {
	ThreadID   string          `json:"thread_id"`
	Reply      threads.Message `json:"reply"`
	Provider   string          `json:"provider"`
	Model      string          `json:"model"`
	ToolCalls  int             `json:"tool_calls"`
	ModelCalls int             `json:"model_calls"`
}

// Chat sends text to a thread and returns the agent's reply. An empty
// threadID means the active thread. The user message is stored first;
// the reply is stored only once the turn has fully succeeded.
func (ac *AgentContext) Chat(ctx context.Context, threadID, text string) (ChatResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatResult{}, errors.New("message is empty")
	}
	if threadID == "" {
		threadID = ac.Threads.Active().ID
	}
	if _, err := ac.Threads.AppendMessage(threadID, threads.RoleUser, text); err != nil {
		return ChatResult{}, err
	}
	t, err := ac.Threads.Get(threadID)
	if err != nil {
		return ChatResult{}, err
	}

	res, model, err := ac.run(ctx, t.Messages, true)
	if err != nil {
		return ChatResult{ThreadID: threadID}, err
	}
	reply, err := ac.Threads.AppendMessage(threadID, threads.RoleAssistant, res.Text)
	if err != nil {
		return ChatResult{ThreadID: threadID}, err
	}
	ac.Audit.Record(audit.TypeChat, fmt.Sprintf("%s replied in %s", model.provider, t.Label))
	return ChatResult{
		ThreadID:   threadID,
		Reply:      reply,
		Provider:   model.provider,
		Model:      model.lastModel,
		ToolCalls:  res.ToolCalls,
		ModelCalls: res.ModelCalls,
	}, nil
}

// Ready reports whether the active provider can be called right now.
// It implements [scheduler.Runner].
func (ac *AgentContext) Ready() error {
	provider := ac.Settings.Get().ActiveProvider
	kind, err := llm.ParseKind(provider)
	if err != nil {
		return err
	}
	if !kind.NeedsAPIKey() {
		return nil
	}
	creds, err := ac.credentials(kind)
	if err != nil {
		return err
	}
	if creds.APIKey != "" {
		return nil
	}
	if initialized, _ := ac.Vault.Initialized(); initialized && !ac.Vault.IsUnlocked() {
		return fmt.Errorf("%w: vault locked", scheduler.ErrUnavailable)
	}
	return fmt.Errorf("%w: no %s credential", scheduler.ErrUnavailable, provider)
}

// Heartbeat runs the heartbeat document through the agent against the
// default thread and stores the reply there. It implements
// [scheduler.Runner].
func (ac *AgentContext) Heartbeat(ctx context.Context, now time.Time) (string, error) {
	def := ac.Threads.Default()
	msgs := append(toLLM(def.Messages), llm.Message{
		Role:    llm.RoleUser,
		Content: prompts.Heartbeat(ac.Document(threads.DocHeartbeat), now),
	})
	res, _, err := ac.runLLM(ctx, msgs, false)
	if err != nil {
		return "", err
	}
	if _, err := ac.Threads.AppendMessage(def.ID, threads.RoleAssistant, res.Text); err != nil {
		return "", err
	}
	return res.Text, nil
}

// Respond handles one inbound remote message. It implements
// [scheduler.Runner].
func (ac *AgentContext) Respond(ctx context.Context, in scheduler.Inbound) (string, error) {
	t, err := ac.Threads.CreateThread(threads.SourceRemote, strconv.FormatInt(in.ChatID, 10), in.DisplayName)
	if err != nil {
		return "", err
	}
	if in.UpdateID != 0 && t.LastUpdateID == in.UpdateID {
		// Answered already; only the send failed last time.
		ac.logger.Debug("resending reply for redelivered update", "thread", t.ID, "update", in.UpdateID)
		return t.LastReply, nil
	}
	res, err := ac.Chat(ctx, t.ID, in.Text)
	if err != nil {
		return "", err
	}
	if err := ac.Threads.MarkHandled(t.ID, in.UpdateID, res.Reply.Content); err != nil {
		ac.logger.Warn("could not record handled update", "thread", t.ID, "update", in.UpdateID, "error", err)
	}
	return res.Reply.Content, nil
}

func (ac *AgentContext) run(ctx context.Context, msgs []threads.Message, proactive bool) (agent.Result, *boundModel, error) {
	return ac.runLLM(ctx, toLLM(msgs), proactive)
}

func (ac *AgentContext) runLLM(ctx context.Context, msgs []llm.Message, proactive bool) (agent.Result, *boundModel, error) {
	m, err := ac.bindModel()
	if err != nil {
		return agent.Result{}, nil, err
	}
	system := prompts.System(
		ac.Document(threads.DocPersona),
		ac.Document(threads.DocToolPolicy),
		ac.Tools.Describe(),
	)
	res, err := ac.Loop.Run(ctx, m, agent.Request{System: system, Messages: msgs, Proactive: proactive})
	return res, m, err
}

func toLLM(msgs []threads.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// boundModel is the active provider and model for one turn. It records
// errors against the provider and persists fallback models.
type boundModel struct {
	ac        *AgentContext
	kind      llm.Kind
	provider  string
	creds     llm.Credentials
	lastModel string
}

func (ac *AgentContext) bindModel() (*boundModel, error) {
	cfg := ac.Settings.Get()
	kind, err := llm.ParseKind(cfg.ActiveProvider)
	if err != nil {
		return nil, err
	}
	creds, err := ac.credentials(kind)
	if err != nil {
		return nil, err
	}
	return &boundModel{ac: ac, kind: kind, provider: cfg.ActiveProvider, creds: creds, lastModel: cfg.Model()}, nil
}

// Complete implements [agent.Model]. Model and temperature are re-read
// per call so a fallback persisted mid-turn is used by later calls.
func (m *boundModel) Complete(ctx context.Context, system string, msgs []llm.Message) (string, error) {
	cfg := m.ac.Settings.Get()
	model := cfg.Models[m.provider]
	reply, err := m.ac.Gateway.Chat(ctx, m.kind, m.creds, llm.Request{
		Model:       model,
		Temperature: cfg.Temperature,
		System:      system,
		Messages:    msgs,
	})
	if err != nil {
		code := llm.ErrorCode(err)
		m.ac.Settings.RecordError(m.provider, code)
		m.ac.Audit.Record(audit.TypeProviderError, fmt.Sprintf("%s %s: %s", m.provider, model, code))
		return "", err
	}
	m.ac.Settings.RecordError(m.provider, "")
	m.lastModel = reply.Model
	if reply.PersistModel {
		if err := m.ac.Settings.SetModel(m.provider, reply.Model); err != nil {
			m.ac.logger.Warn("could not persist fallback model", "provider", m.provider, "model", reply.Model, "error", err)
		}
		m.ac.Audit.Record(audit.TypeProviderFallback, fmt.Sprintf("%s switched from %s to %s", m.provider, model, reply.Model))
	}
	return reply.Text, nil
}

var _ scheduler.Runner = (*AgentContext)(nil)
