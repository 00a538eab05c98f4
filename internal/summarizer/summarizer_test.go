package summarizer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/talentscout/internal/llm"
	"github.com/nugget/talentscout/internal/mcp"
)

// Compile-time check that Condenser plugs into the tool bridge.
var _ mcp.Condenser = (*Condenser)(nil)

// mockLLMClient returns a canned reply and records the last request.
type mockLLMClient struct {
	reply string
	err   error
	delay time.Duration

	calls    atomic.Int64
	model    string
	messages []llm.Message
}

func (m *mockLLMClient) Chat(ctx context.Context, model string, msgs []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	m.calls.Add(1)
	m.model = model
	m.messages = msgs
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: m.reply}}, nil
}

func (m *mockLLMClient) Ping(_ context.Context) error { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCondense_ShortTextPassesThrough(t *testing.T) {
	client := &mockLLMClient{reply: "should not be used"}
	c := New(client, Config{MinChars: 100}, quietLogger())

	got, err := c.Condense(t.Context(), "Acme laid off 12 engineers.")
	if err != nil {
		t.Fatalf("Condense: %v", err)
	}
	if got != "Acme laid off 12 engineers." {
		t.Errorf("got %q", got)
	}
	if client.calls.Load() != 0 {
		t.Errorf("model called %d times for short text", client.calls.Load())
	}
}

func TestCondense_LongText(t *testing.T) {
	client := &mockLLMClient{reply: "  Acme: Jane Doe, John Roe (ML).  \n"}
	c := New(client, Config{Model: "claude-haiku", MinChars: 10, MaxWords: 50}, quietLogger())

	long := strings.Repeat("employee record; ", 20)
	got, err := c.Condense(t.Context(), long)
	if err != nil {
		t.Fatalf("Condense: %v", err)
	}
	if got != "Acme: Jane Doe, John Roe (ML)." {
		t.Errorf("got %q", got)
	}
	if client.model != "claude-haiku" {
		t.Errorf("model = %q", client.model)
	}
	if len(client.messages) != 2 || client.messages[0].Role != llm.RoleSystem {
		t.Fatalf("messages = %+v", client.messages)
	}
	if !strings.Contains(client.messages[0].Content, "company names or employee names") {
		t.Errorf("system prompt = %q", client.messages[0].Content)
	}
	user := client.messages[1].Content
	if !strings.HasPrefix(user, "Summarize this text to less than 50 words:\n\n") || !strings.HasSuffix(user, long) {
		t.Errorf("user prompt = %q", user)
	}
}

func TestCondense_Failures(t *testing.T) {
	tests := []struct {
		name   string
		client *mockLLMClient
	}{
		{name: "model error", client: &mockLLMClient{err: errors.New("llm unavailable")}},
		{name: "empty reply", client: &mockLLMClient{reply: "   "}},
		{name: "timeout", client: &mockLLMClient{reply: "late", delay: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.client, Config{MinChars: 1, Timeout: 20 * time.Millisecond}, quietLogger())
			if _, err := c.Condense(t.Context(), "some tool output"); err == nil {
				t.Error("Condense should fail")
			}
		})
	}
}

func TestBuildPrompt_Truncation(t *testing.T) {
	text := strings.Repeat("é", 10) // 20 bytes
	got := buildPrompt(text, 100, 5)

	body := strings.TrimPrefix(got, "Summarize this text to less than 100 words:\n\n")
	if body != "éé\n[truncated]" {
		t.Errorf("body = %q", body)
	}
}

func TestDefaultConfig(t *testing.T) {
	c := New(&mockLLMClient{}, Config{}, nil)
	if c.config.MinChars != 800 || c.config.MaxWords != 100 || c.config.Timeout != 30*time.Second {
		t.Errorf("config = %+v", c.config)
	}
}
