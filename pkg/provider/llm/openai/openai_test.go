package openai

import (
	"testing"

	"github.com/MrWong99/jarvis/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role  string
		check func(t *testing.T, isSystem, isUser, isAssistant bool)
	}{
		{llm.RoleSystem, func(t *testing.T, s, _, _ bool) {
			if !s {
				t.Error("expected OfSystem to be set")
			}
		}},
		{llm.RoleUser, func(t *testing.T, _, u, _ bool) {
			if !u {
				t.Error("expected OfUser to be set")
			}
		}},
		{llm.RoleAssistant, func(t *testing.T, _, _, a bool) {
			if !a {
				t.Error("expected OfAssistant to be set")
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.role, func(t *testing.T) {
			t.Parallel()
			got, err := convertMessage(llm.Message{Role: tc.role, Content: "hello"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tc.check(t, got.OfSystem != nil, got.OfUser != nil, got.OfAssistant != nil)
		})
	}
}

func TestConvertMessage_UnknownRole(t *testing.T) {
	t.Parallel()

	if _, err := convertMessage(llm.Message{Role: "tool", Content: "x"}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are Jarvis.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "what time is it"},
			{Role: llm.RoleAssistant, Content: "noon"},
			{Role: llm.RoleUser, Content: "thanks"},
		},
		MaxTokens: 100,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 4 {
		t.Errorf("messages = %d, want 4", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("first message should be the system prompt")
	}
}

func TestBuildParams_NoMessages(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o"}
	if _, err := p.buildParams(llm.CompletionRequest{SystemPrompt: "x"}); err == nil {
		t.Fatal("expected error for empty messages")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
	p, err := New("sk-test", "gpt-4o", WithBaseURL("http://localhost:1234/v1"), WithTimeout(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "gpt-4o" {
		t.Errorf("model = %q", p.model)
	}
}
