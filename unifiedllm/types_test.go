package unifiedllm

import "testing"

func TestMessageConstructors(t *testing.T) {
	tests := []struct {
		msg  Message
		role Role
		text string
	}{
		{SystemMessage("be helpful"), RoleSystem, "be helpful"},
		{UserMessage("list files"), RoleUser, "list files"},
		{AssistantMessage("!git_list_files ."), RoleAssistant, "!git_list_files ."},
	}

	for _, tt := range tests {
		if tt.msg.Role != tt.role {
			t.Errorf("expected role %q, got %q", tt.role, tt.msg.Role)
		}
		if got := tt.msg.TextContent(); got != tt.text {
			t.Errorf("expected text %q, got %q", tt.text, got)
		}
	}
}

func TestMessageTextContent(t *testing.T) {
	msg := Message{
		Role:    RoleAssistant,
		Content: []ContentPart{TextPart("Hello "), TextPart("world")},
	}
	if got := msg.TextContent(); got != "Hello world" {
		t.Errorf("expected %q, got %q", "Hello world", got)
	}
}

func TestUsageAdd(t *testing.T) {
	a := Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}
	b := Usage{InputTokens: 5, OutputTokens: 15, TotalTokens: 20}
	sum := a.Add(b)
	if sum.InputTokens != 15 || sum.OutputTokens != 35 || sum.TotalTokens != 50 {
		t.Errorf("unexpected sum: %+v", sum)
	}
}

func TestResponseText(t *testing.T) {
	resp := Response{
		ID:      "resp_1",
		Message: AssistantMessage("done"),
	}
	if resp.Text() != "done" {
		t.Errorf("expected %q, got %q", "done", resp.Text())
	}
}
