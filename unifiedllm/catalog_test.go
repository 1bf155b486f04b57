package unifiedllm

import "testing"

func TestGetModelInfo(t *testing.T) {
	info := GetModelInfo("gpt-3.5-turbo")
	if info == nil {
		t.Fatal("expected to find gpt-3.5-turbo")
	}
	if info.Provider != "openai" {
		t.Errorf("expected provider %q, got %q", "openai", info.Provider)
	}
	if info.ContextWindow != 16385 {
		t.Errorf("expected context window 16385, got %d", info.ContextWindow)
	}

	info = GetModelInfo("sonnet")
	if info == nil {
		t.Fatal("expected to find model by alias 'sonnet'")
	}
	if info.ID != "claude-sonnet-4-5" {
		t.Errorf("expected id %q, got %q", "claude-sonnet-4-5", info.ID)
	}

	if info := GetModelInfo("nonexistent-model"); info != nil {
		t.Errorf("expected nil for unknown model, got %v", info)
	}
}

func TestListModels(t *testing.T) {
	if all := ListModels(""); len(all) != len(Models) {
		t.Errorf("expected %d models, got %d", len(Models), len(all))
	}

	openai := ListModels("openai")
	if len(openai) != 3 {
		t.Errorf("expected 3 OpenAI models, got %d", len(openai))
	}
	for _, m := range openai {
		if m.Provider != "openai" {
			t.Errorf("expected provider openai, got %q", m.Provider)
		}
	}

	if anthropic := ListModels("anthropic"); len(anthropic) != 2 {
		t.Errorf("expected 2 Anthropic models, got %d", len(anthropic))
	}
	if empty := ListModels("nonexistent"); len(empty) != 0 {
		t.Errorf("expected 0 models for nonexistent provider, got %d", len(empty))
	}
}

func TestGetLatestModel(t *testing.T) {
	info := GetLatestModel("openai", "")
	if info == nil || info.ID != "gpt-3.5-turbo" {
		t.Fatalf("expected gpt-3.5-turbo as the openai default, got %v", info)
	}

	info = GetLatestModel("openai", "gpt-4o")
	if info == nil || info.ID != "gpt-4o-mini" {
		t.Errorf("expected the first model with a 128k window, got %v", info)
	}

	if info := GetLatestModel("nonexistent", ""); info != nil {
		t.Errorf("expected nil for nonexistent provider, got %v", info)
	}
}

func TestModelInfoFields(t *testing.T) {
	for _, m := range Models {
		if m.ID == "" {
			t.Error("model ID must not be empty")
		}
		if m.Provider == "" {
			t.Errorf("model %q: provider must not be empty", m.ID)
		}
		if m.DisplayName == "" {
			t.Errorf("model %q: display_name must not be empty", m.ID)
		}
		if m.ContextWindow <= 0 {
			t.Errorf("model %q: context_window must be positive", m.ID)
		}
	}
}
