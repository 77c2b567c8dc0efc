package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	if err != nil {
		t.Fatalf("LoadFrom err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.AI.Provider != ProviderAzure {
		t.Fatalf("unexpected provider: %s", cfg.AI.Provider)
	}
	crew := cfg.Crew
	if crew.MaxIterations != 20 {
		t.Fatalf("expected ceiling 20, got %d", crew.MaxIterations)
	}
	if crew.ApprovalKeyword != "APPROVED" || crew.UserRole != "user" {
		t.Fatalf("unexpected approval settings: %+v", crew)
	}
	if crew.Producer != "SoftwareEngineerAgent" || crew.ArtifactLanguage != "html" || crew.ArtifactPath != "index.html" {
		t.Fatalf("unexpected artifact settings: %+v", crew)
	}
	if !crew.PublishEnabled || crew.PublishCommand != "bash" || crew.PublishScript != "push_to_github.sh" {
		t.Fatalf("unexpected publish settings: %+v", crew)
	}
	if len(crew.TerminationAgents) != 1 || crew.TerminationAgents[0] != "ProductOwnerAgent" {
		t.Fatalf("expected approval scoped to the product owner, got %v", crew.TerminationAgents)
	}
}

func TestLoadFromEmptyTerminationScope(t *testing.T) {
	v := viper.New()
	v.Set("CREW_TERMINATION_AGENTS", "")

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom err: %v", err)
	}
	if cfg.Crew.TerminationAgents != nil {
		t.Fatalf("expected every-turn evaluation, got %v", cfg.Crew.TerminationAgents)
	}
}

func TestLoadEmptyTerminationEnv(t *testing.T) {
	t.Setenv("CREW_TERMINATION_AGENTS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Crew.TerminationAgents != nil {
		t.Fatalf("expected every-turn evaluation, got %v", cfg.Crew.TerminationAgents)
	}
}

func TestLoadFromOverrides(t *testing.T) {
	v := viper.New()
	v.Set("PORT", "127.0.0.1:9000")
	v.Set("AZURE_OPENAI_CHAT_DEPLOYMENT_NAME", "gpt-4o")
	v.Set("AZURE_OPENAI_API_VERSION", "2024-06-01")
	v.Set("AI_TEMPERATURE", "0.2")
	v.Set("CREW_MAX_ITERATIONS", "5")
	v.Set("CREW_PUBLISH_ENABLED", "false")
	v.Set("CREW_SELECTION", "MODEL")
	v.Set("CREW_TERMINATION_AGENTS", "ProductOwnerAgent, ,Other")

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom err: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.AI.Deployment != "gpt-4o" || cfg.AI.APIVersion != "2024-06-01" {
		t.Fatalf("unexpected azure settings: %+v", cfg.AI)
	}
	if cfg.AI.Temperature == nil || *cfg.AI.Temperature != 0.2 {
		t.Fatalf("unexpected temperature: %v", cfg.AI.Temperature)
	}
	if cfg.Crew.MaxIterations != 5 {
		t.Fatalf("expected ceiling 5, got %d", cfg.Crew.MaxIterations)
	}
	if cfg.Crew.PublishEnabled {
		t.Fatal("expected publishing disabled")
	}
	if cfg.Crew.Selection != "model" {
		t.Fatalf("unexpected selection: %s", cfg.Crew.Selection)
	}
	if len(cfg.Crew.TerminationAgents) != 2 || cfg.Crew.TerminationAgents[1] != "Other" {
		t.Fatalf("unexpected termination agents: %v", cfg.Crew.TerminationAgents)
	}
}

func TestLoadFromInvalidValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{key: "PORT", value: "80 80"},
		{key: "AI_MAX_TOKENS", value: "lots"},
		{key: "AI_TOP_P", value: "high"},
		{key: "CREW_MAX_ITERATIONS", value: "0"},
		{key: "CREW_MAX_ITERATIONS", value: "twenty"},
		{key: "CREW_PUBLISH_ENABLED", value: "maybe"},
		{key: "CREW_SELECTION", value: "random"},
		{key: "CREW_PROVIDER", value: "local"},
	}

	for _, tc := range cases {
		v := viper.New()
		v.Set(tc.key, tc.value)
		if _, err := LoadFrom(v); err == nil {
			t.Fatalf("expected error for %s=%q", tc.key, tc.value)
		}
	}
}

func TestMissingCredentialsAreNotValidatedUpFront(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	if err != nil {
		t.Fatalf("LoadFrom err: %v", err)
	}
	if cfg.AI.Endpoint != "" || cfg.AI.APIKey != "" {
		t.Fatalf("expected empty credentials, got %+v", cfg.AI)
	}
}
