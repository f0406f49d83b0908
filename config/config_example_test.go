package config

import (
	"testing"
	"time"
)

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("OPENAI_API_KEY", "")

	result, err := Load("config.example.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := result.Config

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Router.ProbeInterval != time.Minute {
		t.Errorf("expected probe interval 1m, got %v", cfg.Router.ProbeInterval)
	}
	if cfg.Cache.Type != "local" {
		t.Errorf("expected local cache, got %s", cfg.Cache.Type)
	}
	if got := cfg.Providers["groq"].APIKey; got != "gsk-test" {
		t.Errorf("expected groq api key from env, got %q", got)
	}
	if p := cfg.Providers["anthropic"]; p.Enabled == nil || *p.Enabled {
		t.Error("expected anthropic to be disabled")
	}
	if p := cfg.Providers["groq"].Pricing; p == nil || p.Type != "input_output" {
		t.Errorf("expected input_output pricing for groq, got %+v", p)
	}
}
