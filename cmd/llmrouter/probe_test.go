package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"llmrouter/internal/core"
	"llmrouter/internal/health"
	"llmrouter/internal/providers"
)

func TestPrintProbeResults(t *testing.T) {
	registry := providers.NewRegistry(newFactory())
	registry.Load([]core.ProviderConfig{
		{Key: "local", Name: "local", Type: "ollama", Model: "llama3.2", Enabled: true, Priority: 1, Pricing: core.Pricing{Type: core.PricingFree}},
	})

	var buf bytes.Buffer
	printProbeResults(&buf, registry, []health.Result{
		{Key: "local", Available: true, Latency: 42 * time.Millisecond},
		{Key: "remote", Err: errors.New("connection refused")},
	})

	out := buf.String()
	assert.Contains(t, out, "PROVIDER")
	assert.Regexp(t, `local\s+ollama\s+llama3\.2\s+up\s+42ms`, out)
	assert.Regexp(t, `remote\s+down\s+-\s+connection refused`, out)
}

func TestPrintProbeResults_Empty(t *testing.T) {
	var buf bytes.Buffer
	printProbeResults(&buf, providers.NewRegistry(newFactory()), nil)
	assert.Equal(t, "No enabled providers configured\n", buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd~", truncate("abcdefgh", 5))
	assert.Equal(t, "modèl", truncate("modèl", 5))
	assert.Equal(t, "déjà~", truncate("déjà-vu", 5))
}

func TestVersionCmd(t *testing.T) {
	cmd := versionCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.Run(cmd, nil)
	assert.Contains(t, buf.String(), "llmrouter dev")
}
