// Package main is the entry point for the provider router.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"llmrouter/config"
	"llmrouter/internal/logging"
	"llmrouter/internal/providers"
	"llmrouter/internal/providers/anthropic"
	"llmrouter/internal/providers/gemini"
	"llmrouter/internal/providers/groq"
	"llmrouter/internal/providers/ollama"
	"llmrouter/internal/providers/openai"
	"llmrouter/internal/providers/xai"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "llmrouter",
		Short:         "Route prompts to the best available LLM provider",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default $LLMROUTER_CONFIG or "+config.DefaultConfigPath+")")

	rootCmd.AddCommand(serveCmd(), probeCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and installs the process logger.
func loadConfig() (*config.LoadResult, error) {
	result, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Setup(result.Config.Logging.Format, result.Config.Logging.Level); err != nil {
		return nil, err
	}
	return result, nil
}

// newFactory registers every built-in provider type.
func newFactory() *providers.ProviderFactory {
	factory := providers.NewProviderFactory()
	for _, reg := range []providers.Registration{
		openai.Registration,
		groq.Registration,
		xai.Registration,
		gemini.Registration,
		anthropic.Registration,
		ollama.Registration,
	} {
		factory.Add(reg)
	}
	return factory
}
