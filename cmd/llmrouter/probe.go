package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"llmrouter/internal/health"
	"llmrouter/internal/providers"
)

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Probe every configured provider once and print the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig()
			if err != nil {
				return err
			}
			initResult, err := providers.Init(loaded.Config, newFactory(), nil)
			if err != nil {
				return err
			}

			rc := loaded.Config.Router
			prober := health.New(initResult.Registry, health.Config{
				Timeout:        rc.ProbeTimeout,
				MaxConcurrency: rc.ProbeConcurrency,
			})
			results := prober.TriggerNow(cmd.Context())

			printProbeResults(os.Stdout, initResult.Registry, results)
			for _, r := range results {
				if r.Available {
					return nil
				}
			}
			return fmt.Errorf("no provider available")
		},
	}
}

func printProbeResults(w io.Writer, registry *providers.Registry, results []health.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No enabled providers configured")
		return
	}

	fmt.Fprintf(w, "%-16s  %-10s  %-28s  %-6s  %8s  %s\n", "PROVIDER", "TYPE", "MODEL", "STATUS", "LATENCY", "ERROR")
	for _, r := range results {
		var typ, model string
		if e, ok := registry.Get(r.Key); ok {
			typ, model = e.Config.Type, e.Config.Model
		}
		status, latency, errText := "up", fmt.Sprintf("%dms", r.Latency.Milliseconds()), ""
		if !r.Available {
			status, latency = "down", "-"
			if r.Err != nil {
				errText = r.Err.Error()
			}
		}
		fmt.Fprintf(w, "%-16s  %-10s  %-28s  %-6s  %8s  %s\n",
			truncate(r.Key, 16), truncate(typ, 10), truncate(model, 28), status, latency, errText)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "~"
}
