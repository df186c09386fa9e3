package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/client"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/log"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/metrics"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/reconciler"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Converge the agent to a desired configuration",
	Long: `Apply a desired agent configuration from a YAML file.

Examples:
  # Converge the agent
  bamboo-agentctl apply -f agent.yaml

  # Report the changes without applying them
  bamboo-agentctl apply -f agent.yaml --check`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "Desired configuration YAML file (required)")
	applyCmd.Flags().Bool("check", false, "Compute and report changes without applying them")
	applyCmd.Flags().String("metrics-addr", "", "Expose Prometheus metrics on this address while running")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	checkMode, _ := cmd.Flags().GetBool("check")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := types.LoadDesiredConfig(filename)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		serveMetrics(metricsAddr)
	}

	c := client.New(cfg.Host, cfg.Credentials, cfg.Timings.HTTPTimeout.Duration())
	result, err := reconciler.New(c).Reconcile(cmd.Context(), cfg, checkMode)
	if err != nil {
		return err
	}

	for _, line := range result.Diff {
		fmt.Println(line)
	}

	switch {
	case !result.Changed:
		fmt.Println("✓ No changes required")
	case checkMode:
		fmt.Printf("%d change(s) required\n", len(result.Diff))
	case result.Deleted:
		fmt.Println("✓ Agent deleted")
	default:
		fmt.Printf("✓ Agent converged: %s (ID: %d)\n", result.FinalState.Name, result.FinalState.AgentID)
	}
	return nil
}

// serveMetrics exposes /metrics in the background. Useful when a
// busy-wait keeps the run alive long enough to be worth scraping.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Logger.Warn().Err(err).Str("addr", addr).Msg("metrics listener stopped")
		}
	}()
}
