package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/log"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/reconciler"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		// Partial application gets a distinct exit class: the server
		// is now in a state matching neither the old nor the new
		// desired configuration, so a blind retry needs operator
		// judgement.
		if reconciler.IsPartialApplication(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bamboo-agentctl",
	Short: "Reconcile a Bamboo remote agent's server-side configuration",
	Long: `bamboo-agentctl converges a Bamboo remote agent's registration state
(authentication, display name, enabled flag, project/plan assignments)
on the Bamboo server towards a declarative desired configuration.

Re-running against an already-converged server is a guaranteed no-op.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonLog, _ := cmd.Flags().GetBool("json-log")
		log.Init(log.Config{
			Level:      log.Level(level),
			JSONOutput: jsonLog,
		})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"bamboo-agentctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json-log", false, "Emit JSON logs on stderr")

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(statusCmd)
}
