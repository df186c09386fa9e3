package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/client"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/home"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/state"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the agent's current server-side state",
	Long: `Show the agent's identity and its current state on the Bamboo server.

Unlike apply, status never mutates anything: a pending agent is
reported as pending, not authenticated.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringP("file", "f", "", "Desired configuration YAML file (required)")
	_ = statusCmd.MarkFlagRequired("file")
}

func runStatus(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	cfg, err := types.LoadDesiredConfig(filename)
	if err != nil {
		return err
	}

	identity, err := home.ReadIdentity(cfg.Home)
	if err != nil {
		return err
	}

	if !identity.Registered() {
		fmt.Printf("Agent pending authentication (UUID: %s)\n", identity.UUID)
		return nil
	}

	c := client.New(cfg.Host, cfg.Credentials, cfg.Timings.HTTPTimeout.Duration())
	current, _, err := state.NewFetcher(c).Fetch(cmd.Context(), identity.AgentID, nil)
	if err != nil {
		return err
	}

	fmt.Printf("Agent:    %s (ID: %d)\n", current.Name, current.AgentID)
	fmt.Printf("Enabled:  %t\n", current.Enabled)
	fmt.Printf("Busy:     %t\n", current.Busy)
	fmt.Printf("Active:   %t\n", current.Active)
	if len(current.Assignments) == 0 {
		fmt.Println("Assignments: none (all builds eligible)")
		return nil
	}
	fmt.Println("Assignments:")
	for _, a := range current.SortedAssignments() {
		fmt.Printf("  - %s\n", a)
	}
	return nil
}
