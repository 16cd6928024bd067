package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pi-parallel/parallel/internal/agentdef"
)

var agentScopeFlag string

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect discovered agent definitions.",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered agent definitions for a scope.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defs, err := agentdef.Discover(agentdef.Scope(agentScopeFlag), cfg.AgentUserDir, cfg.AgentProjectDir)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(defs))
		for n := range defs {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			d := defs[n]
			fmt.Printf("%s\tmodel=%s\ttools=%v\tsource=%s\n", n, d.Model, d.Tools, d.Source)
		}
		return nil
	},
}

func init() {
	agentsCmd.PersistentFlags().StringVar(&agentScopeFlag, "scope", "both", "user|project|both")
	agentsCmd.AddCommand(agentsListCmd)
}
