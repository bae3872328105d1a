// Package main provides the foreman CLI entrypoint.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/graph"
	"github.com/foremanhq/foreman/internal/metrics"
)

var (
	version = "0.1.0"
	db      graph.Driver
	pretty  = true
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "foreman",
		Short: "Foreman - coordination protocol for AI coding workers",
		Long: `Foreman directs teams of AI coding workers through task packets:
plan the subtask graph, dispatch it layer by layer, supervise workers
with liveness checkpoints, and gate completed work through a two-stage
Tester/Reviewer review before acceptance.

Use 'foreman packet init' to start a packet.
Use 'foreman status' to show coordinator status.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// The graph database is optional; an unconfigured or
			// unreachable one degrades to no export.
			db = graph.Open(cmd.Context(), graph.DefaultConfig())

			if addr := config.Get().MetricsAddr; addr != "" {
				metrics.NewServer(addr).Start()
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if db != nil {
				db.Close()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", isTTY(), "Pretty print output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "packet", Title: "Packets:"},
		&cobra.Group{ID: "run", Title: "Coordination:"},
		&cobra.Group{ID: "observe", Title: "Observability:"},
	)

	pkt := packetCmd()
	pkt.GroupID = "packet"
	rootCmd.AddCommand(pkt)

	plan := planCmd()
	plan.GroupID = "run"
	rootCmd.AddCommand(plan)

	run := runCmd()
	run.GroupID = "run"
	rootCmd.AddCommand(run)

	ckpt := checkpointCmd()
	ckpt.GroupID = "run"
	rootCmd.AddCommand(ckpt)

	status := statusCmd()
	status.GroupID = "observe"
	rootCmd.AddCommand(status)

	watch := watchCmd()
	watch.GroupID = "observe"
	rootCmd.AddCommand(watch)

	graphC := graphCmd()
	graphC.GroupID = "observe"
	rootCmd.AddCommand(graphC)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
