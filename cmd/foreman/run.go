// Package main coordination run command.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foremanhq/foreman/internal/archive"
	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/coordinator"
	"github.com/foremanhq/foreman/internal/gate"
	"github.com/foremanhq/foreman/internal/graph"
	"github.com/foremanhq/foreman/internal/render"
	"github.com/foremanhq/foreman/internal/runtime"
	"github.com/foremanhq/foreman/internal/worker"
)

func runCmd() *cobra.Command {
	var (
		dir         string
		engineerCmd string
		testerCmd   string
		reviewerCmd string
		autoArchive bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the coordination flow for the packet",
		Long: `Run the full coordination flow: dispatch the planned subtask graph
layer by layer under checkpoint supervision, then push completed work
through the Tester/Reviewer quality gate.

Worker commands receive a subtask spec as JSON on stdin and must print
a result contract as JSON on stdout. Gate commands receive the subtask
under review and must print a verdict.`,
		Run: func(cmd *cobra.Command, args []string) {
			store := openStore(dir)

			engineer, err := newWorkerCommand(engineerCmd, "engineer")
			if err != nil {
				fatalError(err)
			}
			tester, err := newStageCommand(testerCmd, "tester")
			if err != nil {
				fatalError(err)
			}
			reviewer, err := newStageCommand(reviewerCmd, "reviewer")
			if err != nil {
				fatalError(err)
			}

			c := coordinator.New(store, engineer, tester, reviewer)
			if db != nil {
				c.Exporter = graph.NewExporter(db)
			}

			paths, err := config.EnsureHome()
			if err != nil {
				fatalError(err)
			}
			archiveDB, err := archive.Open(paths.Archive)
			if err != nil {
				fatalError(err)
			}
			defer archiveDB.Close()
			c.Archive = archiveDB

			// SIGINT/SIGTERM request a clean wind-down at the next
			// yield point, not a hard kill.
			shutdown := runtime.NewShutdownManager(runtime.DefaultShutdownTimeout)
			shutdown.RegisterSimple("abandon-run", func() {
				c.Token().Cancel("operator interrupt")
			})
			shutdown.ListenForSignals()

			outcome, runErr := c.Run(cmd.Context())
			r := render.New(pretty)

			if outcome != nil && outcome.Report != nil {
				fmt.Print(r.Report(outcome.Report))
			}
			if runErr != nil {
				fatalError(runErr)
			}

			switch {
			case outcome.Cancelled:
				fmt.Println("RUN CANCELLED")
			case outcome.Accepted:
				fmt.Println("PACKET ACCEPTED")
				if autoArchive {
					if err := c.ArchivePacket(cmd.Context()); err != nil {
						fatalError(err)
					}
					fmt.Println("PACKET ARCHIVED")
				}
			case len(outcome.Rejected) > 0:
				fmt.Printf("CHANGES REQUIRED: %d subtask(s) sent back\n", len(outcome.Rejected))
				fmt.Print(r.Verdicts(&outcome.Packet.Review))
				os.Exit(2)
			}
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Packet directory (default: $FOREMAN_PACKET_DIR or cwd)")
	cmd.Flags().StringVar(&engineerCmd, "engineer-cmd", os.Getenv("FOREMAN_ENGINEER_CMD"), "Engineer worker command")
	cmd.Flags().StringVar(&testerCmd, "tester-cmd", os.Getenv("FOREMAN_TESTER_CMD"), "Tester stage command")
	cmd.Flags().StringVar(&reviewerCmd, "reviewer-cmd", os.Getenv("FOREMAN_REVIEWER_CMD"), "Reviewer stage command")
	cmd.Flags().BoolVar(&autoArchive, "archive", false, "Archive the packet after acceptance")

	return cmd
}

func newWorkerCommand(cmdline, role string) (worker.Runner, error) {
	if cmdline == "" {
		return nil, fmt.Errorf("no %s command; set --%s-cmd or FOREMAN_%s_CMD",
			role, role, strings.ToUpper(role))
	}
	return worker.NewCommand(cmdline)
}

func newStageCommand(cmdline, role string) (gate.Stage, error) {
	if cmdline == "" {
		return nil, fmt.Errorf("no %s command; set --%s-cmd or FOREMAN_%s_CMD",
			role, role, strings.ToUpper(role))
	}
	return gate.NewCommandStage(cmdline)
}
