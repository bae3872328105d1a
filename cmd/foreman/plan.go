// Package main planning commands: subtask graph assembly and the
// dispatch strategy preview.
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foremanhq/foreman/internal/packet"
	"github.com/foremanhq/foreman/internal/planner"
	"github.com/foremanhq/foreman/internal/render"
)

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Subtask planning",
		Long:  "Assemble the subtask dependency graph and preview the dispatch strategy",
	}

	var dir string
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Packet directory (default: $FOREMAN_PACKET_DIR or cwd)")

	var deps, owns []string

	// foreman plan add <id> <spec>
	addCmd := &cobra.Command{
		Use:   "add <id> <spec>",
		Short: "Add a subtask to the packet",
		Long: `Add a subtask with optional dependencies and resource ownership.

Examples:
  foreman plan add schema "Design the user schema"
  foreman plan add handlers "HTTP handlers" --deps schema --owns "api/**"`,
		Args: cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			store := openStore(dir)
			p := loadPacket(store)

			id := args[0]
			for _, st := range p.Subtasks {
				if st.ID == id {
					fatalError(fmt.Errorf("subtask %s already exists", id))
				}
			}

			p.Subtasks = append(p.Subtasks, packet.Subtask{
				ID:        id,
				PacketID:  p.ID,
				Spec:      strings.Join(args[1:], " "),
				DependsOn: deps,
				Owns:      owns,
				Exec:      packet.ExecPending,
			})

			if err := store.WritePlan(p.Plan, p.Subtasks); err != nil {
				fatalError(err)
			}
			fmt.Printf("SUBTASK ADDED: %s (%d total)\n", id, len(p.Subtasks))
		},
	}
	addCmd.Flags().StringSliceVar(&deps, "deps", nil, "Subtask IDs this subtask depends on")
	addCmd.Flags().StringSliceVar(&owns, "owns", nil, "Glob patterns of resources this subtask owns")

	// foreman plan finalize [plan text]
	finalizeCmd := &cobra.Command{
		Use:   "finalize [plan text]",
		Short: "Validate the graph and move CONTRACTED → PLANNED",
		Args:  cobra.ArbitraryArgs,
		Run: func(cmd *cobra.Command, args []string) {
			store := openStore(dir)
			p := loadPacket(store)

			if len(p.Subtasks) == 0 {
				fatalError(fmt.Errorf("no subtasks; add some with 'foreman plan add'"))
			}

			// A strategy error here is fatal before any state change.
			dispatchPlan, err := planner.Build(p.ID, p.Subtasks)
			if err != nil {
				fatalError(err)
			}

			if err := p.Advance(packet.StatePlanned); err != nil {
				fatalError(err)
			}
			for i := range p.Subtasks {
				p.Subtasks[i].State = packet.StatePlanned
			}
			p.Plan = strings.Join(args, " ")
			if err := store.WritePlan(p.Plan, p.Subtasks); err != nil {
				fatalError(err)
			}
			if err := store.SavePacket(p); err != nil {
				fatalError(err)
			}

			fmt.Printf("PLANNED: %d subtask(s), %d layer(s)\n", dispatchPlan.TotalSubtasks(), len(dispatchPlan.Layers))
			fmt.Print(render.New(pretty).Plan(dispatchPlan))
		},
	}

	// foreman plan show
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Preview the dispatch strategy",
		Run: func(cmd *cobra.Command, args []string) {
			store := openStore(dir)
			p := loadPacket(store)

			dispatchPlan, err := planner.Build(p.ID, p.Subtasks)
			if err != nil {
				fatalError(err)
			}
			fmt.Print(render.New(pretty).Plan(dispatchPlan))
		},
	}

	cmd.AddCommand(addCmd, finalizeCmd, showCmd)
	return cmd
}
