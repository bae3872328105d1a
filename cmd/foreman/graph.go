// Package main graph export commands.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foremanhq/foreman/internal/graph"
	"github.com/foremanhq/foreman/internal/planner"
	"github.com/foremanhq/foreman/internal/render"
)

func graphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Coordination graph export",
	}

	var dir string
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Packet directory (default: $FOREMAN_PACKET_DIR or cwd)")

	// foreman graph export
	exportCmd := &cobra.Command{
		Use:     "export",
		Aliases: []string{"sync"},
		Short:   "Export the packet's subtask graph to the graph database",
		Run: func(cmd *cobra.Command, args []string) {
			if db == nil {
				if b := graph.ConnectWithRetry(3); b != nil {
					db = b
				} else {
					fatalError(fmt.Errorf("not connected to graph database"))
				}
			}

			store := openStore(dir)
			p := loadPacket(store)

			plan, err := planner.Build(p.ID, p.Subtasks)
			if err != nil {
				fatalError(err)
			}

			exporter := graph.NewExporter(db)
			if err := exporter.ExportPlan(cmd.Context(), p, plan); err != nil {
				fatalError(err)
			}
			fmt.Printf("EXPORTED: %d subtask(s) across %d layer(s)\n", plan.TotalSubtasks(), len(plan.Layers))
		},
	}

	// foreman graph show
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Read the exported subtask graph back from the database",
		Run: func(cmd *cobra.Command, args []string) {
			if db == nil {
				fatalError(fmt.Errorf("not connected to graph database"))
			}

			store := openStore(dir)
			p := loadPacket(store)

			exporter := graph.NewExporter(db)
			records, err := exporter.PacketSummary(cmd.Context(), p.ID)
			if err != nil {
				fatalError(err)
			}
			if len(records) == 0 {
				fmt.Println("Nothing exported yet; run 'foreman graph export'")
				return
			}

			w := render.Stdout()
			w.Println("PACKET %s", p.ID)
			for _, rec := range records {
				w.Item("layer %d  %s %s (%s)",
					graph.GetInt(rec, "layer"),
					render.ExecIcon(graph.GetString(rec, "exec")),
					graph.GetString(rec, "id"),
					graph.GetString(rec, "class"))
			}
		},
	}

	cmd.AddCommand(exportCmd, showCmd)
	return cmd
}
