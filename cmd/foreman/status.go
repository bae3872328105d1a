// Package main status and watch commands.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/foremanhq/foreman/internal/render"
	"github.com/foremanhq/foreman/internal/tui"
)

func statusCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show coordinator status for the packet",
		Run: func(cmd *cobra.Command, args []string) {
			store := openStore(dir)
			p := loadPacket(store)

			connected := false
			if db != nil {
				ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
				connected = db.Ping(ctx) == nil
				cancel()
			}

			fmt.Print(render.New(pretty).Status(p.State, len(p.Subtasks), connected))
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Packet directory (default: $FOREMAN_PACKET_DIR or cwd)")
	return cmd
}

func watchCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live terminal board for the packet",
		Run: func(cmd *cobra.Command, args []string) {
			if !isTTY() {
				fatalError(fmt.Errorf("watch needs an interactive terminal"))
			}
			store := openStore(dir)
			loadPacket(store)

			if err := tui.Run(store); err != nil {
				fatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Packet directory (default: $FOREMAN_PACKET_DIR or cwd)")
	return cmd
}
