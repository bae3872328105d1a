// Package main checkpoint monitor commands.
package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/foremanhq/foreman/internal/checkpoint"
	"github.com/foremanhq/foreman/internal/packet"
	"github.com/foremanhq/foreman/internal/render"
	"github.com/foremanhq/foreman/internal/worker"
)

func checkpointCmd() *cobra.Command {
	var dir string

	runMonitor := func(cmd *cobra.Command, args []string) {
		interval := checkpoint.DefaultInterval
		maxIterations := checkpoint.DefaultMaxIterations

		if len(args) > 0 {
			secs, err := strconv.Atoi(args[0])
			if err != nil || secs <= 0 {
				fatalError(fmt.Errorf("invalid interval: %s", args[0]))
			}
			interval = time.Duration(secs) * time.Second
		}
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				fatalError(fmt.Errorf("invalid max iterations: %s", args[1]))
			}
			maxIterations = n
		}

		store := openStore(dir)
		loadPacket(store)

		writer, err := checkpoint.NewWriter(store.Dir())
		if err != nil {
			fatalError(err)
		}

		monitor := checkpoint.New(worker.NewRoster(), writer,
			checkpoint.WithInterval(interval),
			checkpoint.WithMaxIterations(maxIterations),
		)
		monitor.Activity = func(sinceSeq int) []packet.ActivityEntry {
			entries, err := store.ReadActivity()
			if err != nil {
				return nil
			}
			for i, e := range entries {
				if e.Seq > sinceSeq {
					return entries[i:]
				}
			}
			return nil
		}

		fmt.Printf("CHECKPOINT MONITOR: every %s, %d iteration(s) max\n", interval, maxIterations)
		if err := monitor.Run(cmd.Context()); err != nil {
			fatalError(err)
		}
		fmt.Println("CHECKPOINT MONITOR DONE")
	}

	cmd := &cobra.Command{
		Use:   "checkpoint [interval-seconds] [max-iterations]",
		Short: "Liveness checkpoint monitor",
		Long: `Run the checkpoint monitor standalone: sample worker liveness on a
fixed interval for a bounded number of iterations, writing records to
the packet directory. Exhausting the iteration budget is a clean exit.`,
		Args: cobra.MaximumNArgs(2),
		Run:  runMonitor,
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Packet directory (default: $FOREMAN_PACKET_DIR or cwd)")

	// foreman checkpoint start [interval-seconds] [max-iterations]
	startCmd := &cobra.Command{
		Use:   "start [interval-seconds] [max-iterations]",
		Short: "Run the bounded checkpoint timer against the packet directory",
		Args:  cobra.MaximumNArgs(2),
		Run:   runMonitor,
	}

	// foreman checkpoint latest
	latestCmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the latest checkpoint record",
		Run: func(cmd *cobra.Command, args []string) {
			store := openStore(dir)
			writer, err := checkpoint.NewWriter(store.Dir())
			if err != nil {
				fatalError(err)
			}
			rec, err := writer.Latest()
			if err != nil {
				fatalError(err)
			}
			fmt.Print(render.New(pretty).Checkpoint(rec))
		},
	}

	// foreman checkpoint trail
	trailCmd := &cobra.Command{
		Use:   "trail",
		Short: "Show every checkpoint record in order",
		Run: func(cmd *cobra.Command, args []string) {
			store := openStore(dir)
			writer, err := checkpoint.NewWriter(store.Dir())
			if err != nil {
				fatalError(err)
			}
			trail, err := writer.Trail()
			if err != nil {
				fatalError(err)
			}
			if len(trail) == 0 {
				fmt.Println("No checkpoints recorded")
				return
			}
			r := render.New(pretty)
			for i := range trail {
				fmt.Print(r.Checkpoint(&trail[i]))
			}
		},
	}

	cmd.AddCommand(startCmd, latestCmd, trailCmd)
	return cmd
}
