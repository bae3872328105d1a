// Package main packet lifecycle commands.
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foremanhq/foreman/internal/archive"
	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/packet"
	"github.com/foremanhq/foreman/internal/render"
)

func packetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "packet",
		Short: "Task packet lifecycle",
		Long:  "Create, inspect, abandon, and archive task packets",
	}

	var dir string
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Packet directory (default: $FOREMAN_PACKET_DIR or cwd)")

	// foreman packet init <title>
	initCmd := &cobra.Command{
		Use:   "init <title>",
		Short: "Create a new packet in DRAFT",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := openStore(dir)
			if _, err := store.LoadPacket(); err == nil {
				fatalError(fmt.Errorf("packet already exists in %s", store.Dir()))
			}

			p := packet.New(args[0])
			if err := store.SavePacket(p); err != nil {
				fatalError(err)
			}
			fmt.Printf("PACKET CREATED: %s\n", p.ID)
			fmt.Printf("  Title: %s\n", p.Title)
			fmt.Printf("  State: %s\n", p.State)
			fmt.Printf("  Dir:   %s\n", store.Dir())
		},
	}

	// foreman packet contract <text>
	contractCmd := &cobra.Command{
		Use:   "contract <text>",
		Short: "Record the contract and move DRAFT → CONTRACTED",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := openStore(dir)
			p := loadPacket(store)

			if err := p.Advance(packet.StateContracted); err != nil {
				fatalError(err)
			}
			if err := store.WriteContract(strings.Join(args, " ")); err != nil {
				fatalError(err)
			}
			if err := store.SavePacket(p); err != nil {
				fatalError(err)
			}
			fmt.Printf("CONTRACTED: %s\n", p.ID)
		},
	}

	// foreman packet show
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the packet and its subtasks",
		Run: func(cmd *cobra.Command, args []string) {
			store := openStore(dir)
			p := loadPacket(store)

			w := render.Stdout()
			w.Println("PACKET: %s", p.ID)
			w.Item("Title: %s", p.Title)
			w.Item("State: %s", p.State)
			w.Item("Accepted: %v", p.Accepted)

			if p.Contract != "" {
				w.Section("contract")
				w.Item("%s", render.Truncate(p.Contract, 200))
			}

			if len(p.Subtasks) > 0 {
				w.Section("subtasks")
				for _, st := range p.Subtasks {
					w.Item("%s %s [%s/%s]", render.ExecIcon(string(st.Exec)), st.ID, st.State, st.Exec)
					if len(st.DependsOn) > 0 {
						w.Nested("depends on: %s", strings.Join(st.DependsOn, ", "))
					}
					for _, f := range packet.BlockingFindings(st.Findings) {
						w.Nested("%s %s: %s", render.SeverityIcon(string(f.Severity)), f.Severity, f.Summary)
					}
				}
			}

			if len(p.Review.Rounds) > 0 {
				w.Section("review")
				w.Print("%s", render.New(pretty).Verdicts(&p.Review))
			}
		},
	}

	// foreman packet log [note]
	logCmd := &cobra.Command{
		Use:   "log [note]",
		Short: "Show the activity log, or append a note",
		Args:  cobra.ArbitraryArgs,
		Run: func(cmd *cobra.Command, args []string) {
			store := openStore(dir)
			loadPacket(store)

			if len(args) > 0 {
				entry, err := store.AppendActivity("operator", "", strings.Join(args, " "))
				if err != nil {
					fatalError(err)
				}
				fmt.Printf("LOGGED #%d\n", entry.Seq)
				return
			}

			entries, err := store.ReadActivity()
			if err != nil {
				fmt.Println("No activity recorded")
				return
			}
			for _, e := range entries {
				subject := e.Actor
				if e.Subtask != "" {
					subject += "/" + e.Subtask
				}
				fmt.Printf("[%s] #%d %s: %s\n", e.Timestamp.Format("15:04:05"), e.Seq, subject, e.Note)
			}
		},
	}

	// foreman packet abandon <reason>
	abandonCmd := &cobra.Command{
		Use:   "abandon <reason>",
		Short: "Abandon the packet (operator-only, irreversible)",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := openStore(dir)
			p := loadPacket(store)

			reason := strings.Join(args, " ")
			if err := p.Cancel(); err != nil {
				fatalError(err)
			}
			if err := store.SavePacket(p); err != nil {
				fatalError(err)
			}
			if _, err := store.AppendActivity("operator", "", "abandoned: "+reason); err != nil {
				fatalError(err)
			}
			fmt.Printf("ABANDONED: %s\n", p.ID)
		},
	}

	// foreman packet archive
	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive an ACCEPTED packet",
		Run: func(cmd *cobra.Command, args []string) {
			store := openStore(dir)
			p := loadPacket(store)

			if p.State == packet.StateAccepted {
				if err := p.Advance(packet.StateArchived); err != nil {
					fatalError(err)
				}
				if err := store.SavePacket(p); err != nil {
					fatalError(err)
				}
			}
			if !p.State.Terminal() {
				fatalError(fmt.Errorf("packet is %s; only ACCEPTED or terminal packets archive", p.State))
			}

			paths, err := config.EnsureHome()
			if err != nil {
				fatalError(err)
			}
			db, err := archive.Open(paths.Archive)
			if err != nil {
				fatalError(err)
			}
			defer db.Close()

			if err := db.Put(context.Background(), p); err != nil {
				fatalError(err)
			}
			fmt.Printf("ARCHIVED: %s\n", p.ID)
		},
	}

	// foreman packet list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List archived packets",
		Run: func(cmd *cobra.Command, args []string) {
			db, err := archive.Open(config.GetPaths().Archive)
			if err != nil {
				fatalError(err)
			}
			defer db.Close()

			list, err := db.List(context.Background(), 50)
			if err != nil {
				fatalError(err)
			}
			if len(list) == 0 {
				fmt.Println("Archive is empty")
				return
			}
			for _, s := range list {
				fmt.Printf("[%s] %s  %s  subtasks=%d rounds=%d\n",
					s.ArchivedAt.Format("2006-01-02"), s.ID[:8], render.Truncate(s.Title, 40),
					s.SubtaskCount, s.GateRounds)
			}
		},
	}

	cmd.AddCommand(initCmd, contractCmd, showCmd, logCmd, abandonCmd, archiveCmd, listCmd)
	return cmd
}
