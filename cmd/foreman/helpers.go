package main

import (
	"fmt"
	"os"

	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/packet"
)

// fatalError prints the error and exits.
func fatalError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// packetDir resolves the active packet directory: the --dir flag value
// when given, else FOREMAN_PACKET_DIR, else the current directory.
func packetDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if dir := config.Get().PacketDir; dir != "" {
		return dir
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// openStore opens the packet store for the resolved directory.
func openStore(flagValue string) *packet.Store {
	store, err := packet.NewStore(packetDir(flagValue))
	if err != nil {
		fatalError(err)
	}
	return store
}

// loadPacket loads the packet or exits with a friendly message.
func loadPacket(store *packet.Store) *packet.TaskPacket {
	p, err := store.LoadPacket()
	if err == packet.ErrNoPacket {
		fmt.Fprintln(os.Stderr, "No packet here. Run 'foreman packet init' first.")
		os.Exit(1)
	}
	if err != nil {
		fatalError(err)
	}
	return p
}
