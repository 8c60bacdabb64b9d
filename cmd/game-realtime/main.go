package main

import (
	"fmt"
	"os"

	"github.com/anatoly-dev/game-realtime/cmd/game-realtime/commands"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "game-realtime",
		Short: "Realtime connection service for games",
		Long:  "Keeps persistent WebSocket connections to game clients, tracks their liveness and fans out game events from Kafka to subscribed channels",
	}

	rootCmd.AddCommand(commands.NewServeCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
