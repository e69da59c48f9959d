package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "meshroom",
	Short: "Signaling server and headless participant for mesh video calls",
	Long: `meshroom relays WebRTC negotiation between participants of a room.
Media goes peer to peer, the server only tracks who is in which room.

Without a subcommand the signaling server is started, same as "meshroom serve".`,
	Run: func(cmd *cobra.Command, args []string) {
		runApp()
	},
}

func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
