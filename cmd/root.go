package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagEnvFile  string
	flagPort     uint16
	flagCapacity int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "syncrelay",
	Short: "Room-scoped signaling relay for synchronized listening sessions",
	Long: `syncrelay accepts websocket connections, groups them into rooms with one
host and a bounded set of listeners, and relays signaling and playback
state between them. Media never passes through the relay.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		zap.L().Error("command_failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "optional dotenv file loaded before parsing the environment")

	serveCmd.Flags().Uint16Var(&flagPort, "port", 0, "listen port (overrides HTTP_SERVER_PORT)")
	serveCmd.Flags().IntVar(&flagCapacity, "capacity", 0, "listeners per room (overrides ROOM_CAPACITY)")

	rootCmd.AddCommand(serveCmd, watchCmd)
	// plain `syncrelay` serves
	rootCmd.RunE = serveCmd.RunE
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())
}
