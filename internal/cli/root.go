// Package cli implements the voxdeck command line: an interactive talk
// session over WebSocket plus macro and invoke management over REST.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
)

var rootCmd = &cobra.Command{
	Use:   "voxdeck",
	Short: "Talk to a voxdeck gateway from the terminal",
	Long: `voxdeck drives a voxdeck gateway: hold an interactive session,
manage macros, or fire a single capability.

Quick start:
  voxdeck talk                          # interactive session (turn-based)
  voxdeck invoke get_time               # run one capability
  voxdeck macros list                   # list stored macros
  voxdeck macros run "morning check"    # replay a macro by trigger`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("VOXDECK_SERVER", "http://localhost:8089"), "gateway base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("VOXDECK_API_KEY"), "bearer key for the REST surface")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
