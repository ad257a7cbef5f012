// Package commands implements the vcs-automatctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient is the admin API HTTP client, shared across subcommands.
	httpClient = &http.Client{Timeout: 10 * time.Second}

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's admin API address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for vcs-automatctl.
var rootCmd = &cobra.Command{
	Use:   "vcs-automatctl",
	Short: "CLI client for the vcs-automat daemon",
	Long:  "vcs-automatctl talks to the vcs-automat daemon's local admin API to inspect sessions and drive operator actions.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "127.0.0.1:8734",
		"vcs-automat admin API address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(refillCmd())
	rootCmd.AddCommand(displayCmd())
	rootCmd.AddCommand(providerCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// adminURL builds a full URL against the configured admin API address.
func adminURL(path string) string {
	return "http://" + serverAddr + path
}
