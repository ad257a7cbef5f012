package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect the active vending session",
	}
	cmd.AddCommand(sessionsCurrentCmd())
	return cmd
}

func sessionsCurrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show the full detail of the currently active session",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var s sessionView
			if err := adminGet("/sessions/current", &s); err != nil {
				return err
			}

			out, err := formatSession(&s, outputFormat)
			if err != nil {
				return fmt.Errorf("format session: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
