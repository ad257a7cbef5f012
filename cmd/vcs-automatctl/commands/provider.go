package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func providerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Inspect configured credit providers",
	}
	cmd.AddCommand(providerInfoCmd())
	return cmd
}

func providerInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <tag>",
		Short: "Show a provider's self-reported metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			tag := args[0]

			var info providerInfoView
			if err := adminGet("/provider/"+tag+"/info", &info); err != nil {
				return err
			}

			out, err := formatProviderInfo(tag, &info, outputFormat)
			if err != nil {
				return fmt.Errorf("format provider info: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
