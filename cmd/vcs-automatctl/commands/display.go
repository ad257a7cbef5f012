package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

type displayRequestBody struct {
	Top      string `json:"top"`
	Bottom   string `json:"bottom"`
	Duration string `json:"duration"`
	Priority bool   `json:"priority"`
}

func displayCmd() *cobra.Command {
	var (
		top      string
		bottom   string
		duration string
		priority bool
	)

	cmd := &cobra.Command{
		Use:   "display",
		Short: "Push an operator message to the customer display",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			body := displayRequestBody{Top: top, Bottom: bottom, Duration: duration, Priority: priority}
			if err := adminPost("/display", body, nil); err != nil {
				return err
			}

			fmt.Println("Display message queued.")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&top, "top", "", "top line of the display")
	flags.StringVar(&bottom, "bottom", "", "bottom line of the display")
	flags.StringVar(&duration, "duration", "3s", "how long to show the message, e.g. \"3s\"")
	flags.BoolVar(&priority, "priority", false, "interrupt the idle display loop immediately")

	return cmd
}
