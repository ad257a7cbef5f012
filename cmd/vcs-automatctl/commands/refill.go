package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errRFIDRequired is returned when refill is invoked without --rfid.
var errRFIDRequired = errors.New("--rfid flag is required")

type refillRequestBody struct {
	RFID         string `json:"rfid"`
	UsageCounter uint32 `json:"usage_counter"`
}

func refillCmd() *cobra.Command {
	var (
		rfid  string
		usage uint32
	)

	cmd := &cobra.Command{
		Use:   "refill",
		Short: "Correct a local-provider usage counter after a physical restock",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if rfid == "" {
				return errRFIDRequired
			}

			body := refillRequestBody{RFID: rfid, UsageCounter: usage}
			if err := adminPost("/refill", body, nil); err != nil {
				return err
			}

			fmt.Printf("Usage counter for %s set to %d.\n", rfid, usage)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&rfid, "rfid", "", "card identifier to correct (required)")
	flags.Uint32Var(&usage, "usage", 0, "new usage counter value")

	return cmd
}
