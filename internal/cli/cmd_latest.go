package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newLatestCommand(out io.Writer, configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the most recent value for each measurement type",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.chain.LatestPerType(cmd.Context())
			if err != nil {
				return err
			}
			for _, event := range events {
				_, err := fmt.Fprintf(out, "%-24s %10.2f %-12s at %s\n",
					event.Type, event.Value, event.Unit, event.Timestamp.Format("2006-01-02T15:04:05Z"))
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	return cmd
}
