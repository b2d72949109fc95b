package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tobiasvik/biovault/internal/relay"
)

func newRelayCommand(out io.Writer, configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Outbox relay operations",
	}
	cmd.AddCommand(newRelayRunCommand(out, configPath))
	cmd.AddCommand(newRelayPurgeCommand(out, configPath))
	return cmd
}

func newRelayRunCommand(out io.Writer, configPath *string) *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drain one batch of pending outbox entries to stdout as NDJSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if batchSize <= 0 {
				batchSize = a.cfg.Relay.BatchSize
			}
			svc := relay.NewService(a.chain, relay.WriterTransport{W: out}, a.logger, batchSize)
			delivered, failed, err := svc.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.ErrOrStderr(), "delivered=%d failed=%d\n", delivered, failed)
			return err
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Override relay batch size")
	return cmd
}

func newRelayPurgeCommand(out io.Writer, configPath *string) *cobra.Command {
	var retentionDays int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete processed outbox entries past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if retentionDays <= 0 {
				retentionDays = a.cfg.Relay.RetentionDays
			}
			svc := relay.NewService(a.chain, nil, a.logger, a.cfg.Relay.BatchSize)
			count, err := svc.PurgeOld(cmd.Context(), retentionDays)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "purged=%d\n", count)
			return err
		},
	}

	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "Override retention window")
	return cmd
}
