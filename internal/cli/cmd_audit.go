package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tobiasvik/biovault/internal/model"
	"github.com/tobiasvik/biovault/internal/store"
)

func newAuditCommand(out io.Writer, configPath *string) *cobra.Command {
	var (
		kind     string
		entityID string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.store.Audit.List(cmd.Context(), store.AuditFilter{
				Kind:     model.AuditKind(kind),
				EntityID: entityID,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			for _, entry := range entries {
				_, err := fmt.Fprintf(out, "%s %-10s %-18s result=%-9s entity=%s %s\n",
					entry.OccurredAt.Format("2006-01-02T15:04:05Z"),
					entry.Kind, entry.Repo, entry.Result, entry.EntityID, entry.Summary)
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Filter by operation kind")
	cmd.Flags().StringVar(&entityID, "entity", "", "Filter by affected entity id")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum entries to list")
	return cmd
}
