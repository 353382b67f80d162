package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"govgate/internal/infra/filestore"

	"github.com/spf13/cobra"
)

func newRevocationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revocation",
		Short: "Read the revocation list",
	}
	cmd.AddCommand(newRevocationListCommand())
	return cmd
}

func newRevocationListCommand() *cobra.Command {
	var (
		dataDir string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List revocation entries from a file store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := filestore.Open(dataDir)
			if err != nil {
				return err
			}
			entries, err := store.Revocations().List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list revocations: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No revocations.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSUBJECT\tNONCE\tREASON\tACTOR\tREVOKED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.SubjectID, e.Nonce, e.Reason, e.Actor, e.RevokedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "file store directory")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
