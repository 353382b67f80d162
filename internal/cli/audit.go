package cli

import (
	"fmt"

	cryptoinfra "govgate/internal/infra/crypto"
	"govgate/internal/infra/filestore"

	"github.com/spf13/cobra"
)

func newAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check the hash-chained audit log",
	}
	cmd.AddCommand(newAuditVerifyCommand())
	return cmd
}

func newAuditVerifyCommand() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Walk every audit event and verify payload hashes and chain links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := filestore.Open(dataDir)
			if err != nil {
				return err
			}
			events, err := store.Audit().List(cmd.Context())
			if err != nil {
				return fmt.Errorf("read audit log: %w", err)
			}
			if err := cryptoinfra.VerifyAuditChain(events); err != nil {
				return err
			}
			head := cryptoinfra.ZeroAuditHash
			if n := len(events); n > 0 {
				head = events[n-1].EventHash
			}
			fmt.Fprintf(cmd.OutOrStdout(), "audit chain ok: %d events, head %s\n", len(events), head)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "file store directory")
	return cmd
}
