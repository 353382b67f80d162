package cli

import (
	"errors"
	"fmt"

	"govgate/internal/domain"
	cryptoinfra "govgate/internal/infra/crypto"
	"govgate/internal/infra/filestore"
	"govgate/internal/usecase"

	"github.com/spf13/cobra"
)

type escalationReport struct {
	EscalationID string                 `json:"escalation_id"`
	State        domain.ExecutionState  `json:"state"`
	Integrity    string                 `json:"integrity"`
	Decision     *domain.DecisionRecord `json:"decision,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

func newEscalationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escalation",
		Short: "Inspect escalations in a file store",
	}
	cmd.AddCommand(newEscalationVerifyCommand())
	return cmd
}

func newEscalationVerifyCommand() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "verify <escalation-id>",
		Short: "Recompute the content hash, check the decision signature and print the execution state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := filestore.Open(dataDir)
			if err != nil {
				return err
			}
			signer, err := cryptoinfra.NewHMACSigner([]byte(cfg.DecisionSigningKey))
			if err != nil {
				return fmt.Errorf("DECISION_SIGNING_KEY: %w", err)
			}
			cryptoSvc := cryptoinfra.NewService()
			registry := usecase.NewRevocationRegistry(store.Revocations(), nil, nil, nil)
			queue := usecase.NewEscalationQueue(store.Escalations(), cryptoSvc, nil, nil, nil)
			binder := usecase.NewDecisionBinder(queue, store.Decisions(), signer, nil, nil, cfg.EscalationTTL, nil)
			gate := usecase.NewExecutionGate(queue, binder, registry, nil, cfg.EscalationTTL, nil)

			ctx := cmd.Context()
			id := args[0]
			rec, err := queue.Get(ctx, id)
			if err != nil {
				return err
			}
			report := escalationReport{EscalationID: id, Integrity: "ok"}
			if _, err := queue.VerifyIntegrity(rec); err != nil {
				report.Integrity = "tampered"
				report.Error = err.Error()
			}
			state, err := gate.State(ctx, id)
			if err != nil {
				return err
			}
			report.State = state
			if decision, err := binder.Read(ctx, id); err == nil {
				report.Decision = decision
			} else if domain.IsIntegrityError(err) {
				report.Error = err.Error()
			} else {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if state == domain.ExecutionHashMismatch || report.Integrity != "ok" {
				return errors.New("integrity check failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "file store directory")
	return cmd
}
