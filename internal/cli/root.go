// Package cli implements govgatectl, the operator tool for tokens,
// escalations, revocations and the audit log.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"govgate/internal/config"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the command tree. Keys and tunables come from the
// same environment variables as the server.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "govgatectl",
		Short:         "Operate a govgate admission and escalation deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTokenCommand(), newEscalationCommand(), newRevocationCommand(), newAuditCommand())
	return root
}

// Execute runs the root command.
func Execute() {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
