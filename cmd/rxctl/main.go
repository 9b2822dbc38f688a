// Command rxctl is the operator tool for the prescription drafting stack.
// It renders documents offline, manages Redpanda topics, applies the
// database schema and issues development tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-rxdraft/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "rxctl",
		Short:        "Operator tool for the prescription drafting services",
		SilenceUsage: true,
	}

	root.AddCommand(previewCmd())
	root.AddCommand(invoiceCmd())
	root.AddCommand(topicsCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(tokenCmd())
	return root
}

// loadConfig reads the same environment the services use.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load("rxctl")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
