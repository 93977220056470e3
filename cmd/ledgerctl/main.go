// Command ledgerctl runs operator tasks against the ledger store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"paysa/internal/app"
	"paysa/internal/config"
	"paysa/internal/logger"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "ledgerctl",
		Short:        "Operator tools for the paysa ledger",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(lockCmd("lock", "locked"))
	rootCmd.AddCommand(lockCmd("unlock", "active"))
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(partnerKeyCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// withLedger builds the same graph as the server, runs fn and releases it.
func withLedger(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	config.LoadEnv()
	cfg := config.Load()
	log := logger.New(os.Stderr, cfg.Env, cfg.LogLevel).With("component", "ledgerctl")
	slog.SetDefault(log)

	a, err := app.Build(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
