package main

import (
	"context"
	"fmt"
	"strings"

	"paysa/internal/app"
	"paysa/internal/services/wallet"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	var (
		currency  string
		reference string
		key       string
	)
	cmd := &cobra.Command{
		Use:   "seed [user] [amount]",
		Short: "Credit a wallet with funds received outside any connector",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			if key == "" {
				key = "seed:" + args[0] + ":" + reference
			}
			return withLedger(cmd, func(ctx context.Context, a *app.App) error {
				tx, err := a.Ledger.CreditManual(ctx, args[0], currency, amount, reference, key)
				if err != nil {
					return err
				}
				return printJSON(cmd, tx)
			})
		},
	}
	cmd.Flags().StringVarP(&currency, "currency", "c", "PHP", "Wallet currency")
	cmd.Flags().StringVarP(&reference, "reference", "r", "", "Deposit slip or bank reference (required)")
	cmd.Flags().StringVarP(&key, "idempotency-key", "k", "", "Retry key; defaults to one derived from user and reference")
	_ = cmd.MarkFlagRequired("reference")
	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass over unsettled cash transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Reconciler.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d completed=%d failed=%d pending=%d errors=%d\n",
					report.Scanned, report.Completed, report.Failed, report.Pending, report.Errors)
				return nil
			})
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [transaction-id]",
		Short: "Print a transaction record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(ctx context.Context, a *app.App) error {
				tx, err := a.Ledger.GetTransaction(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, tx)
			})
		},
	}
}

func lockCmd(use, status string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [user] [currency]",
		Short: fmt.Sprintf("Set a wallet %s", status),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := wallet.Key{UserID: args[0], Currency: strings.ToUpper(args[1])}
			return withLedger(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Store.SetStatus(ctx, key, status); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s/%s is now %s\n", key.UserID, key.Currency, status)
				return nil
			})
		},
	}
}
