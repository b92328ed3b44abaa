package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/yairfalse/stackforge/internal/engine"
	"github.com/yairfalse/stackforge/internal/filter"
	"github.com/yairfalse/stackforge/pkg/account"
)

var (
	accountsJSON     bool
	listStatuses     []string
	listProviders    []string
	listServices     []string
	listCreatingOnly bool
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Inspect and repair stored accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every stored account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			accounts, err := e.Accounts(ctx)
			if err != nil {
				return err
			}
			accounts = filter.New(listStatuses, listProviders, listServices, listCreatingOnly).Apply(accounts)
			if accountsJSON {
				return writeJSON(cmd.OutOrStdout(), accounts)
			}
			return printAccounts(cmd.OutOrStdout(), accounts)
		})
	},
}

var accountsShowCmd = &cobra.Command{
	Use:   "show KEY",
	Short: "Show one account and its resources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return accountAction(cmd, args[0], (*engine.Engine).Account)
	},
}

var accountsResetCmd = &cobra.Command{
	Use:   "reset KEY",
	Short: "Clear a failed account so the next request retries creation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return accountAction(cmd, args[0], (*engine.Engine).ResetAccount)
	},
}

var accountsRefreshCmd = &cobra.Command{
	Use:   "refresh KEY",
	Short: "Re-check resources that are still being created",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return accountAction(cmd, args[0], (*engine.Engine).Refresh)
	},
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsListCmd, accountsShowCmd, accountsResetCmd, accountsRefreshCmd)
	accountsCmd.PersistentFlags().BoolVar(&accountsJSON, "json", false, "Print JSON")

	accountsListCmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Only accounts with these statuses (pending, active, failed)")
	accountsListCmd.Flags().StringSliceVar(&listProviders, "provider", nil, "Only accounts on these providers")
	accountsListCmd.Flags().StringSliceVar(&listServices, "service", nil, "Only accounts holding one of these services")
	accountsListCmd.Flags().BoolVar(&listCreatingOnly, "creating", false, "Only accounts with resources still being created")
}

func withEngine(cmd *cobra.Command, fn func(context.Context, *engine.Engine) error) error {
	ctx := cmd.Context()
	s, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close(ctx) }()
	return fn(ctx, s.engine)
}

func accountAction(cmd *cobra.Command, key string, action func(*engine.Engine, context.Context, account.Key) (*account.Account, error)) error {
	return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
		acc, err := action(e, ctx, account.Key(key))
		if err != nil {
			return err
		}
		if accountsJSON {
			return writeJSON(cmd.OutOrStdout(), acc)
		}
		return printAccount(cmd.OutOrStdout(), acc)
	})
}
