package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/stackforge/internal/engine"
)

var (
	provName     string
	provEmail    string
	provFounder  string
	provCloud    string
	provUseCase  string
	provStage    string
	provServices []string
	provJSON     bool
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create or complete a startup's cloud account and services",
	Long: `Provision an account for a startup and build its services.

Running the same command again is safe: the existing account is reused,
ready services are skipped and only failed or missing ones are retried.
Without --services the recommended bundle is provisioned.`,
	Example: `  stackforge provision --name Acme --email ada@acme.io --founder "Ada L" --cloud aws
  stackforge provision --name Acme --email ada@acme.io --founder "Ada L" --services aws_rds,s3
  stackforge provision -c prod.toml --name Acme --email ada@acme.io --founder Ada --json`,
	Args: cobra.NoArgs,
	RunE: runProvision,
}

func init() {
	rootCmd.AddCommand(provisionCmd)

	provisionCmd.Flags().StringVar(&provName, "name", "", "Startup name")
	provisionCmd.Flags().StringVar(&provEmail, "email", "", "Founder email")
	provisionCmd.Flags().StringVar(&provFounder, "founder", "", "Founder name")
	provisionCmd.Flags().StringVar(&provCloud, "cloud", "any", "Cloud preference (aws, gcp, any)")
	provisionCmd.Flags().StringVar(&provUseCase, "use-case", "", "Use case for the recommended bundle")
	provisionCmd.Flags().StringVar(&provStage, "stage", "startup", "Company stage (idea, startup, growth, enterprise)")
	provisionCmd.Flags().StringSliceVar(&provServices, "services", nil, "Explicit service ids (comma separated)")
	provisionCmd.Flags().BoolVar(&provJSON, "json", false, "Print JSON")
	_ = provisionCmd.MarkFlagRequired("name")
	_ = provisionCmd.MarkFlagRequired("email")
	_ = provisionCmd.MarkFlagRequired("founder")
}

func runProvision(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close(ctx) }()

	result, err := s.engine.Provision(ctx, engine.Request{
		StartupName:     provName,
		FounderEmail:    provEmail,
		FounderName:     provFounder,
		CloudPreference: provCloud,
		UseCase:         provUseCase,
		CompanyStage:    provStage,
		Services:        provServices,
	})
	if err != nil {
		if result == nil {
			return err
		}
		// The record did not persist; dump what the provider already
		// created, credentials included, before failing.
		if perr := writeJSON(cmd.ErrOrStderr(), result); perr != nil {
			logger.Warn().Err(perr).Msg("failed to print partial result")
		}
		return err
	}

	if provJSON {
		err = writeJSON(cmd.OutOrStdout(), result)
	} else {
		err = printResult(cmd.OutOrStdout(), result)
	}
	if err != nil {
		return err
	}
	if result.Status == engine.StatusFailed {
		return fmt.Errorf("no service was provisioned for %s", result.Account.StartupName)
	}
	return nil
}
