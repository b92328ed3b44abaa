package main

import (
	"github.com/spf13/cobra"

	"github.com/yairfalse/stackforge/internal/catalog"
)

var (
	recUseCase     string
	recStage       string
	recCloud       string
	recDescription string
	recJSON        bool
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Show the recommended service bundle",
	Long: `Show the services stackforge would provision for a use case, company
stage and cloud preference. No account is created.

When --use-case is omitted the use case is inferred from --description.`,
	Example: `  stackforge recommend --use-case data_analytics --stage growth
  stackforge recommend --cloud gcp --description "mobile app with realtime chat"
  stackforge recommend --use-case ecommerce --json`,
	Args: cobra.NoArgs,
	RunE: runRecommend,
}

func init() {
	rootCmd.AddCommand(recommendCmd)

	recommendCmd.Flags().StringVar(&recUseCase, "use-case", "", "Use case (saas_platform, ecommerce, web_app, data_analytics, ...)")
	recommendCmd.Flags().StringVar(&recStage, "stage", "startup", "Company stage (idea, startup, growth, enterprise)")
	recommendCmd.Flags().StringVar(&recCloud, "cloud", "any", "Cloud preference (aws, gcp, any)")
	recommendCmd.Flags().StringVar(&recDescription, "description", "", "Free-text description used to infer the use case")
	recommendCmd.Flags().BoolVar(&recJSON, "json", false, "Print JSON")
}

func runRecommend(cmd *cobra.Command, _ []string) error {
	useCase := catalog.ParseUseCase(recUseCase)
	if recUseCase == "" && recDescription != "" {
		useCase = catalog.Classify(recDescription)
	}
	set := catalog.Default().Recommend(useCase, catalog.ParseStage(recStage), catalog.ParsePreference(recCloud))

	if recJSON {
		return writeJSON(cmd.OutOrStdout(), set)
	}
	return printRecommendations(cmd.OutOrStdout(), set)
}
