package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/resmi-haber-crawler/internal/seed"
)

func newSeedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Registers the official sources in the store",
		Long: `Upserts sources by name from a YAML file with a top-level "sources" list,
or the built-in registry when no file is configured. Fetch state of sources
that already exist is kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if file == "" {
				file = appInstance.Config().Seed.SourcesFile
			}
			sources := seed.DefaultSources()
			if file != "" {
				if sources, err = seed.Load(file); err != nil {
					return err
				}
			}
			res, err := seed.Apply(cmd.Context(), appInstance.Store(), sources, appInstance.Logger())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML sources file (defaults to seed.sources_file)")
	return cmd
}
