package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/resmi-haber-crawler/internal/scheduler"
)

// newRunCmd runs a single job once and prints its result.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <job> [sources...]",
		Short: "Runs one job immediately",
		Long: `Runs one job immediately and prints the result as JSON.

Jobs: rss, scrape [source names...], financial, cleanup, maintenance,
or scrape:<source name> for a single scraping source.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sched := appInstance.Scheduler()
			ctx := cmd.Context()
			kind := args[0]
			appInstance.Logger().Info("running job", zap.String("kind", kind))

			switch kind {
			case scheduler.JobRSS:
				res := sched.RunRSSUpdate(ctx)
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Success {
					return fmt.Errorf("rss update failed: %s", res.Message)
				}
				return nil
			case "scrape":
				res := sched.RunScraping(ctx, args[1:])
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Success {
					return fmt.Errorf("scraping failed: %s", res.Message)
				}
				return nil
			}

			if len(args) > 1 {
				return fmt.Errorf("job %s takes no extra arguments", kind)
			}
			res, err := sched.TriggerJob(ctx, kind)
			if err != nil {
				return fmt.Errorf("run %s: %w", kind, err)
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.Error != "" {
				return fmt.Errorf("job %s failed: %s", kind, res.Error)
			}
			return nil
		},
	}
	return cmd
}
