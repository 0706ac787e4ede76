package cmd

import (
	"github.com/spf13/cobra"
)

func newRobotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "robots",
		Short: "Inspects robots.txt policies",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <url>",
		Short: "Reports whether the crawler may fetch url and the crawl delay it must keep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			decision, err := appInstance.Robots().CanCrawl(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"url":                 args[0],
				"user_agent":          appInstance.Robots().UserAgent(),
				"allowed":             decision.Allowed,
				"crawl_delay_seconds": decision.CrawlDelay.Seconds(),
				"fallback":            decision.Fallback,
				"reason":              decision.Reason,
			})
		},
	})
	return cmd
}
