// Package cmd defines the CLI commands for the resmihaber executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/resmi-haber-crawler/internal/config"
	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
	"github.com/JakeFAU/resmi-haber-crawler/internal/robots"
	"github.com/JakeFAU/resmi-haber-crawler/internal/scheduler"
	"github.com/JakeFAU/resmi-haber-crawler/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the part of the application graph the commands use.
type App interface {
	Run(ctx context.Context) error
	Close() error
	Config() *config.Config
	Logger() *zap.Logger
	Store() ingest.Store
	Scheduler() *scheduler.Scheduler
	Robots() *robots.Policy
}

// appFactory builds the application. Tests replace it.
type appFactory func(ctx context.Context, cfg *config.Config) (App, error)

func defaultFactory(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd(newApp appFactory) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "resmihaber",
		Short: "Collects official Turkish announcements and financial reference data.",
		Long: `resmihaber polls the RSS feeds of Turkish public institutions, scrapes
regulator sites that publish no feed while honouring robots.txt, and keeps the
central bank exchange rates current. Articles are deduplicated and stored with
a coarse category.`,
		SilenceUsage: true,

		// Runs before every subcommand: load config and build the application.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				_ = appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars use the RESMIHABER_ prefix")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSeedCmd())
	cmd.AddCommand(newRobotsCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd(defaultFactory).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
