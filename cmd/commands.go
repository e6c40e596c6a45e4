package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/social-monitor/internal/stats"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API and the crawl scheduler",
		Long: `Serves the REST API and, when crawl.interval_minutes is set, triggers a
crawl run on that interval. Stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}

// newCrawlCmd runs one pass over every active rule and prints the run result.
func newCrawlCmd() *cobra.Command {
	var failOnErrors bool
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a single crawl pass and prints the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.CrawlOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("run crawler: %w", err)
			}
			if err := writeJSON(cmd, res); err != nil {
				return err
			}
			zap.L().Info("Crawl command finished.",
				zap.String("run_id", res.RunID),
				zap.Int("posts_found", res.TotalPostsFound),
			)
			if failOnErrors && len(res.Errors) > 0 {
				return fmt.Errorf("crawl finished with %d platform errors", len(res.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failOnErrors, "fail-on-errors", false, "exit non-zero when any platform dispatch failed")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Prints the reporting snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if hours <= 0 {
				return errors.New("--hours must be > 0")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			snap, err := appInstance.Snapshot(cmd.Context(), time.Duration(hours)*time.Hour)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			return writeJSON(cmd, snap)
		},
	}
	cmd.Flags().IntVar(&hours, "hours", int(stats.DefaultWindow/time.Hour), "trailing window for recent post counts")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Migrate(cmd.Context())
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
