package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawlctl/internal/app"
	"github.com/JakeFAU/crawlctl/internal/crawler"
)

func newSyncCmd() *cobra.Command {
	var (
		platforms []string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one feed sync pass and exit",
		Long: `Copies native crawler rows newer than each platform's watermark into the
monitor feed. With no --platform every supported platform is synced. The
report is printed as JSON; the command fails if any platform failed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			selected, err := crawler.ParsePlatformList(platforms...)
			if err != nil {
				return err
			}
			cfg := rt.cfg
			if batchSize > 0 {
				cfg.Sync.BatchSize = batchSize
			}
			// Periodic jobs belong to serve.
			cfg.Sync.Schedule = ""

			a, err := app.New(cmd.Context(), cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer func() { _ = a.Close(cmd.Context()) }()

			report := a.Engine().SyncAll(cmd.Context(), selected...)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			return report.Err()
		},
	}
	cmd.Flags().StringSliceVarP(&platforms, "platform", "p", nil, "platform codes to sync (repeatable or comma separated)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "native rows per batch (overrides sync.batch_size)")
	return cmd
}
