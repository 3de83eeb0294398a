package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlctl/internal/app"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the monitor_feed schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			version, err := app.Migrate(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			rt.logger.Info("schema up to date", zap.String("driver", rt.cfg.DB.Driver), zap.Uint("version", version))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", rt.cfg.DB.Driver, version)
			return err
		},
	}
}
