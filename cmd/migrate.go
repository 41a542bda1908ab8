package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/brand-monitor/internal/storage/postgres"
)

// migrateFn is swapped in tests.
var migrateFn = postgres.Migrate

func newMigrateCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			if s.cfg.DB.DSN == "" {
				return errors.New("db.dsn is required to migrate")
			}
			if err := migrateFn(s.cfg.DB.DSN, args[0], steps); err != nil {
				return err
			}
			s.logger.Info("migrations applied", zap.String("direction", args[0]), zap.Int("steps", steps))
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 applies all)")
	return cmd
}
