// Package cmd defines and implements the CLI commands for the brand-monitor executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/brand-monitor/internal/app"
	"github.com/JakeFAU/brand-monitor/internal/config"
	"github.com/JakeFAU/brand-monitor/internal/logging"
)

// sessionKeyType is the key for storing the session in the context.
type sessionKeyType string

const sessionKey sessionKeyType = "session"

// session carries what PersistentPreRunE resolved. The App is built on
// first use so commands such as migrate never open a pool.
type session struct {
	cfg    config.Config
	logger *zap.Logger
	app    *app.App
}

// newApp is the application factory. It's a variable so tests can seed
// or replace the App.
var newApp = app.New

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "brand-monitor",
		Short: "Scheduled brand monitoring over search results.",
		Long: `brand-monitor runs brand scans: every (keyword, source) pair of a project
becomes a queued job that is searched, deduplicated, analyzed and folded into
project tags. Maintenance agents filter off-topic results, merge duplicate
tags and write executive briefings.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), sessionKey, &session{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			s, ok := cmd.Context().Value(sessionKey).(*session)
			if !ok {
				return
			}
			if s.app != nil {
				s.app.Close()
				return
			}
			_ = s.logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env MONITOR_* overrides apply)")

	cmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newWorkCmd(),
		newScanCmd(),
		newMaintainCmd(),
	)
	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "brand-monitor: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func resolveSession(ctx context.Context) (*session, error) {
	s, ok := ctx.Value(sessionKey).(*session)
	if !ok || s == nil {
		return nil, errors.New("configuration not loaded")
	}
	return s, nil
}

// resolveApp builds the App on first use.
func resolveApp(cmd *cobra.Command) (*app.App, error) {
	s, err := resolveSession(cmd.Context())
	if err != nil {
		return nil, err
	}
	if s.app == nil {
		a, err := newApp(cmd.Context(), s.cfg, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize application services: %w", err)
		}
		s.app = a
	}
	return s.app, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
