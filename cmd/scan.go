package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
	"github.com/JakeFAU/brand-monitor/internal/orchestrator"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Start, stop, inspect or unlock scans",
	}
	cmd.AddCommand(newScanStartCmd(), newScanStopCmd(), newScanStatusCmd(), newScanResetCmd())
	return cmd
}

func newScanStartCmd() *cobra.Command {
	var (
		projectID string
		from, to  string
		run       bool
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Create a scan with one job per keyword and source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := orchestrator.StartOptions{Trigger: monitor.TriggerManual}
			var err error
			if opts.DateFrom, err = parseDate(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if opts.DateTo, err = parseDate(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			a, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			scan, err := a.Orchestrator.StartScan(cmd.Context(), projectID, opts)
			if err != nil {
				return err
			}
			if !run {
				return printJSON(cmd, scan)
			}
			loop := a.Pool.Run(cmd.Context())
			status, err := a.Orchestrator.Status(cmd.Context(), scan.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"loop": loop, "status": status})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&from, "from", "", "earliest publication date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "latest publication date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&run, "run", false, "process the queue until drained or the budget runs out")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newScanStopCmd() *cobra.Command {
	var scanID string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Fail every unfinished job of a running scan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			scan, err := a.Orchestrator.StopScan(cmd.Context(), scanID)
			if err != nil {
				return err
			}
			return printJSON(cmd, scan)
		},
	}
	cmd.Flags().StringVar(&scanID, "scan", "", "scan id")
	_ = cmd.MarkFlagRequired("scan")
	return cmd
}

func newScanStatusCmd() *cobra.Command {
	var scanID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show scan progress and job counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			status, err := a.Orchestrator.Status(cmd.Context(), scanID)
			if err != nil {
				return err
			}
			return printJSON(cmd, status)
		},
	}
	cmd.Flags().StringVar(&scanID, "scan", "", "scan id")
	_ = cmd.MarkFlagRequired("scan")
	return cmd
}

func newScanResetCmd() *cobra.Command {
	var scanID string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Return a running scan's processing jobs to pending",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			status, err := a.Orchestrator.ResetStuckScan(cmd.Context(), scanID)
			if err != nil {
				return err
			}
			return printJSON(cmd, status)
		},
	}
	cmd.Flags().StringVar(&scanID, "scan", "", "scan id")
	_ = cmd.MarkFlagRequired("scan")
	return cmd
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", s, err)
	}
	return &t, nil
}
