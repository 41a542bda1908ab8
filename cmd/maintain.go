package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/brand-monitor/internal/app"
	"github.com/JakeFAU/brand-monitor/internal/driver"
)

var errNoAI = errors.New("ai.api_key is required for this maintenance action")

func newMaintainCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run maintenance agents for a project",
	}
	cmd.PersistentFlags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkPersistentFlagRequired("project")

	var scanID string
	filter := &cobra.Command{
		Use:   "filter",
		Short: "Classify unevaluated results until none remain or the budget runs out",
		RunE: withAI(func(cmd *cobra.Command, a *app.App) (any, error) {
			deadline := time.Now().Add(a.Config.Driver.Budget)
			return driver.DrainFilter(cmd.Context(), a.Filter, projectID, scanID, deadline, time.Now)
		}),
	}
	filter.Flags().StringVar(&scanID, "scan", "", "limit to one scan")

	var resetScanID string
	filterReset := &cobra.Command{
		Use:   "filter-reset",
		Short: "Clear recorded relevance verdicts so results are evaluated again",
		RunE: withAI(func(cmd *cobra.Command, a *app.App) (any, error) {
			n, err := a.Filter.Reset(cmd.Context(), projectID, resetScanID)
			return map[string]int{"reset": n}, err
		}),
	}
	filterReset.Flags().StringVar(&resetScanID, "scan", "", "limit to one scan")

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete results flagged off-topic and rebuild tags",
		RunE: withAI(func(cmd *cobra.Command, a *app.App) (any, error) {
			n, err := a.Filter.PurgeOffTopic(cmd.Context(), projectID)
			return map[string]int{"deleted": n}, err
		}),
	}

	normalize := &cobra.Command{
		Use:   "normalize",
		Short: "Merge duplicate tags",
		RunE: withAI(func(cmd *cobra.Command, a *app.App) (any, error) {
			return a.Normalizer.Run(cmd.Context(), projectID)
		}),
	}

	briefing := &cobra.Command{
		Use:   "briefing",
		Short: "Regenerate the executive briefing on the latest completed scan",
		RunE: withAI(func(cmd *cobra.Command, a *app.App) (any, error) {
			text, err := a.Briefing.Regenerate(cmd.Context(), projectID)
			return map[string]*string{"briefing": text}, err
		}),
	}

	var tag string
	blacklist := &cobra.Command{
		Use:   "blacklist",
		Short: "Ban a tag and delete every result carrying it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			res, err := a.Blacklister.BlacklistTag(cmd.Context(), projectID, tag)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	blacklist.Flags().StringVar(&tag, "tag", "", "tag name")
	_ = blacklist.MarkFlagRequired("tag")

	cmd.AddCommand(filter, filterReset, purge, normalize, briefing, blacklist)
	return cmd
}

// withAI adapts an action that needs the AI maintenance agents.
func withAI(fn func(cmd *cobra.Command, a *app.App) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := resolveApp(cmd)
		if err != nil {
			return err
		}
		if a.Filter == nil {
			return errNoAI
		}
		out, err := fn(cmd, a)
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	}
}
