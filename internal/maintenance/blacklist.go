package maintenance

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

// BlacklistResult reports a blacklist action.
type BlacklistResult struct {
	Name           string `json:"name"`
	ResultsDeleted int    `json:"results_deleted"`
}

// Blacklister bans tag names and removes the results that carried them.
type Blacklister struct {
	store  TagStore
	clock  monitor.Clock
	logger *zap.Logger
}

// NewBlacklister constructs a Blacklister.
func NewBlacklister(store TagStore, clock monitor.Clock, logger *zap.Logger) (*Blacklister, error) {
	if store == nil || clock == nil {
		return nil, errors.New("blacklister requires a store and a clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Blacklister{store: store, clock: clock, logger: logger.Named("blacklist")}, nil
}

// BlacklistTag records the ban, deletes every result whose analysis carries
// the theme and rebuilds the project's tag aggregate. Re-running it is harmless.
func (b *Blacklister) BlacklistTag(ctx context.Context, projectID, name string) (BlacklistResult, error) {
	theme := monitor.NormalizeTheme(name)
	if theme == "" {
		return BlacklistResult{}, fmt.Errorf("tag name is required: %w", monitor.ErrInvalidArgument)
	}
	if _, err := b.store.GetProject(ctx, projectID); err != nil {
		return BlacklistResult{}, fmt.Errorf("load project: %w", err)
	}
	if err := b.store.AddBlacklist(ctx, monitor.TagBlacklist{
		ProjectID: projectID,
		Name:      theme,
		CreatedAt: b.clock.Now(),
	}); err != nil {
		return BlacklistResult{}, fmt.Errorf("add blacklist: %w", err)
	}
	n, err := b.store.DeleteResultsWithTheme(ctx, projectID, theme)
	if err != nil {
		return BlacklistResult{}, fmt.Errorf("delete results with theme: %w", err)
	}
	if err := b.store.RebuildTags(ctx, projectID); err != nil {
		return BlacklistResult{}, fmt.Errorf("rebuild tags: %w", err)
	}
	b.logger.Info("tag blacklisted", zap.String("project_id", projectID), zap.String("tag", theme), zap.Int("results_deleted", n))
	return BlacklistResult{Name: theme, ResultsDeleted: n}, nil
}
