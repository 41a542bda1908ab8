package maintenance

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

const defaultTopThemes = 10

// BriefingStore is the persistence used by Briefing.
type BriefingStore interface {
	monitor.ProjectStore
	monitor.StatsStore
	ListScans(ctx context.Context, filter monitor.ScanFilter) ([]monitor.Scan, error)
	SaveBriefing(ctx context.Context, scanID, text string) error
}

// Briefing writes the comparative narrative of the two latest completed scans.
type Briefing struct {
	store     BriefingStore
	narrator  monitor.Narrator
	topThemes int
	logger    *zap.Logger
}

// NewBriefing constructs a Briefing generator.
func NewBriefing(store BriefingStore, narrator monitor.Narrator, topThemes int, logger *zap.Logger) (*Briefing, error) {
	if store == nil || narrator == nil {
		return nil, errors.New("briefing requires a store and a narrator")
	}
	if topThemes <= 0 {
		topThemes = defaultTopThemes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Briefing{store: store, narrator: narrator, topThemes: topThemes, logger: logger.Named("briefing")}, nil
}

// Regenerate builds and stores the briefing on the latest completed scan.
// It returns nil without error while the project has fewer than two
// completed scans.
func (b *Briefing) Regenerate(ctx context.Context, projectID string) (*string, error) {
	scans, err := b.store.ListScans(ctx, monitor.ScanFilter{
		ProjectID: projectID,
		Status:    monitor.ScanStatusCompleted,
		Limit:     2,
	})
	if err != nil {
		return nil, fmt.Errorf("list completed scans: %w", err)
	}
	if len(scans) < 2 {
		return nil, nil
	}
	project, err := b.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	current, err := b.store.ScanStats(ctx, scans[0].ID, b.topThemes)
	if err != nil {
		return nil, fmt.Errorf("stats for scan %s: %w", scans[0].ID, err)
	}
	previous, err := b.store.ScanStats(ctx, scans[1].ID, b.topThemes)
	if err != nil {
		return nil, fmt.Errorf("stats for scan %s: %w", scans[1].ID, err)
	}
	text, err := b.narrator.Summarize(ctx, current, previous, project.Context())
	if err != nil {
		return nil, fmt.Errorf("summarize scans: %w", err)
	}
	if err := b.store.SaveBriefing(ctx, scans[0].ID, text); err != nil {
		return nil, fmt.Errorf("save briefing: %w", err)
	}
	b.logger.Info("briefing saved",
		zap.String("project_id", projectID),
		zap.String("scan_id", scans[0].ID),
		zap.String("previous_scan_id", scans[1].ID),
	)
	return &text, nil
}
