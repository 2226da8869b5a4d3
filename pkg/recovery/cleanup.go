package recovery

import (
	"context"
	"fmt"
)

// CleanupReport summarizes one cleanup pass over expired checkpoints.
type CleanupReport struct {
	Examined       int   `json:"examined"`
	Deleted        int   `json:"deleted"`
	KeptMilestones int   `json:"kept_milestones"`
	FreedBytes     int64 `json:"freed_bytes"`
	DryRun         bool  `json:"dry_run"`
}

// CleanupExpiredCheckpoints removes checkpoints past their retention
// window. Milestone checkpoints are never deleted. With dryRun the
// report describes what would be removed without touching anything.
func (m *Manager) CleanupExpiredCheckpoints(ctx context.Context, dryRun bool) (*CleanupReport, error) {
	now := m.now()

	candidates, err := m.store.CheckpointRepository().OlderThan(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	report := &CleanupReport{DryRun: dryRun}

	for _, checkpoint := range candidates {
		if !checkpoint.IsExpired(now) {
			continue
		}

		report.Examined++

		if checkpoint.IsMilestone {
			report.KeptMilestones++

			continue
		}

		if !dryRun {
			if err := m.store.CheckpointRepository().Delete(ctx, checkpoint.ID); err != nil {
				return report, fmt.Errorf("delete checkpoint %s: %w", checkpoint.ID, err)
			}
		}

		report.Deleted++
		report.FreedBytes += int64(checkpoint.SizeBytes)
	}

	m.logger.Info("Checkpoint cleanup finished",
		"examined", report.Examined,
		"deleted", report.Deleted,
		"freed_bytes", report.FreedBytes,
		"dry_run", dryRun)

	return report, nil
}
