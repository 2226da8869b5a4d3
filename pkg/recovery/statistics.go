package recovery

import (
	"context"
	"fmt"

	"github.com/cadenzahq/cadenza/pkg/models"
)

// CheckpointStatistics aggregates checkpoint storage figures for one
// execution.
func (m *Manager) CheckpointStatistics(ctx context.Context, executionID string) (*models.CheckpointStatistics, error) {
	checkpoints, err := m.store.CheckpointRepository().ByExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	stats := &models.CheckpointStatistics{
		CountByType: make(map[string]int),
	}

	for _, checkpoint := range checkpoints {
		stats.TotalCount++
		stats.TotalSizeBytes += int64(checkpoint.SizeBytes)
		stats.CountByType[string(checkpoint.CheckpointType)]++

		if checkpoint.IsRecoverable {
			stats.RecoverableCount++
		}

		if checkpoint.IsMilestone {
			stats.MilestoneCount++
		}

		created := checkpoint.CreatedAt

		if stats.OldestCreatedAt == nil || created.Before(*stats.OldestCreatedAt) {
			oldest := created
			stats.OldestCreatedAt = &oldest
		}

		if stats.NewestCreatedAt == nil || created.After(*stats.NewestCreatedAt) {
			newest := created
			stats.NewestCreatedAt = &newest
		}
	}

	return stats, nil
}
