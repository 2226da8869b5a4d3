package recovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// FailureAnalysis summarizes failure patterns over a time window so
// operators can see what keeps breaking and whether recovery is
// keeping up.
type FailureAnalysis struct {
	WorkflowID          string         `json:"workflow_id,omitempty"`
	WindowDays          int            `json:"window_days"`
	TotalFailures       int            `json:"total_failures"`
	FailuresByCategory  map[string]int `json:"failures_by_category"`
	FailuresByNode      map[string]int `json:"failures_by_node"`
	RecoveryAttempts    int            `json:"recovery_attempts"`
	RecoverySuccesses   int            `json:"recovery_successes"`
	RecoverySuccessRate float64        `json:"recovery_success_rate"`
	Recommendations     []string       `json:"recommendations"`
}

// failureCategories maps error-message keywords to categories, checked
// in order so the more specific buckets win.
var failureCategories = []struct {
	category string
	keywords []string
}{
	{"timeout", []string{"timeout", "timed out", "deadline exceeded"}},
	{"connection", []string{"connection", "refused", "unreachable", "broken pipe", "reset by peer"}},
	{"authentication", []string{"unauthorized", "forbidden", "authentication", "invalid credentials", "token expired"}},
	{"validation", []string{"validation", "invalid input", "missing required", "schema"}},
	{"resource", []string{"out of memory", "disk", "quota", "too many", "rate limit"}},
	{"external_api", []string{"api error", "bad gateway", "service unavailable", "502", "503", "504"}},
	{"data", []string{"not found", "duplicate", "constraint", "null value", "parse"}},
}

// categorizeError buckets an error message by keyword. Messages that
// match nothing land in "unknown".
func categorizeError(message string) string {
	lowered := strings.ToLower(message)

	for _, bucket := range failureCategories {
		for _, keyword := range bucket.keywords {
			if strings.Contains(lowered, keyword) {
				return bucket.category
			}
		}
	}

	return "unknown"
}

// AnalyzeFailures inspects failed executions and recovery logs within
// the window. An empty workflowID analyzes every workflow.
func (m *Manager) AnalyzeFailures(ctx context.Context, workflowID string, windowDays int) (*FailureAnalysis, error) {
	if windowDays <= 0 {
		windowDays = 7
	}

	since := m.now().UTC().AddDate(0, 0, -windowDays)

	failed, err := m.store.ExecutionRepository().FailedSince(ctx, workflowID, since)
	if err != nil {
		return nil, fmt.Errorf("list failed executions: %w", err)
	}

	analysis := &FailureAnalysis{
		WorkflowID:         workflowID,
		WindowDays:         windowDays,
		FailuresByCategory: make(map[string]int),
		FailuresByNode:     make(map[string]int),
	}

	for _, execution := range failed {
		analysis.TotalFailures++
		analysis.FailuresByCategory[categorizeError(execution.ErrorMessage)]++

		if execution.FailedNodeID != "" {
			analysis.FailuresByNode[execution.FailedNodeID]++
		}
	}

	logs, err := m.store.RecoveryRepository().LogsSince(ctx, workflowID, since)
	if err != nil {
		return nil, fmt.Errorf("list recovery logs: %w", err)
	}

	for _, log := range logs {
		analysis.RecoveryAttempts++

		if log.WasSuccessful != nil && *log.WasSuccessful {
			analysis.RecoverySuccesses++
		}
	}

	if analysis.RecoveryAttempts > 0 {
		analysis.RecoverySuccessRate = float64(analysis.RecoverySuccesses) / float64(analysis.RecoveryAttempts) * 100
	}

	analysis.Recommendations = m.recommend(analysis)

	return analysis, nil
}

// recommend derives operator guidance from the aggregated figures.
func (m *Manager) recommend(analysis *FailureAnalysis) []string {
	var recommendations []string

	if analysis.TotalFailures == 0 {
		return []string{"no failures in the analysis window"}
	}

	if analysis.RecoveryAttempts > 0 && analysis.RecoverySuccessRate < 30 {
		recommendations = append(recommendations,
			fmt.Sprintf("recovery success rate is %.1f%%, current strategies need refinement", analysis.RecoverySuccessRate))
	}

	if analysis.RecoveryAttempts == 0 {
		recommendations = append(recommendations,
			"failures occurred but no recovery was attempted, consider adding recovery strategies")
	}

	if count := analysis.FailuresByCategory["timeout"]; count > analysis.TotalFailures/2 {
		recommendations = append(recommendations,
			"most failures are timeouts, review node timeout settings or add retry strategies with backoff")
	}

	if count := analysis.FailuresByCategory["authentication"]; count > 0 {
		recommendations = append(recommendations,
			"authentication failures detected, check credential expiry for connected services")
	}

	if node, count := dominantNode(analysis.FailuresByNode); count > 1 && count >= analysis.TotalFailures/2 {
		recommendations = append(recommendations,
			fmt.Sprintf("node %s accounts for %d of %d failures, inspect its configuration", node, count, analysis.TotalFailures))
	}

	if len(recommendations) == 0 {
		recommendations = append(recommendations, "no dominant failure pattern, review individual recovery logs")
	}

	return recommendations
}

// dominantNode returns the node with the most failures; ties resolve
// to the lexicographically smallest ID so output stays stable.
func dominantNode(byNode map[string]int) (string, int) {
	nodes := make([]string, 0, len(byNode))
	for node := range byNode {
		nodes = append(nodes, node)
	}

	sort.Strings(nodes)

	bestNode, bestCount := "", 0

	for _, node := range nodes {
		if byNode[node] > bestCount {
			bestNode, bestCount = node, byNode[node]
		}
	}

	return bestNode, bestCount
}

// RecoveryTrendPoint is one day's recovery activity.
type RecoveryTrendPoint struct {
	Date      string  `json:"date"`
	Attempts  int     `json:"attempts"`
	Successes int     `json:"successes"`
	Rate      float64 `json:"rate"`
}

// RecoveryTrends buckets recovery attempts per day over the window,
// oldest first.
func (m *Manager) RecoveryTrends(ctx context.Context, workflowID string, windowDays int) ([]RecoveryTrendPoint, error) {
	if windowDays <= 0 {
		windowDays = 30
	}

	since := m.now().UTC().AddDate(0, 0, -windowDays)

	logs, err := m.store.RecoveryRepository().LogsSince(ctx, workflowID, since)
	if err != nil {
		return nil, fmt.Errorf("list recovery logs: %w", err)
	}

	byDay := make(map[string]*RecoveryTrendPoint)

	for _, log := range logs {
		day := log.StartedAt.UTC().Format(time.DateOnly)

		point, ok := byDay[day]
		if !ok {
			point = &RecoveryTrendPoint{Date: day}
			byDay[day] = point
		}

		point.Attempts++

		if log.WasSuccessful != nil && *log.WasSuccessful {
			point.Successes++
		}
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}

	sort.Strings(days)

	trends := make([]RecoveryTrendPoint, 0, len(days))

	for _, day := range days {
		point := byDay[day]
		if point.Attempts > 0 {
			point.Rate = float64(point.Successes) / float64(point.Attempts) * 100
		}

		trends = append(trends, *point)
	}

	return trends, nil
}
