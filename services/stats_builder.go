package services

import (
	"sort"
	"time"

	"nodewatch/models"
	"nodewatch/utils"
)

// BuildNodesStats counts the final node set by role bitmask, version and
// reward program.
func BuildNodesStats(nodes []*models.Node, now time.Time) *models.NodesStats {
	stats := &models.NodesStats{
		NodeTypes:      make(map[string]int),
		NodeVersions:   make(map[string]int),
		RewardPrograms: make(map[string]int),
		UpdatedAt:      now,
	}

	for _, n := range nodes {
		stats.Total++
		stats.NodeTypes[n.Roles.Key()]++

		if v := utils.FormatNodeVersion(n.Version); v != "" {
			stats.NodeVersions[v]++
		}
		for _, p := range n.RewardPrograms {
			if p.Name != "" {
				stats.RewardPrograms[p.Name]++
			}
		}
		if utils.IsAvailable(n) {
			stats.Available++
		}
	}

	return stats
}

// BuildNodeHeightStats groups Api nodes that reported chain info by height
// and by finalized height. Highest heights come first.
func BuildNodeHeightStats(nodes []*models.Node, now time.Time) *models.NodeHeightStats {
	heights := make(map[uint64]int)
	finalized := make(map[uint64]int)

	for _, n := range nodes {
		if n.APIStatus == nil || n.APIStatus.ChainHeight == 0 {
			continue
		}
		heights[n.APIStatus.ChainHeight]++
		if n.APIStatus.Finalization != nil {
			finalized[n.APIStatus.Finalization.Height]++
		}
	}

	return &models.NodeHeightStats{
		Height:          heightCounts(heights),
		FinalizedHeight: heightCounts(finalized),
		Date:            now,
	}
}

func heightCounts(m map[uint64]int) []models.HeightCount {
	out := make([]models.HeightCount, 0, len(m))
	for value, count := range m {
		out = append(out, models.HeightCount{Value: value, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Value > out[j].Value
	})
	return out
}

// NodeCountPoint is the per-cycle sample of the node-count series: one value
// per role bitmask plus the total.
func NodeCountPoint(stats *models.NodesStats, now time.Time) models.TimeSeriesPoint {
	values := make(map[string]float64, len(stats.NodeTypes)+1)
	for roles, count := range stats.NodeTypes {
		values[roles] = float64(count)
	}
	values["total"] = float64(stats.Total)
	return models.TimeSeriesPoint{Date: now, Values: values}
}
