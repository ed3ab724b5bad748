// Package analysis summarizes persisted sessions and battery samples into
// analysis reports.
package analysis

import (
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
)

// TopAppsLimit bounds the topApps list of a report.
const TopAppsLimit = 10

// AppUsage is one package's summed foreground time.
type AppUsage struct {
	PackageName string `json:"packageName"`
	DurationMs  int64  `json:"durationMs"`
}

// Metrics is the payload stored in AnalysisReport.MetricsJSON.
type Metrics struct {
	TotalDurationMs int64      `json:"totalDurationMs"`
	SessionCount    int        `json:"sessionCount"`
	UniqueApps      int        `json:"uniqueApps"`
	BatteryDrain    int        `json:"batteryDrain"`
	TopApps         []AppUsage `json:"topApps"`

	AverageSessionMs    float64  `json:"averageSessionMs"`
	MedianSessionMs     float64  `json:"medianSessionMs"`
	AverageBatteryLevel *float64 `json:"averageBatteryLevel"`
}

// ComputeMetrics aggregates sessions and battery samples. samples must be
// ordered newest first; batteryDrain is newest minus oldest and keeps its
// sign.
func ComputeMetrics(sessions []collector.Session, samples []collector.BatterySample) Metrics {
	m := Metrics{
		SessionCount: len(sessions),
		TopApps:      []AppUsage{},
	}

	byApp := make(map[string]int)
	durations := make(stats.Float64Data, 0, len(sessions))
	for _, s := range sessions {
		m.TotalDurationMs += s.DurationMs
		durations = append(durations, float64(s.DurationMs))
		i, ok := byApp[s.PackageName]
		if !ok {
			i = len(m.TopApps)
			byApp[s.PackageName] = i
			m.TopApps = append(m.TopApps, AppUsage{PackageName: s.PackageName})
		}
		m.TopApps[i].DurationMs += s.DurationMs
	}
	m.UniqueApps = len(m.TopApps)

	// Stable keeps first-encountered order among equal totals.
	sort.SliceStable(m.TopApps, func(i, j int) bool {
		return m.TopApps[i].DurationMs > m.TopApps[j].DurationMs
	})
	if len(m.TopApps) > TopAppsLimit {
		m.TopApps = m.TopApps[:TopAppsLimit]
	}

	// Both return NaN on empty input, which JSON cannot encode.
	if len(durations) > 0 {
		m.AverageSessionMs, _ = durations.Mean()
		m.MedianSessionMs, _ = durations.Median()
	}

	if len(samples) > 0 {
		m.BatteryDrain = samples[0].LevelPercent - samples[len(samples)-1].LevelPercent
	}
	var levels stats.Float64Data
	for _, s := range samples {
		if s.LevelPercent >= 0 {
			levels = append(levels, float64(s.LevelPercent))
		}
	}
	if avg, err := levels.Mean(); err == nil {
		m.AverageBatteryLevel = &avg
	}
	return m
}
