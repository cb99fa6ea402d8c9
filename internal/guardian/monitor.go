package guardian

import (
	"context"
	"strconv"
	"time"
)

// Hot-spot thresholds for the background monitor.
const (
	hotSpotWindow        = time.Hour
	hotSpotViolationRate = 10  // violations per window before flagging
	hotSpotSourceRepeat  = 5   // repeats from one component before flagging
	lowComplianceFloor   = 0.8 // aggregate score below this raises a flag
)

// RunMonitor drives the background compliance loops until ctx is cancelled.
// It is optional; the synchronous review path works without it.
func (g *Guardian) RunMonitor(ctx context.Context) error {
	g.logger.Info("compliance monitor started",
		"monitor_interval", g.monitorInterval, "assessment_interval", g.assessmentInterval)

	monitor := time.NewTicker(g.monitorInterval)
	defer monitor.Stop()
	assess := time.NewTicker(g.assessmentInterval)
	defer assess.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("compliance monitor stopped")
			return ctx.Err()
		case <-monitor.C:
			g.mu.Lock()
			g.metrics.MonitoringUptime = time.Since(g.startedAt).Seconds()
			g.mu.Unlock()
			g.analyzeViolationPatterns(ctx)
		case <-assess.C:
			g.assess(ctx)
		}
	}
}

// analyzeViolationPatterns looks for systemic issues: a burst of violations
// in the rolling window, or one component repeatedly producing them. Derived
// system violations skip re-analysis to avoid feedback loops.
func (g *Guardian) analyzeViolationPatterns(ctx context.Context) {
	recent := g.RecentViolations(hotSpotWindow)

	nonSystem := 0
	sources := make(map[string]int)
	for _, v := range recent {
		if v.Type == ViolationSystem {
			continue
		}
		nonSystem++
		sources[v.SourceComponent]++
	}

	if nonSystem > hotSpotViolationRate {
		g.ReportViolation(ctx, ViolationSystem, SeverityHigh, "System Stability",
			"high violation rate in the last hour", "guardian_monitor", "",
			map[string]string{"violation_count": strconv.Itoa(nonSystem)})
	}
	for source, count := range sources {
		if count >= hotSpotSourceRepeat {
			g.ReportViolation(ctx, ViolationSystem, SeverityMedium, "Component Reliability",
				"component repeatedly generating violations", "guardian_monitor", "",
				map[string]string{"problematic_component": source, "violation_count": strconv.Itoa(count)})
		}
	}
}

// assess recomputes the aggregate score and flags sustained low compliance.
func (g *Guardian) assess(ctx context.Context) {
	g.mu.Lock()
	g.updateScoresLocked()
	score := g.metrics.ComplianceScore
	g.mu.Unlock()

	switch {
	case score < lowComplianceFloor:
		g.logger.Warn("low compliance score", "score", score)
		g.ReportViolation(ctx, ViolationSystem, SeverityMedium, "Overall Compliance",
			"system compliance score below threshold", "guardian_monitor", "",
			map[string]string{"compliance_score": strconv.FormatFloat(score, 'f', 2, 64)})
	case score > 0.95:
		g.logger.Debug("compliance assessment", "score", score)
	default:
		g.logger.Info("compliance assessment", "score", score)
	}
}
