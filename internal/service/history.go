package service

import (
	"fmt"
	"math"

	"github.com/Strob0t/RunForge/internal/domain/history"
)

// DefaultDenseThreshold is the event count past which a heavy history
// prefers the vendor's stored conversation over replay.
const DefaultDenseThreshold = 500

// HistoryPlanner decides whether a run replays recorded events into the
// prompt or leans on the provider's conversation, trimming replayed events
// down to the context window when needed.
type HistoryPlanner struct {
	contextWindowTokens int
	denseThreshold      int
}

// NewHistoryPlanner creates a planner for the given context window.
// A non-positive denseThreshold falls back to the default.
func NewHistoryPlanner(contextWindowTokens, denseThreshold int) *HistoryPlanner {
	if denseThreshold <= 0 {
		denseThreshold = DefaultDenseThreshold
	}
	return &HistoryPlanner{
		contextWindowTokens: contextWindowTokens,
		denseThreshold:      denseThreshold,
	}
}

// Plan fixes the history strategy for one run.
func (p *HistoryPlanner) Plan(in history.PlanInput) history.Plan {
	window := p.contextWindowTokens

	if in.Truncation == history.TruncationDisabled && in.EstimatedTokens > window {
		return history.Plan{
			Strategy: history.StrategyVendor,
			Warnings: []string{fmt.Sprintf(
				"Truncation disabled and estimated %d tokens exceed the %d-token context window; deferring to vendor conversation state.",
				in.EstimatedTokens, window)},
		}
	}

	if in.Preference != history.PreferReplay &&
		in.EventCount >= p.denseThreshold &&
		float64(in.EstimatedTokens) > 0.6*float64(window) {
		return history.Plan{Strategy: history.StrategyVendor}
	}

	plan := history.Plan{Strategy: history.StrategyReplay}
	if in.EstimatedTokens > window {
		perEvent := float64(in.EstimatedTokens) / math.Max(float64(in.EventCount), 1)
		excess := float64(in.EstimatedTokens - window)
		trimmed := int(math.Ceil(excess / perEvent))
		if trimmed > in.EventCount {
			trimmed = in.EventCount
		}
		plan.TrimmedEvents = trimmed
		plan.Warnings = append(plan.Warnings, fmt.Sprintf(
			"Trimmed %d of %d replayed events to fit the %d-token context window.",
			trimmed, in.EventCount, window))
	}
	return plan
}
