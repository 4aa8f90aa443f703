// Package history defines the replay-vs-vendor planning types for prompt
// history reconstruction.
package history

// Strategy selects how a run's prompt history is supplied.
type Strategy string

const (
	// StrategyVendor relies on the provider's stored conversation.
	StrategyVendor Strategy = "vendor"
	// StrategyReplay rebuilds the prompt from recorded events.
	StrategyReplay Strategy = "replay"
)

// Truncation modes accepted by the planner.
const (
	TruncationDisabled = "disabled"
	TruncationAuto     = "auto"
)

// PreferReplay asks the planner to keep replaying even on dense histories.
const PreferReplay = "prefer_replay"

// PlanInput describes the history the caller wants to carry into a run.
type PlanInput struct {
	EstimatedTokens int    `json:"estimated_tokens"`
	EventCount      int    `json:"event_count"`
	Truncation      string `json:"truncation,omitempty"`
	Preference      string `json:"preference,omitempty"`
}

// Plan is the planner's decision: which strategy to use and how many events
// were trimmed to fit the context window.
type Plan struct {
	Strategy      Strategy `json:"strategy"`
	TrimmedEvents int      `json:"trimmed_events"`
	Warnings      []string `json:"warnings,omitempty"`
}
