// Package conversation defines the conversation continuity policy and the
// negotiated per-run conversation context.
package conversation

import "context"

// Strategy selects where conversation state lives between runs.
type Strategy string

const (
	// StrategyVendor keeps the thread on the upstream provider and reuses
	// its conversation id across runs for the tenant.
	StrategyVendor Strategy = "vendor"
	// StrategyStateless retains no continuity between runs.
	StrategyStateless Strategy = "stateless"
)

// Policy fixes the continuity strategy for a run.
type Policy struct {
	Strategy   Strategy `json:"strategy"`
	TTLSeconds int      `json:"ttl_seconds,omitempty"`
}

// Context is the negotiated conversation state handed to the provider
// request builder. Cleanup, when non-nil, drops the tenant's stored mapping.
type Context struct {
	ConversationID     string                          `json:"conversation_id,omitempty"`
	StoreFlag          bool                            `json:"store_flag"`
	PreviousResponseID string                          `json:"previous_response_id,omitempty"`
	Cleanup            func(ctx context.Context) error `json:"-"`
}
