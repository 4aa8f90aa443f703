// Package ratelimit defines parsed provider rate-limit telemetry and the
// per-tenant summaries derived from it.
package ratelimit

import (
	"strconv"
	"strings"
	"time"
)

// Provider header names recognized by FromHeaders.
const (
	HeaderLimitRequests     = "x-ratelimit-limit-requests"
	HeaderRemainingRequests = "x-ratelimit-remaining-requests"
	HeaderResetRequests     = "x-ratelimit-reset-requests"
	HeaderLimitTokens       = "x-ratelimit-limit-tokens"
	HeaderRemainingTokens   = "x-ratelimit-remaining-tokens"
	HeaderResetTokens       = "x-ratelimit-reset-tokens"
	HeaderProcessingMS      = "openai-processing-ms"
	HeaderRequestID         = "x-request-id"
)

// Alert tags attached to tenant summaries when headroom drops to 10% or less.
const (
	AlertRequests = "requests"
	AlertTokens   = "tokens"
)

// Snapshot is one observation of the provider's rate-limit headers.
// Absent headers stay nil.
type Snapshot struct {
	LimitRequests     *int64    `json:"limit_requests,omitempty"`
	RemainingRequests *int64    `json:"remaining_requests,omitempty"`
	ResetRequestsSec  *int64    `json:"reset_requests_sec,omitempty"`
	LimitTokens       *int64    `json:"limit_tokens,omitempty"`
	RemainingTokens   *int64    `json:"remaining_tokens,omitempty"`
	ResetTokensSec    *int64    `json:"reset_tokens_sec,omitempty"`
	ProcessingMS      *int64    `json:"processing_ms,omitempty"`
	RequestID         string    `json:"request_id,omitempty"`
	TenantID          string    `json:"tenant_id,omitempty"`
	ObservedAt        time.Time `json:"observed_at"`
}

// TenantSummary aggregates a tenant's rolling snapshot history.
type TenantSummary struct {
	TenantID             string   `json:"tenant_id"`
	Latest               Snapshot `json:"latest"`
	MeanProcessingMS     *float64 `json:"mean_processing_ms,omitempty"`
	RemainingRequestsPct *float64 `json:"remaining_requests_pct,omitempty"`
	RemainingTokensPct   *float64 `json:"remaining_tokens_pct,omitempty"`
	Alert                string   `json:"alert,omitempty"`
}

// FromHeaders parses provider response headers into a snapshot. Header name
// matching is case-insensitive; unparsable values are treated as absent.
func FromHeaders(headers map[string]string) Snapshot {
	lower := make(map[string]string, len(headers))
	for k, v := range headers {
		lower[strings.ToLower(k)] = v
	}
	return Snapshot{
		LimitRequests:     parseInt(lower[HeaderLimitRequests]),
		RemainingRequests: parseInt(lower[HeaderRemainingRequests]),
		ResetRequestsSec:  parseInt(lower[HeaderResetRequests]),
		LimitTokens:       parseInt(lower[HeaderLimitTokens]),
		RemainingTokens:   parseInt(lower[HeaderRemainingTokens]),
		ResetTokensSec:    parseInt(lower[HeaderResetTokens]),
		ProcessingMS:      parseInt(lower[HeaderProcessingMS]),
		RequestID:         lower[HeaderRequestID],
	}
}

func parseInt(s string) *int64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
