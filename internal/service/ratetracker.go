package service

import (
	"sort"
	"sync"

	"github.com/Strob0t/RunForge/internal/domain"
	"github.com/Strob0t/RunForge/internal/domain/ratelimit"
	"github.com/Strob0t/RunForge/internal/port/provider"
)

// historyWindow caps the rolling per-tenant snapshot history.
const historyWindow = 50

// alertThreshold is the remaining-capacity fraction below which a tenant
// summary carries an alert tag.
const alertThreshold = 0.1

// RateTracker parses provider rate-limit headers and keeps a rolling
// per-tenant history. One capture happens per provider response, so a
// single lock guards everything.
type RateTracker struct {
	mu      sync.Mutex
	last    *ratelimit.Snapshot
	tenants map[string][]ratelimit.Snapshot
}

// NewRateTracker creates an empty tracker.
func NewRateTracker() *RateTracker {
	return &RateTracker{tenants: make(map[string][]ratelimit.Snapshot)}
}

// Capture parses headers into a snapshot, stores it as the global last
// observation and appends it to the tenant's rolling history.
func (t *RateTracker) Capture(headers provider.Headers, tenantID string) ratelimit.Snapshot {
	snap := ratelimit.FromHeaders(headers)
	snap.TenantID = tenantID
	snap.ObservedAt = domain.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = &snap
	if tenantID != "" {
		history := append(t.tenants[tenantID], snap)
		if len(history) > historyWindow {
			history = history[len(history)-historyWindow:]
		}
		t.tenants[tenantID] = history
	}
	return snap
}

// Last returns the most recent snapshot across all tenants, or nil.
func (t *RateTracker) Last() *ratelimit.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return nil
	}
	snap := *t.last
	return &snap
}

// TenantSummaries aggregates each tenant's history: latest snapshot, mean
// processing time and remaining-capacity fractions, tagged with an alert
// when requests or tokens headroom drops to 10% or less. Sorted by tenant
// id ascending.
func (t *RateTracker) TenantSummaries() []ratelimit.TenantSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ratelimit.TenantSummary, 0, len(t.tenants))
	for tenantID, history := range t.tenants {
		if len(history) == 0 {
			continue
		}
		latest := history[len(history)-1]
		summary := ratelimit.TenantSummary{TenantID: tenantID, Latest: latest}

		var msSum float64
		var msCount int
		for _, snap := range history {
			if snap.ProcessingMS != nil {
				msSum += float64(*snap.ProcessingMS)
				msCount++
			}
		}
		if msCount > 0 {
			mean := msSum / float64(msCount)
			summary.MeanProcessingMS = &mean
		}

		summary.RemainingRequestsPct = pct(latest.RemainingRequests, latest.LimitRequests)
		summary.RemainingTokensPct = pct(latest.RemainingTokens, latest.LimitTokens)

		switch {
		case summary.RemainingRequestsPct != nil && *summary.RemainingRequestsPct <= alertThreshold:
			summary.Alert = ratelimit.AlertRequests
		case summary.RemainingTokensPct != nil && *summary.RemainingTokensPct <= alertThreshold:
			summary.Alert = ratelimit.AlertTokens
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

func pct(remaining, limit *int64) *float64 {
	if remaining == nil || limit == nil || *limit == 0 {
		return nil
	}
	v := float64(*remaining) / float64(*limit)
	return &v
}
