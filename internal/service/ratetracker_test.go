package service_test

import (
	"fmt"
	"testing"

	"github.com/Strob0t/RunForge/internal/domain/ratelimit"
	"github.com/Strob0t/RunForge/internal/port/provider"
	"github.com/Strob0t/RunForge/internal/service"
)

func TestRateTrackerCapture(t *testing.T) {
	tracker := service.NewRateTracker()

	snap := tracker.Capture(provider.Headers{
		"X-RateLimit-Limit-Requests":     "10000",
		"x-ratelimit-remaining-requests": "9999",
		"x-ratelimit-limit-tokens":       "2000000",
		"x-ratelimit-remaining-tokens":   "1999970",
		"openai-processing-ms":           "120",
		"x-request-id":                   "req_abc",
	}, "acme")

	if snap.LimitRequests == nil || *snap.LimitRequests != 10000 {
		t.Errorf("LimitRequests = %v, header matching must be case-insensitive", snap.LimitRequests)
	}
	if snap.RequestID != "req_abc" {
		t.Errorf("RequestID = %q", snap.RequestID)
	}
	if snap.TenantID != "acme" {
		t.Errorf("TenantID = %q", snap.TenantID)
	}

	last := tracker.Last()
	if last == nil || last.RequestID != "req_abc" {
		t.Fatalf("Last = %+v", last)
	}

	// Malformed numbers are treated as absent, never an error.
	snap = tracker.Capture(provider.Headers{"x-ratelimit-limit-requests": "not-a-number"}, "acme")
	if snap.LimitRequests != nil {
		t.Errorf("unparsable header must stay nil, got %v", *snap.LimitRequests)
	}
}

func TestRateTrackerHistoryWindow(t *testing.T) {
	tracker := service.NewRateTracker()
	for i := 0; i < 60; i++ {
		tracker.Capture(provider.Headers{
			"openai-processing-ms": fmt.Sprintf("%d", 100+i),
		}, "acme")
	}

	summaries := tracker.TenantSummaries()
	if len(summaries) != 1 {
		t.Fatalf("summary count = %d, want 1", len(summaries))
	}
	s := summaries[0]
	if s.Latest.ProcessingMS == nil || *s.Latest.ProcessingMS != 159 {
		t.Errorf("latest snapshot = %+v, want processing ms 159", s.Latest)
	}
	// Window of 50 keeps observations 110..159; their mean is 134.5.
	if s.MeanProcessingMS == nil || *s.MeanProcessingMS != 134.5 {
		t.Errorf("MeanProcessingMS = %v, want 134.5", s.MeanProcessingMS)
	}
}

func TestRateTrackerAlerts(t *testing.T) {
	tracker := service.NewRateTracker()

	tracker.Capture(provider.Headers{
		"x-ratelimit-limit-requests":     "100",
		"x-ratelimit-remaining-requests": "10",
	}, "low-requests")
	tracker.Capture(provider.Headers{
		"x-ratelimit-limit-requests":     "100",
		"x-ratelimit-remaining-requests": "50",
		"x-ratelimit-limit-tokens":       "1000",
		"x-ratelimit-remaining-tokens":   "40",
	}, "low-tokens")
	tracker.Capture(provider.Headers{
		"x-ratelimit-limit-requests":     "100",
		"x-ratelimit-remaining-requests": "90",
	}, "healthy")

	byTenant := map[string]ratelimit.TenantSummary{}
	for _, s := range tracker.TenantSummaries() {
		byTenant[s.TenantID] = s
	}

	if got := byTenant["low-requests"].Alert; got != ratelimit.AlertRequests {
		t.Errorf("low-requests alert = %q, want %q", got, ratelimit.AlertRequests)
	}
	if got := byTenant["low-tokens"].Alert; got != ratelimit.AlertTokens {
		t.Errorf("low-tokens alert = %q, want %q", got, ratelimit.AlertTokens)
	}
	if got := byTenant["healthy"].Alert; got != "" {
		t.Errorf("healthy alert = %q, want none", got)
	}
}
