package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"

	"github.com/Strob0t/RunForge/internal/domain"
	"github.com/Strob0t/RunForge/internal/domain/conversation"
	"github.com/Strob0t/RunForge/internal/domain/incident"
	"github.com/Strob0t/RunForge/internal/domain/ratelimit"
	"github.com/Strob0t/RunForge/internal/domain/run"
	"github.com/Strob0t/RunForge/internal/domain/safety"
	"github.com/Strob0t/RunForge/internal/port/archive"
)

const summaryCacheKey = "summary"

// defaultCostPer1K is the assumed blended price per thousand tokens when the
// operator configures nothing.
const defaultCostPer1K = 0.002

// RunDigest is one row of the summary's recent-run listing.
type RunDigest struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	Model       string    `json:"model"`
	TenantID    string    `json:"tenant_id"`
	TotalTokens int64     `json:"total_tokens"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TenantRollup aggregates one tenant's activity.
type TenantRollup struct {
	TenantID      string     `json:"tenant_id"`
	Runs          int        `json:"runs"`
	TotalTokens   int64      `json:"total_tokens"`
	Refusals      int        `json:"refusals"`
	EstimatedCost float64    `json:"estimated_cost"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	Regions       []string   `json:"regions,omitempty"`
}

// OpsSummary is the operator dashboard document.
type OpsSummary struct {
	GeneratedAt         time.Time                 `json:"generated_at"`
	TotalRuns           int                       `json:"total_runs"`
	StatusCounts        map[string]int            `json:"status_counts"`
	FailuresLast24h     int                       `json:"failures_last_24h"`
	LastRunAt           *time.Time                `json:"last_run_at,omitempty"`
	TotalInputTokens    int64                     `json:"total_input_tokens"`
	TotalOutputTokens   int64                     `json:"total_output_tokens"`
	TotalTokens         int64                     `json:"total_tokens"`
	AverageTokensPerRun float64                   `json:"average_tokens_per_run"`
	EstimatedCost       float64                   `json:"estimated_cost"`
	TotalRefusals       int                       `json:"total_refusals"`
	Tenants             []TenantRollup            `json:"tenants,omitempty"`
	RecentRuns          []RunDigest               `json:"recent_runs,omitempty"`
	OpenIncidents       int                       `json:"open_incidents"`
	Incidents           []incident.Record         `json:"incidents,omitempty"`
	RateLimits          []ratelimit.TenantSummary `json:"rate_limits,omitempty"`
}

// opsNow is swapped out by tests pinning the summary's time window.
var opsNow = domain.Now

// OpsService implements the operator surface: dashboard summary, retention
// pruning, retries, rollback, export and moderation.
type OpsService struct {
	archive     archive.Archive
	caps        archive.Capabilities
	coordinator *Coordinator
	incidents   *IncidentLog

	costPer1K float64
	cacheTTL  time.Duration
	cache     *ristretto.Cache[string, *OpsSummary]
}

// OpsConfig wires an ops service.
type OpsConfig struct {
	Archive     archive.Archive
	Coordinator *Coordinator
	Incidents   *IncidentLog
	// CostPer1KTokens prices the summary's cost estimate; <= 0 uses the
	// default.
	CostPer1KTokens float64
	// SummaryCacheTTL bounds summary staleness; <= 0 means 5s.
	SummaryCacheTTL time.Duration
}

// NewOpsService creates the ops service.
func NewOpsService(cfg OpsConfig) (*OpsService, error) {
	cost := cfg.CostPer1KTokens
	if cost <= 0 {
		cost = defaultCostPer1K
	}
	ttl := cfg.SummaryCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *OpsSummary]{
		NumCounters: 1024,
		MaxCost:     64,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("summary cache: %w", err)
	}
	return &OpsService{
		archive:     cfg.Archive,
		caps:        archive.Probe(cfg.Archive),
		coordinator: cfg.Coordinator,
		incidents:   cfg.Incidents,
		costPer1K:   cost,
		cacheTTL:    ttl,
		cache:       cache,
	}, nil
}

// Close releases the summary cache.
func (s *OpsService) Close() {
	s.cache.Close()
}

// Summary builds the dashboard document, serving a cached copy when one is
// fresh enough.
func (s *OpsService) Summary(ctx context.Context) (*OpsSummary, error) {
	if cached, ok := s.cache.Get(summaryCacheKey); ok {
		return cached, nil
	}

	runs, err := s.archive.ListRuns(ctx)
	if err != nil {
		return nil, err
	}

	now := opsNow()
	sum := &OpsSummary{
		GeneratedAt:  now,
		TotalRuns:    len(runs),
		StatusCounts: make(map[string]int),
	}
	dayAgo := now.Add(-24 * time.Hour)

	tenants := make(map[string]*TenantRollup)
	tenantRegions := make(map[string]map[string]struct{})

	for i := range runs {
		rec := &runs[i]
		status := string(rec.Status)
		sum.StatusCounts[status]++

		if rec.Status == run.StatusFailed || rec.Status == run.StatusIncomplete {
			// Window is inclusive of its lower edge.
			if !rec.UpdatedAt.Before(dayAgo) {
				sum.FailuresLast24h++
			}
		}
		if sum.LastRunAt == nil || rec.UpdatedAt.After(*sum.LastRunAt) {
			t := rec.UpdatedAt
			sum.LastRunAt = &t
		}
		if rec.Safety != nil {
			sum.TotalRefusals += rec.Safety.RefusalCount
		}

		var total int64
		if rec.Result != nil {
			if usage := rec.Result.Usage; usage != nil {
				sum.TotalInputTokens += usage.InputTokens
				sum.TotalOutputTokens += usage.OutputTokens
			}
			total = rec.Result.TotalTokens()
			sum.TotalTokens += total
		}

		tenantID := rec.TenantID()
		roll, ok := tenants[tenantID]
		if !ok {
			roll = &TenantRollup{TenantID: tenantID}
			tenants[tenantID] = roll
			tenantRegions[tenantID] = make(map[string]struct{})
		}
		roll.Runs++
		roll.TotalTokens += total
		if rec.Safety != nil {
			roll.Refusals += rec.Safety.RefusalCount
		}
		if roll.LastRunAt == nil || rec.UpdatedAt.After(*roll.LastRunAt) {
			t := rec.UpdatedAt
			roll.LastRunAt = &t
		}
		if region := rec.Metadata[run.MetaRegion]; region != "" {
			tenantRegions[tenantID][region] = struct{}{}
		}
	}

	if sum.TotalRuns > 0 {
		sum.AverageTokensPerRun = round6(float64(sum.TotalTokens) / float64(sum.TotalRuns))
	}
	sum.EstimatedCost = round6(float64(sum.TotalTokens) / 1000 * s.costPer1K)

	for _, roll := range tenants {
		roll.EstimatedCost = round6(float64(roll.TotalTokens) / 1000 * s.costPer1K)
	}
	sum.Tenants = sortRollups(tenants, tenantRegions)

	// ListRuns already orders by recency.
	limit := min(len(runs), 10)
	for i := 0; i < limit; i++ {
		rec := &runs[i]
		digest := RunDigest{
			RunID:     rec.RunID,
			Status:    string(rec.Status),
			Model:     rec.Request.Model,
			TenantID:  rec.TenantID(),
			UpdatedAt: rec.UpdatedAt,
		}
		if rec.Result != nil {
			digest.TotalTokens = rec.Result.TotalTokens()
		}
		sum.RecentRuns = append(sum.RecentRuns, digest)
	}

	if s.incidents != nil {
		open, err := s.incidents.List(IncidentFilter{Status: incident.StatusOpen})
		if err != nil {
			return nil, err
		}
		sum.OpenIncidents = len(open)
		sum.Incidents = open
	}
	if s.coordinator != nil {
		if rates := s.coordinator.RateTracker(); rates != nil {
			sum.RateLimits = rates.TenantSummaries()
		}
	}

	s.cache.SetWithTTL(summaryCacheKey, sum, 1, s.cacheTTL)
	s.cache.Wait()
	return sum, nil
}

func (s *OpsService) invalidateSummary() {
	s.cache.Del(summaryCacheKey)
}

// Prune removes runs untouched for more than the given number of days.
func (s *OpsService) Prune(ctx context.Context, days int) (*archive.PruneResult, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: prune days must be positive", domain.ErrInvalidRequest)
	}
	if s.caps.Prune == nil {
		return nil, fmt.Errorf("%w: archive backend cannot prune", domain.ErrUnsupported)
	}
	cutoff := domain.Now().Add(-time.Duration(days) * 24 * time.Hour)
	res, err := s.caps.Prune.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	s.invalidateSummary()
	return res, nil
}

// RetryOptions override parts of a retried run.
type RetryOptions struct {
	TenantID   string            `json:"tenant_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Background bool              `json:"background,omitempty"`
}

// Retry re-submits an archived run as a fresh stateless run and closes the
// original's incidents against the new run id. Any archived run with an
// input payload qualifies, including runs left queued by a provider failure.
func (s *OpsService) Retry(ctx context.Context, runID string, opts RetryOptions) (*StartOutput, error) {
	original, err := s.archive.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(original.Request.Input) == 0 {
		return nil, fmt.Errorf("%w: run %s has no input payload to retry", domain.ErrInvalidRequest, runID)
	}

	req := original.Request.Clone()
	req.Conversation = ""
	req.PreviousResponseID = ""
	req.Store = nil

	tenantID := opts.TenantID
	if tenantID == "" {
		tenantID = original.TenantID()
	}
	metadata := make(map[string]string, len(opts.Metadata)+1)
	for k, v := range opts.Metadata {
		metadata[k] = v
	}
	metadata[run.MetaRetriedFrom] = runID
	if opts.TenantID != "" {
		// Re-attribute the cloned request; its metadata still carries the
		// original tenant.
		metadata[run.MetaTenantID] = opts.TenantID
	}

	newID := "run_" + uuid.NewString()
	out, err := s.coordinator.StartRun(ctx, StartOptions{
		RunID:      newID,
		TenantID:   tenantID,
		Request:    req,
		Policy:     &conversation.Policy{Strategy: conversation.StrategyStateless},
		Metadata:   metadata,
		Background: opts.Background,
	})
	if err != nil {
		return nil, err
	}

	if s.incidents != nil {
		if _, err := s.incidents.ResolveIncidentsByRun(runID, incident.Resolution{
			ResolvedBy:  "system",
			Disposition: incident.DispositionRetry,
			LinkedRunID: newID,
		}); err != nil {
			return nil, err
		}
	}
	s.invalidateSummary()
	return out, nil
}

// Rollback truncates a run's event log and rebuilds the coordinator's
// in-process view from the archive.
func (s *OpsService) Rollback(ctx context.Context, runID string, target archive.RollbackTarget) (*archive.TimelineSnapshot, error) {
	if s.caps.Rollback == nil {
		return nil, fmt.Errorf("%w: archive backend cannot roll back", domain.ErrUnsupported)
	}
	snap, err := s.caps.Rollback.Rollback(ctx, runID, target)
	if err != nil {
		return nil, err
	}
	if s.coordinator != nil {
		if err := s.coordinator.ResyncFromArchive(ctx, runID); err != nil {
			return nil, err
		}
	}
	s.invalidateSummary()
	return snap, nil
}

// Export writes the run's full snapshot to the archive's export directory
// and returns the file path.
func (s *OpsService) Export(ctx context.Context, runID string) (string, error) {
	if s.caps.Export == nil {
		return "", fmt.Errorf("%w: archive backend cannot export", domain.ErrUnsupported)
	}
	return s.caps.Export.ExportRun(ctx, runID)
}

// AddModeratorNote attaches a review note to a run's safety snapshot.
func (s *OpsService) AddModeratorNote(ctx context.Context, runID string, note safety.ModeratorNote) (*safety.ModeratorNote, error) {
	if s.caps.Moderation == nil {
		return nil, fmt.Errorf("%w: archive backend cannot record moderator notes", domain.ErrUnsupported)
	}
	if note.Note == "" {
		return nil, fmt.Errorf("%w: note text is required", domain.ErrInvalidRequest)
	}
	if note.RecordedAt.IsZero() {
		note.RecordedAt = domain.Now()
	}
	return s.caps.Moderation.AddModeratorNote(ctx, runID, note)
}

// ListIncidents lists incidents, newest first.
func (s *OpsService) ListIncidents(filter IncidentFilter) ([]incident.Record, error) {
	if s.incidents == nil {
		return nil, nil
	}
	return s.incidents.List(filter)
}

// ResolveIncident closes one incident by id.
func (s *OpsService) ResolveIncident(id string, res incident.Resolution) (*incident.Record, error) {
	if s.incidents == nil {
		return nil, fmt.Errorf("%w: incident %s", domain.ErrNotFound, id)
	}
	rec, err := s.incidents.ResolveIncident(id, res)
	if err != nil {
		return nil, err
	}
	s.invalidateSummary()
	return rec, nil
}

func sortRollups(tenants map[string]*TenantRollup, regions map[string]map[string]struct{}) []TenantRollup {
	out := make([]TenantRollup, 0, len(tenants))
	for id, roll := range tenants {
		for region := range regions[id] {
			roll.Regions = append(roll.Regions, region)
		}
		sort.Strings(roll.Regions)
		out = append(out, *roll)
	}
	// Heaviest token consumers first; tenant id breaks ties.
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalTokens != out[j].TotalTokens {
			return out[i].TotalTokens > out[j].TotalTokens
		}
		return out[i].TenantID < out[j].TenantID
	})
	return out
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
