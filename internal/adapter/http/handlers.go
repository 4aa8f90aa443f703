package http

import (
	"math"
	"net/http"
	"strconv"

	"github.com/Strob0t/RunForge/internal/domain"
	"github.com/Strob0t/RunForge/internal/domain/delegation"
	"github.com/Strob0t/RunForge/internal/domain/event"
	"github.com/Strob0t/RunForge/internal/domain/incident"
	"github.com/Strob0t/RunForge/internal/domain/ratelimit"
	"github.com/Strob0t/RunForge/internal/domain/run"
	"github.com/Strob0t/RunForge/internal/domain/safety"
	"github.com/Strob0t/RunForge/internal/port/archive"
	"github.com/Strob0t/RunForge/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// HealthInfo describes the running service for the health endpoint.
type HealthInfo struct {
	Service        string `json:"service"`
	Version        string `json:"version"`
	ArchiveBackend string `json:"archive_backend"`
	ProviderMode   string `json:"provider_mode"`
}

// Handlers bundles the services the admin API fronts.
type Handlers struct {
	Coordinator *service.Coordinator
	Ops         *service.OpsService
	Archive     archive.Archive
	Health      HealthInfo
}

// RunSummary is the list view of one run.
type RunSummary struct {
	RunID       string `json:"runId"`
	Status      string `json:"status"`
	Model       string `json:"model"`
	TenantID    string `json:"tenantId"`
	TotalTokens int64  `json:"totalTokens"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func summarize(rec *run.Record) RunSummary {
	s := RunSummary{
		RunID:     rec.RunID,
		Status:    string(rec.Status),
		Model:     rec.Request.Model,
		TenantID:  rec.TenantID(),
		CreatedAt: domain.FormatTime(rec.CreatedAt),
		UpdatedAt: domain.FormatTime(rec.UpdatedAt),
	}
	if rec.Result != nil {
		s.TotalTokens = rec.Result.TotalTokens()
	}
	return s
}

// HandleHealth handles GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Health)
}

// ListRuns handles GET /responses/runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Archive.ListRuns(r.Context())
	if err != nil {
		writeDomainError(w, err, "runs unavailable")
		return
	}
	summaries := make([]RunSummary, 0, len(runs))
	for i := range runs {
		summaries = append(summaries, summarize(&runs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": summaries})
}

// StartRun handles POST /responses/runs
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	opts, ok := readJSON[service.StartOptions](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	out, err := h.Coordinator.StartRun(r.Context(), opts)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// runDetail is the full inspection document for one run.
type runDetail struct {
	Run              *run.Record                 `json:"run"`
	Events           []event.Record              `json:"events"`
	BufferedMessages []service.BufferedMessage   `json:"bufferedMessages"`
	Reasoning        []string                    `json:"reasoning"`
	Refusals         []string                    `json:"refusals"`
	OutputAudio      []service.AudioSegment      `json:"outputAudio"`
	OutputImages     []service.BufferedImage     `json:"outputImages"`
	InputTranscripts []service.TranscriptSegment `json:"inputTranscripts"`
	Delegations      []delegation.Record         `json:"delegations"`
	RateLimits       []ratelimit.TenantSummary   `json:"rateLimits"`
	Incidents        []incident.Record           `json:"incidents"`
}

// GetRun handles GET /responses/runs/{id}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	ctx := r.Context()

	rec, err := h.Archive.GetRun(ctx, id)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	events, err := h.Archive.GetTimeline(ctx, id)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}

	detail := runDetail{Run: rec, Events: events}
	detail.BufferedMessages, _ = h.Coordinator.GetBufferedMessages(ctx, id)
	detail.Reasoning, _ = h.Coordinator.GetBufferedReasoning(ctx, id)
	detail.Refusals, _ = h.Coordinator.GetBufferedRefusals(ctx, id)
	detail.OutputAudio, _ = h.Coordinator.GetBufferedOutputAudio(ctx, id)
	detail.OutputImages, _ = h.Coordinator.GetBufferedImages(ctx, id)
	detail.InputTranscripts, _ = h.Coordinator.GetBufferedInputTranscripts(ctx, id)
	detail.Delegations, _ = h.Coordinator.GetDelegations(ctx, id)

	tenantID := rec.TenantID()
	if rates := h.Coordinator.RateTracker(); rates != nil {
		for _, summary := range rates.TenantSummaries() {
			if summary.TenantID == tenantID {
				detail.RateLimits = append(detail.RateLimits, summary)
			}
		}
	}
	incidents, err := h.Ops.ListIncidents(service.IncidentFilter{RunID: id})
	if err == nil {
		detail.Incidents = incidents
	}

	writeJSON(w, http.StatusOK, detail)
}

// GetTimeline handles GET /responses/runs/{id}/timeline?until=N
func (h *Handlers) GetTimeline(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	until := int64(math.MaxInt64)
	if raw := r.URL.Query().Get("until"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "until must be a non-negative integer")
			return
		}
		until = n
	}
	snap, err := h.Archive.SnapshotAt(r.Context(), id, until)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type retryRequest struct {
	TenantID   string            `json:"tenantId,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Background bool              `json:"background,omitempty"`
}

// RetryRun handles POST /responses/runs/{id}/retry
func (h *Handlers) RetryRun(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req := retryRequest{}
	if r.ContentLength != 0 {
		var ok bool
		if req, ok = readJSON[retryRequest](w, r, maxRequestBodySize); !ok {
			return
		}
	}
	out, err := h.Ops.Retry(r.Context(), id, service.RetryOptions{
		TenantID:   req.TenantID,
		Metadata:   req.Metadata,
		Background: req.Background,
	})
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	rec, err := h.Archive.GetRun(r.Context(), out.RunID)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusCreated, summarize(rec))
}

type rollbackRequest struct {
	Sequence   int64  `json:"sequence,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Operator   string `json:"operator,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// RollbackRun handles POST /responses/runs/{id}/rollback
func (h *Handlers) RollbackRun(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[rollbackRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	snap, err := h.Ops.Rollback(r.Context(), id, archive.RollbackTarget{
		Sequence:   req.Sequence,
		ToolCallID: req.ToolCallID,
		Operator:   req.Operator,
		Reason:     req.Reason,
	})
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type moderationNoteRequest struct {
	Reviewer    string `json:"reviewer"`
	Note        string `json:"note"`
	Disposition string `json:"disposition,omitempty"`
}

// AddModerationNote handles POST /responses/runs/{id}/moderation-notes
func (h *Handlers) AddModerationNote(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[moderationNoteRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	note, err := h.Ops.AddModeratorNote(r.Context(), id, safety.ModeratorNote{
		Reviewer:    req.Reviewer,
		Note:        req.Note,
		Disposition: safety.Disposition(req.Disposition),
	})
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// ExportRun handles POST /responses/runs/{id}/export
func (h *Handlers) ExportRun(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	path, err := h.Ops.Export(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

// OpsSummary handles GET /responses/ops/summary
func (h *Handlers) OpsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Ops.Summary(r.Context())
	if err != nil {
		writeDomainError(w, err, "summary unavailable")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListIncidents handles GET /responses/ops/incidents?status=open|resolved&run_id=...
func (h *Handlers) ListIncidents(w http.ResponseWriter, r *http.Request) {
	filter := service.IncidentFilter{
		Status: incident.Status(r.URL.Query().Get("status")),
		RunID:  r.URL.Query().Get("run_id"),
	}
	if filter.Status != "" && filter.Status != incident.StatusOpen && filter.Status != incident.StatusResolved {
		writeError(w, http.StatusBadRequest, "status must be open or resolved")
		return
	}
	incidents, err := h.Ops.ListIncidents(filter)
	if err != nil {
		writeDomainError(w, err, "incidents unavailable")
		return
	}
	if incidents == nil {
		incidents = []incident.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": incidents})
}

type resolveIncidentRequest struct {
	ResolvedBy  string `json:"resolvedBy"`
	Notes       string `json:"notes,omitempty"`
	Disposition string `json:"disposition,omitempty"`
	LinkedRunID string `json:"linkedRunId,omitempty"`
}

// ResolveIncident handles POST /responses/ops/incidents/{id}/resolve
func (h *Handlers) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[resolveIncidentRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if req.ResolvedBy == "" {
		writeError(w, http.StatusBadRequest, "resolvedBy is required")
		return
	}
	rec, err := h.Ops.ResolveIncident(id, incident.Resolution{
		ResolvedBy:  req.ResolvedBy,
		Notes:       req.Notes,
		Disposition: incident.Disposition(req.Disposition),
		LinkedRunID: req.LinkedRunID,
	})
	if err != nil {
		writeDomainError(w, err, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type pruneRequest struct {
	Days int `json:"days"`
}

// Prune handles POST /responses/ops/prune
func (h *Handlers) Prune(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[pruneRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	res, err := h.Ops.Prune(r.Context(), req.Days)
	if err != nil {
		writeDomainError(w, err, "prune failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "summary": res})
}
