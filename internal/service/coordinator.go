package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/RunForge/internal/adapter/otel"
	"github.com/Strob0t/RunForge/internal/adapter/ws"
	"github.com/Strob0t/RunForge/internal/domain"
	"github.com/Strob0t/RunForge/internal/domain/conversation"
	"github.com/Strob0t/RunForge/internal/domain/delegation"
	"github.com/Strob0t/RunForge/internal/domain/event"
	"github.com/Strob0t/RunForge/internal/domain/history"
	"github.com/Strob0t/RunForge/internal/domain/incident"
	"github.com/Strob0t/RunForge/internal/domain/run"
	"github.com/Strob0t/RunForge/internal/domain/safety"
	"github.com/Strob0t/RunForge/internal/port/archive"
	"github.com/Strob0t/RunForge/internal/port/provider"
)

// SpeechOptions carry audio-mode metadata onto the provider request.
type SpeechOptions struct {
	Mode               string `json:"mode,omitempty"`
	InputFormat        string `json:"input_format,omitempty"`
	Transcription      *bool  `json:"transcription,omitempty"`
	TranscriptionModel string `json:"transcription_model,omitempty"`
}

// StartOptions configure one run.
type StartOptions struct {
	RunID                  string               `json:"run_id"`
	TenantID               string               `json:"tenant_id,omitempty"`
	Request                run.Request          `json:"request"`
	Policy                 *conversation.Policy `json:"policy,omitempty"`
	Metadata               map[string]string    `json:"metadata,omitempty"`
	Background             bool                 `json:"background,omitempty"`
	PreviousResponseID     string               `json:"previous_response_id,omitempty"`
	ExistingConversationID string               `json:"existing_conversation_id,omitempty"`
	Tools                  *ToolSelection       `json:"tools,omitempty"`
	History                *history.PlanInput   `json:"history,omitempty"`
	MaxToolCalls           int                  `json:"max_tool_calls,omitempty"`
	ToolChoice             json.RawMessage      `json:"tool_choice,omitempty"`
	SafetyIdentifier       string               `json:"safety_identifier,omitempty"`
	Speech                 *SpeechOptions       `json:"speech,omitempty"`
}

// StartOutput is what StartRun hands back to the caller.
type StartOutput struct {
	RunID       string               `json:"run_id"`
	Request     run.Request          `json:"request"`
	Context     conversation.Context `json:"context"`
	HistoryPlan *history.Plan        `json:"history_plan,omitempty"`
}

// runState is the per-run in-process state: router, stream buffer and span.
// The mutex serializes the whole event path for the run; distinct runs
// proceed in parallel.
type runState struct {
	mu        sync.Mutex
	router    *Router
	buffer    *StreamBuffer
	span      trace.Span
	traceID   string
	startedAt time.Time
}

// Coordinator binds the control plane together: it starts runs, routes
// provider events through router, buffer, safety, incident and delegation
// stages in fixed order, and exposes the buffered views.
type Coordinator struct {
	archive       archive.Archive
	caps          archive.Capabilities
	provider      provider.Client
	convman       *ConvManager
	planner       *HistoryPlanner
	tools         *ToolRegistry
	rates         *RateTracker
	incidents     *IncidentLog
	delegations   *DelegationTracker
	hub           *ws.Hub // optional
	metrics       *otel.Metrics
	sem           *semaphore.Weighted
	defaultPolicy conversation.Policy

	runs sync.Map // map[runID]*runState
}

// CoordinatorConfig wires a coordinator.
type CoordinatorConfig struct {
	Archive       archive.Archive
	Provider      provider.Client
	ConvManager   *ConvManager
	Planner       *HistoryPlanner
	Tools         *ToolRegistry
	Rates         *RateTracker
	Incidents     *IncidentLog
	Hub           *ws.Hub
	Metrics       *otel.Metrics
	DefaultPolicy conversation.Policy
	// MaxProviderCalls caps concurrent provider Create calls; <= 0 means 8.
	MaxProviderCalls int64
}

// NewCoordinator creates a coordinator. Archive capabilities are probed
// once here.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	maxCalls := cfg.MaxProviderCalls
	if maxCalls <= 0 {
		maxCalls = 8
	}
	caps := archive.Probe(cfg.Archive)
	return &Coordinator{
		archive:       cfg.Archive,
		caps:          caps,
		provider:      cfg.Provider,
		convman:       cfg.ConvManager,
		planner:       cfg.Planner,
		tools:         cfg.Tools,
		rates:         cfg.Rates,
		incidents:     cfg.Incidents,
		delegations:   NewDelegationTracker(caps.Delegations),
		hub:           cfg.Hub,
		metrics:       cfg.Metrics,
		sem:           semaphore.NewWeighted(maxCalls),
		defaultPolicy: cfg.DefaultPolicy,
	}
}

// RateTracker exposes the coordinator's tracker to the ops service.
func (c *Coordinator) RateTracker() *RateTracker { return c.rates }

// StartRun validates and starts one run. With Background unset it calls the
// provider synchronously and routes the result as a terminal event.
func (c *Coordinator) StartRun(ctx context.Context, opts StartOptions) (*StartOutput, error) {
	if opts.RunID == "" {
		return nil, fmt.Errorf("%w: run id is required", domain.ErrInvalidRequest)
	}
	tenantID := opts.TenantID
	if tenantID == "" {
		tenantID = "default"
	}

	var plan *history.Plan
	policy := c.defaultPolicy
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	if opts.History != nil {
		p := c.planner.Plan(*opts.History)
		plan = &p
		if p.Strategy == history.StrategyVendor && opts.Policy == nil {
			policy = conversation.Policy{Strategy: conversation.StrategyVendor}
		}
	}

	convCtx, err := c.convman.Prepare(ctx, ConvInput{
		TenantID:               tenantID,
		RunID:                  opts.RunID,
		ExistingConversationID: opts.ExistingConversationID,
		PreviousResponseID:     opts.PreviousResponseID,
		Policy:                 policy,
	})
	if err != nil {
		return nil, err
	}

	req := opts.Request.Clone()
	req.Metadata = mergeMetadata(req.Metadata, opts.Metadata)
	if req.Metadata == nil {
		req.Metadata = map[string]string{}
	}
	if _, ok := req.Metadata[run.MetaTenantID]; !ok {
		req.Metadata[run.MetaTenantID] = tenantID
	}
	applySpeech(req.Metadata, opts.Speech)

	if err := c.applyTools(&req, opts); err != nil {
		return nil, err
	}

	var safetySnap *safety.Snapshot
	if opts.SafetyIdentifier != "" {
		hashed := safety.HashIdentifier(opts.SafetyIdentifier)
		req.SafetyIdentifier = hashed
		safetySnap = &safety.Snapshot{HashedIdentifier: hashed}
	}

	req.Conversation = convCtx.ConversationID
	store := convCtx.StoreFlag
	req.Store = &store
	req.PreviousResponseID = convCtx.PreviousResponseID

	if err := req.Validate(); err != nil {
		return nil, err
	}

	spanCtx, span := otel.StartRunSpan(ctx, opts.RunID, tenantID, req.Model, store, convCtx.ConversationID)
	traceID := ""
	if sc := span.SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}

	if _, err := c.archive.StartRun(ctx, archive.StartInput{
		RunID:          opts.RunID,
		Request:        req,
		ConversationID: convCtx.ConversationID,
		Metadata:       req.Metadata,
		TraceID:        traceID,
		Safety:         safetySnap,
	}); err != nil {
		span.End()
		return nil, err
	}

	state := &runState{
		router:    NewRouter(opts.RunID, c.archive),
		buffer:    NewStreamBuffer(),
		span:      span,
		traceID:   traceID,
		startedAt: domain.Now(),
	}
	c.runs.Store(opts.RunID, state)
	if c.metrics != nil {
		c.metrics.RunsStarted.Add(ctx, 1)
	}

	out := &StartOutput{
		RunID:       opts.RunID,
		Request:     req,
		Context:     convCtx,
		HistoryPlan: plan,
	}
	if opts.Background {
		return out, nil
	}

	result, headers, err := c.callProvider(spanCtx, req)
	if err != nil {
		// The run stays queued; the provider failure is the caller's to
		// handle and never mutates the archive.
		span.RecordError(err)
		return nil, fmt.Errorf("provider create: %w", err)
	}
	if c.rates != nil {
		c.rates.Capture(headers, tenantID)
	}

	synthetic := &event.ProviderEvent{
		Type:           terminalEventType(result.Status),
		SequenceNumber: 1,
		Response:       result,
	}
	if err := c.HandleEvent(ctx, opts.RunID, synthetic); err != nil {
		return nil, err
	}
	c.seedBuffer(opts.RunID, result)
	return out, nil
}

func (c *Coordinator) callProvider(ctx context.Context, req run.Request) (*run.Result, provider.Headers, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	defer c.sem.Release(1)
	return c.provider.Create(ctx, req)
}

func terminalEventType(status string) string {
	switch status {
	case "failed":
		return event.TypeFailed
	case "cancelled":
		return event.TypeCancelled
	case "incomplete":
		return event.TypeIncomplete
	default:
		return event.TypeCompleted
	}
}

func (c *Coordinator) applyTools(req *run.Request, opts StartOptions) error {
	var include []string
	if opts.Tools != nil {
		payload, err := c.tools.BuildToolPayload(*opts.Tools)
		if err != nil {
			return err
		}
		req.Tools = payload
		include = opts.Tools.Include
	}
	if opts.MaxToolCalls != 0 {
		if opts.MaxToolCalls < 1 || opts.MaxToolCalls > 16 {
			return fmt.Errorf("%w: max_tool_calls must be between 1 and 16", domain.ErrInvalidRequest)
		}
		req.MaxToolCalls = opts.MaxToolCalls
	}
	if len(opts.ToolChoice) > 0 {
		if err := validateToolChoice(opts.ToolChoice, len(req.Tools) > 0, include); err != nil {
			return err
		}
		req.ToolChoice = opts.ToolChoice
	}
	return nil
}

func validateToolChoice(raw json.RawMessage, hasTools bool, include []string) error {
	var choice any
	if err := json.Unmarshal(raw, &choice); err != nil {
		return fmt.Errorf("%w: malformed tool_choice", domain.ErrInvalidRequest)
	}
	switch v := choice.(type) {
	case string:
		if v == "required" && !hasTools {
			return fmt.Errorf("%w: tool_choice %q needs at least one tool", domain.ErrInvalidRequest, v)
		}
	case map[string]any:
		if v["type"] != "function" {
			return nil
		}
		fn, _ := v["function"].(map[string]any)
		name, _ := fn["name"].(string)
		if name == "" {
			return fmt.Errorf("%w: function tool_choice needs a name", domain.ErrInvalidRequest)
		}
		for _, inc := range include {
			if inc == name {
				return nil
			}
		}
		return fmt.Errorf("%w: tool_choice names %q which is not among the run's tools", domain.ErrInvalidRequest, name)
	}
	return nil
}

func applySpeech(meta map[string]string, speech *SpeechOptions) {
	if speech == nil {
		return
	}
	if speech.Mode != "" {
		meta["speech_mode"] = speech.Mode
	}
	if speech.InputFormat != "" {
		meta["speech_input_format"] = speech.InputFormat
	}
	if speech.Transcription != nil {
		if *speech.Transcription {
			meta["speech_transcription"] = "enabled"
		} else {
			meta["speech_transcription"] = "disabled"
		}
	}
	if speech.TranscriptionModel != "" {
		meta["speech_transcription_model"] = speech.TranscriptionModel
	}
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	if base == nil && extra == nil {
		return nil
	}
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// HandleEvent routes one provider event for a run: archive append and
// status projection first, then stream buffering, safety, incident and
// delegation hooks. Routing errors surface to the caller; the side
// channels are best-effort.
func (c *Coordinator) HandleEvent(ctx context.Context, runID string, ev *event.ProviderEvent) error {
	state, err := c.state(ctx, runID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	rec, err := state.router.HandleEvent(ctx, ev)
	if err != nil {
		return err
	}

	state.buffer.Apply(ev)
	c.safetyHook(ctx, runID, ev)
	c.incidentHook(ctx, runID, state, ev)
	c.delegations.Observe(ctx, runID, ev)

	if state.span != nil {
		otel.AddEvent(state.span, ev.Type, rec.Sequence)
	}
	if c.hub != nil {
		c.hub.BroadcastRunEvent(ctx, ws.RunEvent{RunID: runID, Sequence: rec.Sequence, Type: ev.Type})
	}

	if status, ok := event.StatusFor(ev.Type); ok && status.Terminal() {
		c.finalize(ctx, runID, state, status, ev.Response)
	}
	return nil
}

func (c *Coordinator) finalize(ctx context.Context, runID string, state *runState, status run.Status, result *run.Result) {
	if state.span != nil {
		otel.Finalize(state.span, string(status))
		state.span = nil
	}
	if c.metrics != nil {
		switch status {
		case run.StatusCompleted:
			c.metrics.RunsCompleted.Add(ctx, 1)
		case run.StatusFailed, run.StatusIncomplete:
			c.metrics.RunsFailed.Add(ctx, 1)
		}
		if result != nil {
			c.metrics.RunTokens.Record(ctx, result.TotalTokens())
		}
		if !state.startedAt.IsZero() {
			c.metrics.RunDuration.Record(ctx, time.Since(state.startedAt).Seconds())
		}
	}
	if c.hub != nil {
		c.hub.BroadcastRunStatus(ctx, ws.RunStatus{RunID: runID, Status: string(status)})
	}
}

func (c *Coordinator) safetyHook(ctx context.Context, runID string, ev *event.ProviderEvent) {
	if ev.Type != event.TypeRefusalDone || c.caps.Safety == nil {
		return
	}
	now := domain.Now()
	if _, err := c.caps.Safety.UpdateSafety(ctx, runID, archive.SafetyUpdate{
		AddRefusals:   1,
		LastRefusalAt: &now,
	}); err != nil {
		slog.Warn("safety update failed", "run_id", runID, "error", err)
	}
}

func (c *Coordinator) incidentHook(ctx context.Context, runID string, state *runState, ev *event.ProviderEvent) {
	if c.incidents == nil {
		return
	}
	switch ev.Type {
	case event.TypeFailed, event.TypeIncomplete:
		incType := incident.TypeFailed
		if ev.Type == event.TypeIncomplete {
			incType = incident.TypeIncomplete
		}
		in := IncidentInput{
			RunID:    runID,
			Type:     incType,
			Sequence: ev.SequenceNumber,
			TraceID:  state.traceID,
		}
		if rec, err := c.archive.GetRun(ctx, runID); err == nil {
			in.TenantID = rec.TenantID()
			in.Model = rec.Request.Model
		}
		if ev.Response != nil {
			if ev.Response.Model != "" {
				in.Model = ev.Response.Model
			}
			in.Reason = ev.Response.Status
		}
		if c.rates != nil {
			if last := c.rates.Last(); last != nil {
				in.RequestID = last.RequestID
			}
		}
		if _, err := c.incidents.RecordIncident(in); err != nil {
			slog.Warn("incident record failed", "run_id", runID, "error", err)
		}
	case event.TypeCompleted:
		// Failures observed earlier in the stream stay on record, closed as
		// manually resolved.
		if _, err := c.incidents.ResolveIncidentsByRun(runID, incident.Resolution{
			ResolvedBy:  "system",
			Disposition: incident.DispositionManual,
		}); err != nil {
			slog.Warn("incident resolve failed", "run_id", runID, "error", err)
		}
	}
}

// state returns the run's in-process state, rebuilding it from the archive
// for runs this process no longer (or never) held in memory.
func (c *Coordinator) state(ctx context.Context, runID string) (*runState, error) {
	if v, ok := c.runs.Load(runID); ok {
		return v.(*runState), nil
	}
	return c.resync(ctx, runID)
}

func (c *Coordinator) resync(ctx context.Context, runID string) (*runState, error) {
	rec, err := c.archive.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	timeline, err := c.archive.GetTimeline(ctx, runID)
	if err != nil {
		return nil, err
	}

	buffer := NewStreamBuffer()
	var last int64
	for _, archived := range timeline {
		if archived.Sequence > last {
			last = archived.Sequence
		}
		ev, err := event.Parse(archived.Payload)
		if err != nil {
			continue
		}
		buffer.Apply(ev)
	}
	buffer.SeedFromResult(rec.Result)

	router := NewRouter(runID, c.archive)
	router.lastSequence = last
	state := &runState{
		router:  router,
		buffer:  buffer,
		traceID: rec.TraceID,
	}
	actual, _ := c.runs.LoadOrStore(runID, state)
	return actual.(*runState), nil
}

// ResyncFromArchive rebuilds the run's in-process buffers from the archived
// timeline and persisted result. Used after rollback.
func (c *Coordinator) ResyncFromArchive(ctx context.Context, runID string) error {
	c.runs.Delete(runID)
	c.delegations.Forget(runID)
	_, err := c.resync(ctx, runID)
	return err
}

func (c *Coordinator) seedBuffer(runID string, result *run.Result) {
	if v, ok := c.runs.Load(runID); ok {
		state := v.(*runState)
		state.mu.Lock()
		state.buffer.SeedFromResult(result)
		state.mu.Unlock()
	}
}

func (c *Coordinator) buffered(ctx context.Context, runID string) (*runState, error) {
	return c.state(ctx, runID)
}

// GetBufferedMessages returns the run's stitched assistant messages.
func (c *Coordinator) GetBufferedMessages(ctx context.Context, runID string) ([]BufferedMessage, error) {
	state, err := c.buffered(ctx, runID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.buffer.Messages(), nil
}

// GetBufferedReasoning returns the run's reasoning summary fragments.
func (c *Coordinator) GetBufferedReasoning(ctx context.Context, runID string) ([]string, error) {
	state, err := c.buffered(ctx, runID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.buffer.Reasoning(), nil
}

// GetBufferedRefusals returns the run's refusal strings.
func (c *Coordinator) GetBufferedRefusals(ctx context.Context, runID string) ([]string, error) {
	state, err := c.buffered(ctx, runID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.buffer.Refusals(), nil
}

// GetBufferedOutputAudio returns the run's stitched audio segments.
func (c *Coordinator) GetBufferedOutputAudio(ctx context.Context, runID string) ([]AudioSegment, error) {
	state, err := c.buffered(ctx, runID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.buffer.OutputAudio(), nil
}

// GetBufferedImages returns the run's stitched image generations.
func (c *Coordinator) GetBufferedImages(ctx context.Context, runID string) ([]BufferedImage, error) {
	state, err := c.buffered(ctx, runID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.buffer.Images(), nil
}

// GetBufferedInputTranscripts returns the run's input transcriptions.
func (c *Coordinator) GetBufferedInputTranscripts(ctx context.Context, runID string) ([]TranscriptSegment, error) {
	state, err := c.buffered(ctx, runID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.buffer.InputTranscripts(), nil
}

// GetDelegations returns the run's tracked tool-call delegations, falling
// back to the archived records when the tracker holds nothing in process.
func (c *Coordinator) GetDelegations(ctx context.Context, runID string) ([]delegation.Record, error) {
	if recs := c.delegations.Delegations(runID); len(recs) > 0 {
		return recs, nil
	}
	rec, err := c.archive.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return rec.Delegations, nil
}
