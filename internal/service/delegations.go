package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Strob0t/RunForge/internal/domain"
	"github.com/Strob0t/RunForge/internal/domain/delegation"
	"github.com/Strob0t/RunForge/internal/domain/event"
	"github.com/Strob0t/RunForge/internal/port/archive"
)

// DelegationTracker correlates the request/completion halves of tool calls
// observed on the event stream. It mirrors state in process and writes
// through to the archive when the backend persists delegations; archive
// failures are logged, never raised.
type DelegationTracker struct {
	store archive.DelegationAware // nil when the backend lacks the capability

	mu    sync.Mutex
	byRun map[string]*runDelegations
}

type runDelegations struct {
	order   []string
	records map[string]*delegation.Record
}

// NewDelegationTracker creates a tracker writing through to store, which
// may be nil.
func NewDelegationTracker(store archive.DelegationAware) *DelegationTracker {
	return &DelegationTracker{store: store, byRun: make(map[string]*runDelegations)}
}

// Observe folds one provider event into the tracker. Only function-call
// argument completions and tool-call item completions are considered.
func (t *DelegationTracker) Observe(ctx context.Context, runID string, ev *event.ProviderEvent) {
	switch ev.Type {
	case event.TypeFunctionCallArgsDone:
		t.request(ctx, runID, ev)
	case event.TypeOutputItemDone:
		if ev.Item != nil && ev.Item.Type == "tool_call" {
			t.complete(ctx, runID, ev)
		}
	}
}

func (t *DelegationTracker) request(ctx context.Context, runID string, ev *event.ProviderEvent) {
	callID := ev.CallID
	if callID == "" {
		callID = ev.ItemID
	}
	if callID == "" {
		callID = uuid.NewString()
	}
	name := ev.Name
	if name == "" && ev.Function != nil {
		name = ev.Function.Name
	}
	if name == "" {
		name = "unknown_tool"
	}
	rec := delegation.Record{
		CallID:      callID,
		ToolName:    name,
		Status:      delegation.StatusRequested,
		Arguments:   ev.DecodedArguments(),
		RequestedAt: domain.Now(),
	}

	t.mu.Lock()
	rd := t.run(runID)
	if _, exists := rd.records[callID]; exists {
		t.mu.Unlock()
		return
	}
	rd.records[callID] = &rec
	rd.order = append(rd.order, callID)
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.RecordDelegation(ctx, runID, rec); err != nil {
			slog.Warn("delegation write-through failed", "run_id", runID, "call_id", callID, "error", err)
		}
	}
}

func (t *DelegationTracker) complete(ctx context.Context, runID string, ev *event.ProviderEvent) {
	item := ev.Item
	callID := item.CallID
	if callID == "" {
		callID = item.ID
	}
	if callID == "" {
		return
	}
	status := delegation.StatusCompleted
	if item.Status == "failed" {
		status = delegation.StatusFailed
	}
	now := domain.Now()
	update := delegation.Update{
		Status:      status,
		Output:      item.Raw,
		CompletedAt: now,
	}

	t.mu.Lock()
	rd := t.run(runID)
	rec, exists := rd.records[callID]
	if !exists {
		// Completion arrived before the request half; seed from the item.
		name := item.Name
		if name == "" {
			name = "unknown_tool"
		}
		rec = &delegation.Record{
			CallID:      callID,
			ToolName:    name,
			Status:      delegation.StatusRequested,
			RequestedAt: now,
		}
		rd.records[callID] = rec
		rd.order = append(rd.order, callID)
	}
	seeded := !exists
	if rec.Status == delegation.StatusRequested {
		rec.Status = status
		rec.Output = update.Output
		rec.CompletedAt = &now
	}
	t.mu.Unlock()

	if t.store != nil {
		if seeded {
			seed := *rec
			seed.Status = delegation.StatusRequested
			seed.Output = nil
			seed.CompletedAt = nil
			if err := t.store.RecordDelegation(ctx, runID, seed); err != nil {
				slog.Warn("delegation write-through failed", "run_id", runID, "call_id", callID, "error", err)
			}
		}
		if err := t.store.UpdateDelegation(ctx, runID, callID, update); err != nil {
			slog.Warn("delegation update failed", "run_id", runID, "call_id", callID, "error", err)
		}
	}
}

func (t *DelegationTracker) run(runID string) *runDelegations {
	rd, ok := t.byRun[runID]
	if !ok {
		rd = &runDelegations{records: make(map[string]*delegation.Record)}
		t.byRun[runID] = rd
	}
	return rd
}

// Delegations returns the run's delegations in request order.
func (t *DelegationTracker) Delegations(runID string) []delegation.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	rd, ok := t.byRun[runID]
	if !ok {
		return nil
	}
	out := make([]delegation.Record, 0, len(rd.order))
	for _, id := range rd.order {
		out = append(out, *rd.records[id])
	}
	return out
}

// Forget drops a run's in-process delegation state.
func (t *DelegationTracker) Forget(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byRun, runID)
}
