package service_test

import (
	"context"
	"testing"

	"github.com/Strob0t/RunForge/internal/domain/delegation"
	"github.com/Strob0t/RunForge/internal/service"
)

func TestDelegationRequestCompletionPairing(t *testing.T) {
	ctx := context.Background()
	tracker := service.NewDelegationTracker(nil)

	tracker.Observe(ctx, "r1", providerEvent(t,
		`{"type":"response.function_call_arguments.done","call_id":"c1","name":"get_weather","arguments":"{\"city\":\"Paris\"}"}`))

	recs := tracker.Delegations("r1")
	if len(recs) != 1 {
		t.Fatalf("delegation count = %d, want 1", len(recs))
	}
	if recs[0].CallID != "c1" || recs[0].ToolName != "get_weather" {
		t.Errorf("record = %+v", recs[0])
	}
	if recs[0].Status != delegation.StatusRequested {
		t.Errorf("status = %s, want requested", recs[0].Status)
	}
	args, ok := recs[0].Arguments.(map[string]any)
	if !ok || args["city"] != "Paris" {
		t.Errorf("double-encoded arguments must decode, got %#v", recs[0].Arguments)
	}

	tracker.Observe(ctx, "r1", providerEvent(t,
		`{"type":"response.output_item.done","item":{"id":"item_1","type":"tool_call","call_id":"c1","status":"completed","output":"sunny"}}`))

	recs = tracker.Delegations("r1")
	if recs[0].Status != delegation.StatusCompleted {
		t.Errorf("status after completion = %s", recs[0].Status)
	}
	if recs[0].CompletedAt == nil {
		t.Errorf("CompletedAt must be stamped")
	}
}

func TestDelegationFailedCompletion(t *testing.T) {
	ctx := context.Background()
	tracker := service.NewDelegationTracker(nil)

	tracker.Observe(ctx, "r1", providerEvent(t,
		`{"type":"response.function_call_arguments.done","call_id":"c1","name":"search"}`))
	tracker.Observe(ctx, "r1", providerEvent(t,
		`{"type":"response.output_item.done","item":{"type":"tool_call","call_id":"c1","status":"failed"}}`))

	recs := tracker.Delegations("r1")
	if recs[0].Status != delegation.StatusFailed {
		t.Errorf("status = %s, want failed", recs[0].Status)
	}
}

func TestDelegationOutOfOrderCompletion(t *testing.T) {
	ctx := context.Background()
	tracker := service.NewDelegationTracker(nil)

	// Completion half arrives first; the tracker seeds a record from it.
	tracker.Observe(ctx, "r1", providerEvent(t,
		`{"type":"response.output_item.done","item":{"type":"tool_call","call_id":"c9","name":"lookup","status":"completed"}}`))

	recs := tracker.Delegations("r1")
	if len(recs) != 1 {
		t.Fatalf("delegation count = %d, want 1", len(recs))
	}
	if recs[0].ToolName != "lookup" || recs[0].Status != delegation.StatusCompleted {
		t.Errorf("seeded record = %+v", recs[0])
	}

	// The late request half must not duplicate or reset the record.
	tracker.Observe(ctx, "r1", providerEvent(t,
		`{"type":"response.function_call_arguments.done","call_id":"c9","name":"lookup"}`))
	recs = tracker.Delegations("r1")
	if len(recs) != 1 || recs[0].Status != delegation.StatusCompleted {
		t.Errorf("late request half mangled state: %+v", recs)
	}
}

func TestDelegationRequestOrder(t *testing.T) {
	ctx := context.Background()
	tracker := service.NewDelegationTracker(nil)

	tracker.Observe(ctx, "r1", providerEvent(t,
		`{"type":"response.function_call_arguments.done","call_id":"c1","name":"first"}`))
	tracker.Observe(ctx, "r1", providerEvent(t,
		`{"type":"response.function_call_arguments.done","call_id":"c2","name":"second"}`))

	recs := tracker.Delegations("r1")
	if len(recs) != 2 || recs[0].ToolName != "first" || recs[1].ToolName != "second" {
		t.Errorf("request order not preserved: %+v", recs)
	}

	tracker.Forget("r1")
	if got := tracker.Delegations("r1"); got != nil {
		t.Errorf("Forget left state behind: %+v", got)
	}
}

func TestDelegationNameFallbacks(t *testing.T) {
	ctx := context.Background()
	tracker := service.NewDelegationTracker(nil)

	tracker.Observe(ctx, "r1", providerEvent(t,
		`{"type":"response.function_call_arguments.done","item_id":"it_1","function":{"name":"from_function"}}`))
	tracker.Observe(ctx, "r1", providerEvent(t,
		`{"type":"response.function_call_arguments.done","call_id":"c2"}`))

	recs := tracker.Delegations("r1")
	if len(recs) != 2 {
		t.Fatalf("delegation count = %d, want 2", len(recs))
	}
	if recs[0].CallID != "it_1" || recs[0].ToolName != "from_function" {
		t.Errorf("item_id/function fallbacks: %+v", recs[0])
	}
	if recs[1].ToolName != "unknown_tool" {
		t.Errorf("missing name must fall back to unknown_tool, got %+v", recs[1])
	}
}
