package memarchive_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/Strob0t/RunForge/internal/adapter/memarchive"
	"github.com/Strob0t/RunForge/internal/domain"
	"github.com/Strob0t/RunForge/internal/domain/event"
	"github.com/Strob0t/RunForge/internal/domain/run"
	"github.com/Strob0t/RunForge/internal/port/archive"
)

func startRun(t *testing.T, store *memarchive.Store, runID string) {
	t.Helper()
	_, err := store.StartRun(context.Background(), archive.StartInput{
		RunID:   runID,
		Request: run.Request{Model: "gpt-4o-mini", Input: json.RawMessage(`"hi"`)},
	})
	if err != nil {
		t.Fatalf("StartRun %s: %v", runID, err)
	}
}

func recordEvent(t *testing.T, store *memarchive.Store, runID string, seq int64, typ, payload string) {
	t.Helper()
	_, err := store.RecordEvent(context.Background(), archive.EventInput{
		RunID:    runID,
		Sequence: seq,
		Type:     typ,
		Payload:  json.RawMessage(payload),
	})
	if err != nil {
		t.Fatalf("RecordEvent %s/%d: %v", runID, seq, err)
	}
}

func TestStoreStartRun(t *testing.T) {
	ctx := context.Background()
	store := memarchive.New()

	rec, err := store.StartRun(ctx, archive.StartInput{
		RunID:   "r1",
		Request: run.Request{Model: "gpt-4o-mini", Input: json.RawMessage(`"hi"`)},
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if rec.Status != run.StatusQueued {
		t.Errorf("status = %s, want queued", rec.Status)
	}
	if rec.CreatedAt.IsZero() || !rec.CreatedAt.Equal(rec.UpdatedAt) {
		t.Errorf("timestamps = %v / %v", rec.CreatedAt, rec.UpdatedAt)
	}

	_, err = store.StartRun(ctx, archive.StartInput{RunID: "r1"})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate: got %v, want ErrAlreadyExists", err)
	}
	_, err = store.StartRun(ctx, archive.StartInput{})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("empty id: got %v, want ErrInvalidRequest", err)
	}
}

func TestStoreRecordEvent(t *testing.T) {
	ctx := context.Background()
	store := memarchive.New()
	startRun(t, store, "r1")

	recordEvent(t, store, "r1", 1, "response.created", `{"type":"response.created"}`)

	// Sequence 0 assigns the next free slot.
	ev, err := store.RecordEvent(ctx, archive.EventInput{
		RunID:   "r1",
		Type:    "response.output_text.delta",
		Payload: json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if ev.Sequence != 2 {
		t.Errorf("auto sequence = %d, want 2", ev.Sequence)
	}

	_, err = store.RecordEvent(ctx, archive.EventInput{RunID: "r1", Sequence: 2, Type: "x"})
	if !errors.Is(err, domain.ErrSequenceConflict) {
		t.Errorf("duplicate sequence: got %v, want ErrSequenceConflict", err)
	}
	_, err = store.RecordEvent(ctx, archive.EventInput{RunID: "r1", Sequence: -1, Type: "x"})
	if !errors.Is(err, domain.ErrInvalidSequence) {
		t.Errorf("negative sequence: got %v, want ErrInvalidSequence", err)
	}
	_, err = store.RecordEvent(ctx, archive.EventInput{RunID: "ghost", Sequence: 1, Type: "x"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown run: got %v, want ErrNotFound", err)
	}

	timeline, err := store.GetTimeline(ctx, "r1")
	if err != nil {
		t.Fatalf("GetTimeline: %v", err)
	}
	if len(timeline) != 2 || timeline[0].Sequence != 1 || timeline[1].Sequence != 2 {
		t.Errorf("timeline = %+v", timeline)
	}
}

func TestStoreListRunsOrdering(t *testing.T) {
	ctx := context.Background()
	store := memarchive.New()
	startRun(t, store, "b")
	startRun(t, store, "a")

	// Touch b so it is strictly most recent.
	time.Sleep(5 * time.Millisecond)
	recordEvent(t, store, "b", 1, "response.created", `{}`)

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "b" || runs[1].RunID != "a" {
		t.Errorf("order = %v", []string{runs[0].RunID, runs[1].RunID})
	}
}

func TestStoreSnapshotAt(t *testing.T) {
	ctx := context.Background()
	store := memarchive.New()
	startRun(t, store, "r1")
	recordEvent(t, store, "r1", 1, "a", `{}`)
	recordEvent(t, store, "r1", 2, "b", `{}`)
	recordEvent(t, store, "r1", 3, "c", `{}`)

	snap, err := store.SnapshotAt(ctx, "r1", 2)
	if err != nil {
		t.Fatalf("SnapshotAt: %v", err)
	}
	if len(snap.Events) != 2 || snap.Events[1].Sequence != 2 {
		t.Errorf("snapshot events = %+v", snap.Events)
	}
}

func TestStoreRollback(t *testing.T) {
	ctx := context.Background()
	store := memarchive.New()
	startRun(t, store, "r1")
	recordEvent(t, store, "r1", 1, "response.created", `{"type":"response.created"}`)
	recordEvent(t, store, "r1", 2, "response.function_call_arguments.done",
		`{"type":"response.function_call_arguments.done","call_id":"c1"}`)
	recordEvent(t, store, "r1", 3, "response.completed",
		`{"type":"response.completed","response":{"id":"resp_1","status":"completed","usage":{"total_tokens":5}}}`)
	if _, err := store.UpdateStatus(ctx, "r1", run.StatusCompleted, &run.Result{ID: "resp_1", Status: "completed"}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	snap, err := store.Rollback(ctx, "r1", archive.RollbackTarget{ToolCallID: "c1", Operator: "ops", Reason: "bad call"})
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(snap.Events) != 2 {
		t.Errorf("retained = %+v", snap.Events)
	}
	// The non-terminal prefix projects back to in_progress with no result.
	if snap.Run.Status != run.StatusInProgress || snap.Run.Result != nil {
		t.Errorf("run after rollback = %s / %+v", snap.Run.Status, snap.Run.Result)
	}

	timeline, _ := store.GetTimeline(ctx, "r1")
	if len(timeline) != 3 {
		t.Fatalf("stored timeline = %+v", timeline)
	}
	marker := timeline[2]
	if marker.Type != event.TypeRollback || marker.Sequence != 3 {
		t.Errorf("marker = %+v", marker)
	}
	var meta map[string]string
	if err := json.Unmarshal(marker.Payload, &meta); err != nil {
		t.Fatalf("marker payload: %v", err)
	}
	if meta["operator"] != "ops" || meta["reason"] != "bad call" {
		t.Errorf("marker metadata = %v", meta)
	}

	_, err = store.Rollback(ctx, "r1", archive.RollbackTarget{ToolCallID: "ghost"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown call id: got %v, want ErrNotFound", err)
	}
	_, err = store.Rollback(ctx, "r1", archive.RollbackTarget{})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("empty target: got %v, want ErrInvalidRequest", err)
	}
}

func TestStoreRollbackKeepsTerminalResult(t *testing.T) {
	ctx := context.Background()
	store := memarchive.New()
	startRun(t, store, "r1")
	recordEvent(t, store, "r1", 1, "response.completed",
		`{"type":"response.completed","response":{"id":"resp_1","status":"completed","usage":{"total_tokens":5}}}`)
	recordEvent(t, store, "r1", 2, "response.output_text.delta", `{"type":"response.output_text.delta"}`)

	snap, err := store.Rollback(ctx, "r1", archive.RollbackTarget{Sequence: 1})
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if snap.Run.Status != run.StatusCompleted {
		t.Errorf("status = %s, want completed", snap.Run.Status)
	}
	if snap.Run.Result == nil || snap.Run.Result.ID != "resp_1" {
		t.Errorf("result = %+v, the terminal event's response survives", snap.Run.Result)
	}
}

func TestStorePruneOlderThan(t *testing.T) {
	ctx := context.Background()
	store := memarchive.New()
	startRun(t, store, "r2")
	startRun(t, store, "r1")

	res, err := store.PruneOlderThan(ctx, domain.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if len(res.Deleted) != 2 || res.Deleted[0] != "r1" || res.Deleted[1] != "r2" {
		t.Errorf("Deleted = %v, want sorted ids", res.Deleted)
	}
	if _, err := store.GetRun(ctx, "r1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("pruned run still readable: %v", err)
	}
}

func TestStoreExportRun(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := memarchive.New(memarchive.WithExportDir(dir))
	startRun(t, store, "r1")
	recordEvent(t, store, "r1", 1, "response.created", `{}`)

	path, err := store.ExportRun(ctx, "r1")
	if err != nil {
		t.Fatalf("ExportRun: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("export file: %v", err)
	}

	bare := memarchive.New()
	startRun(t, bare, "r1")
	if _, err := bare.ExportRun(ctx, "r1"); !errors.Is(err, domain.ErrUnsupported) {
		t.Errorf("export without dir: got %v, want ErrUnsupported", err)
	}
}

func TestStoreDeleteRun(t *testing.T) {
	ctx := context.Background()
	store := memarchive.New()
	startRun(t, store, "r1")

	if err := store.DeleteRun(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if err := store.DeleteRun(ctx, "r1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}
