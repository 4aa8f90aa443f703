package archive

import (
	"encoding/json"
	"fmt"

	"github.com/Strob0t/RunForge/internal/domain"
	"github.com/Strob0t/RunForge/internal/domain/event"
	"github.com/Strob0t/RunForge/internal/domain/run"
	"github.com/Strob0t/RunForge/internal/domain/safety"
)

// ResolveRollbackTarget returns the sequence the event log is truncated to.
// A tool call id resolves to the first event whose payload references it.
func ResolveRollbackTarget(events []event.Record, target RollbackTarget) (int64, error) {
	if target.Sequence > 0 {
		return target.Sequence, nil
	}
	if target.ToolCallID == "" {
		return 0, fmt.Errorf("%w: rollback needs a sequence or tool call id", domain.ErrInvalidRequest)
	}
	for _, rec := range events {
		if event.ReferencesCall(rec.Payload, target.ToolCallID) {
			return rec.Sequence, nil
		}
	}
	return 0, fmt.Errorf("%w: no event references call %q", domain.ErrNotFound, target.ToolCallID)
}

// ProjectRetained derives the status and result a run holds after its event
// log is cut to the given prefix: the projection of the last status-bearing
// retained event, in_progress when there is none, and the terminal event's
// response as the result when that projection is terminal.
func ProjectRetained(retained []event.Record) (run.Status, *run.Result) {
	for i := len(retained) - 1; i >= 0; i-- {
		status, ok := event.StatusFor(retained[i].Type)
		if !ok {
			continue
		}
		if !status.Terminal() {
			return status, nil
		}
		var ev event.ProviderEvent
		if err := json.Unmarshal(retained[i].Payload, &ev); err == nil && ev.Response != nil {
			res := ev.Response.Clone()
			return status, &res
		}
		return status, nil
	}
	return run.StatusInProgress, nil
}

// ApplyRollback rewrites the derived fields of a run record after its event
// log was cut to the retained prefix: status, result, refusal counters and
// delegations no longer referenced by any retained event.
func ApplyRollback(rec *run.Record, retained []event.Record) {
	status, result := ProjectRetained(retained)
	rec.Status = status
	rec.Result = result

	if rec.Safety != nil {
		count, last := RecountRefusals(retained)
		rec.Safety.RefusalCount = count
		rec.Safety.LastRefusalAt = nil
		if last != nil {
			t := last.OccurredAt
			rec.Safety.LastRefusalAt = &t
		}
	}

	if len(rec.Delegations) > 0 {
		kept := rec.Delegations[:0]
		for _, d := range rec.Delegations {
			for _, ev := range retained {
				if event.ReferencesCall(ev.Payload, d.CallID) {
					kept = append(kept, d)
					break
				}
			}
		}
		rec.Delegations = kept
	}
}

// RollbackMarker builds the synthetic meta-event recorded at target+1 after
// a rollback cut.
func RollbackMarker(runID string, target int64, t RollbackTarget) event.Record {
	now := domain.Now()
	payload, _ := json.Marshal(map[string]string{
		"operator":       t.Operator,
		"reason":         t.Reason,
		"rolled_back_at": domain.FormatTime(now),
	})
	return event.Record{
		RunID:      runID,
		Sequence:   target + 1,
		Type:       event.TypeRollback,
		Payload:    payload,
		OccurredAt: now,
	}
}

// ApplySafetyUpdate merges an update into a safety snapshot. The hashed
// identifier is only set when the snapshot has none.
func ApplySafetyUpdate(snap *safety.Snapshot, update SafetyUpdate) {
	if update.HashedIdentifier != "" && snap.HashedIdentifier == "" {
		snap.HashedIdentifier = update.HashedIdentifier
	}
	if update.AddRefusals > 0 {
		snap.RefusalCount += update.AddRefusals
	}
	if update.LastRefusalAt != nil {
		t := *update.LastRefusalAt
		snap.LastRefusalAt = &t
	}
}

// RecountRefusals counts refusal events within the retained prefix,
// returning the count and the time of the last one.
func RecountRefusals(retained []event.Record) (int, *event.Record) {
	count := 0
	var last *event.Record
	for i := range retained {
		if retained[i].Type == event.TypeRefusalDone {
			count++
			last = &retained[i]
		}
	}
	return count, last
}
