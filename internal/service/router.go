// Package service implements the Responses control plane: event routing,
// stream buffering, rate-limit and incident tracking, conversation state,
// history planning, tool registration and the run coordinator binding them.
package service

import (
	"context"
	"fmt"

	"github.com/Strob0t/RunForge/internal/domain"
	"github.com/Strob0t/RunForge/internal/domain/event"
	"github.com/Strob0t/RunForge/internal/port/archive"
)

// Router ingests provider events for one run: it enforces strict sequence
// monotonicity, appends to the archive and projects the run status. One
// router exists per active run; the coordinator serializes calls into it.
type Router struct {
	runID        string
	archive      archive.Archive
	lastSequence int64
}

// NewRouter creates a router for the given run.
func NewRouter(runID string, store archive.Archive) *Router {
	return &Router{runID: runID, archive: store}
}

// LastSequence returns the highest sequence routed so far.
func (r *Router) LastSequence() int64 { return r.lastSequence }

// HandleEvent validates, archives and projects one provider event. Bad
// sequences indicate an upstream programming error and are returned to the
// caller rather than silently reordered.
func (r *Router) HandleEvent(ctx context.Context, ev *event.ProviderEvent) (*event.Record, error) {
	seq := ev.SequenceNumber
	if seq <= 0 {
		return nil, fmt.Errorf("%w: event %q carried sequence %d", domain.ErrInvalidSequence, ev.Type, seq)
	}
	if seq == r.lastSequence {
		return nil, fmt.Errorf("%w: run %s sequence %d", domain.ErrSequenceConflict, r.runID, seq)
	}
	if seq < r.lastSequence {
		return nil, fmt.Errorf("%w: run %s sequence %d after %d", domain.ErrStaleSequence, r.runID, seq, r.lastSequence)
	}

	rec, err := r.archive.RecordEvent(ctx, archive.EventInput{
		RunID:    r.runID,
		Sequence: seq,
		Type:     ev.Type,
		Payload:  ev.Payload(),
	})
	if err != nil {
		return nil, err
	}

	if status, ok := event.StatusFor(ev.Type); ok {
		var result = ev.Response
		if !status.Terminal() {
			result = nil
		}
		if _, err := r.archive.UpdateStatus(ctx, r.runID, status, result); err != nil {
			return nil, err
		}
	}

	r.lastSequence = seq
	return rec, nil
}
