// Package memarchive implements the archive port purely in memory, for
// tests and ephemeral deployments. Mutations serialize per run; distinct
// runs proceed independently.
package memarchive

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/RunForge/internal/domain"
	"github.com/Strob0t/RunForge/internal/domain/delegation"
	"github.com/Strob0t/RunForge/internal/domain/event"
	"github.com/Strob0t/RunForge/internal/domain/run"
	"github.com/Strob0t/RunForge/internal/domain/safety"
	"github.com/Strob0t/RunForge/internal/port/archive"
)

type runState struct {
	mu     sync.Mutex
	rec    run.Record
	events []event.Record
}

// Store is the in-memory archive backend. It implements every optional
// capability except export unless an export directory is configured.
type Store struct {
	mu        sync.RWMutex
	runs      map[string]*runState
	exportDir string
}

// Option configures the store.
type Option func(*Store)

// WithExportDir enables ExportRun, writing gzipped exports under dir.
func WithExportDir(dir string) Option {
	return func(s *Store) { s.exportDir = dir }
}

// New creates an empty in-memory archive.
func New(opts ...Option) *Store {
	s := &Store{runs: make(map[string]*runState)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) state(runID string) (*runState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	return st, nil
}

// StartRun opens a new run record with status queued.
func (s *Store) StartRun(_ context.Context, in archive.StartInput) (*run.Record, error) {
	if in.RunID == "" {
		return nil, fmt.Errorf("%w: run id is required", domain.ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[in.RunID]; ok {
		return nil, fmt.Errorf("run %s: %w", in.RunID, domain.ErrAlreadyExists)
	}
	now := domain.Now()
	rec := run.Record{
		RunID:          in.RunID,
		Request:        in.Request.Clone(),
		ConversationID: in.ConversationID,
		Metadata:       cloneMeta(in.Metadata),
		Status:         run.StatusQueued,
		TraceID:        in.TraceID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Safety != nil {
		snap := in.Safety.Clone()
		rec.Safety = &snap
	}
	s.runs[in.RunID] = &runState{rec: rec}
	return rec.Clone(), nil
}

// RecordEvent appends one event to the run's log. Sequence 0 assigns
// last+1; a sequence already recorded is a conflict.
func (s *Store) RecordEvent(_ context.Context, in archive.EventInput) (*event.Record, error) {
	st, err := s.state(in.RunID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	seq := in.Sequence
	if seq == 0 {
		seq = lastSequence(st.events) + 1
	}
	if seq <= 0 {
		return nil, fmt.Errorf("%w: sequence %d", domain.ErrInvalidSequence, seq)
	}
	for _, e := range st.events {
		if e.Sequence == seq {
			return nil, fmt.Errorf("run %s sequence %d: %w", in.RunID, seq, domain.ErrSequenceConflict)
		}
	}
	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = domain.Now()
	}
	rec := event.Record{
		RunID:      in.RunID,
		Sequence:   seq,
		Type:       in.Type,
		Payload:    append([]byte(nil), in.Payload...),
		OccurredAt: occurred,
	}
	st.events = append(st.events, rec)
	st.rec.UpdatedAt = domain.Now()
	return &rec, nil
}

// UpdateStatus sets the run status, storing the result only when provided.
func (s *Store) UpdateStatus(_ context.Context, runID string, status run.Status, result *run.Result) (*run.Record, error) {
	st, err := s.state(runID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.rec.Status = status
	if result != nil {
		res := result.Clone()
		st.rec.Result = &res
	}
	st.rec.UpdatedAt = domain.Now()
	return st.rec.Clone(), nil
}

// GetRun returns a copy of the run record.
func (s *Store) GetRun(_ context.Context, runID string) (*run.Record, error) {
	st, err := s.state(runID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.rec.Clone(), nil
}

// GetTimeline returns the run's full ordered event log.
func (s *Store) GetTimeline(_ context.Context, runID string) ([]event.Record, error) {
	st, err := s.state(runID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]event.Record(nil), st.events...), nil
}

// ListRuns returns all runs ordered by UpdatedAt descending, run id
// ascending on ties.
func (s *Store) ListRuns(_ context.Context) ([]run.Record, error) {
	s.mu.RLock()
	states := make([]*runState, 0, len(s.runs))
	for _, st := range s.runs {
		states = append(states, st)
	}
	s.mu.RUnlock()

	out := make([]run.Record, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, *st.rec.Clone())
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return out, nil
}

// DeleteRun removes the run and its events.
func (s *Store) DeleteRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	delete(s.runs, runID)
	return nil
}

// SnapshotAt returns the run with its events truncated to sequence <= n.
func (s *Store) SnapshotAt(_ context.Context, runID string, sequence int64) (*archive.TimelineSnapshot, error) {
	st, err := s.state(runID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return &archive.TimelineSnapshot{
		Run:    st.rec.Clone(),
		Events: prefix(st.events, sequence),
	}, nil
}

// Rollback truncates the event log to the target prefix, re-derives status
// and result, recounts refusals, drops delegations past the cut and records
// a synthetic rollback marker at target+1.
func (s *Store) Rollback(_ context.Context, runID string, target archive.RollbackTarget) (*archive.TimelineSnapshot, error) {
	st, err := s.state(runID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	seq, err := archive.ResolveRollbackTarget(st.events, target)
	if err != nil {
		return nil, err
	}
	retained := prefix(st.events, seq)
	archive.ApplyRollback(&st.rec, retained)
	st.events = append(append([]event.Record(nil), retained...), archive.RollbackMarker(runID, seq, target))
	st.rec.UpdatedAt = domain.Now()

	return &archive.TimelineSnapshot{Run: st.rec.Clone(), Events: retained}, nil
}

// ExportRun writes the run's snapshot to the configured export directory.
func (s *Store) ExportRun(_ context.Context, runID string) (string, error) {
	if s.exportDir == "" {
		return "", fmt.Errorf("export: %w", domain.ErrUnsupported)
	}
	st, err := s.state(runID)
	if err != nil {
		return "", err
	}
	st.mu.Lock()
	snap := &archive.TimelineSnapshot{
		Run:    st.rec.Clone(),
		Events: append([]event.Record(nil), st.events...),
	}
	st.mu.Unlock()
	return archive.WriteExport(s.exportDir, runID, snap)
}

// PruneOlderThan deletes runs whose UpdatedAt is before the cutoff.
func (s *Store) PruneOlderThan(_ context.Context, cutoff time.Time) (*archive.PruneResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := &archive.PruneResult{}
	for id, st := range s.runs {
		st.mu.Lock()
		stale := st.rec.UpdatedAt.Before(cutoff)
		st.mu.Unlock()
		if stale {
			delete(s.runs, id)
			res.Deleted = append(res.Deleted, id)
		}
	}
	sort.Strings(res.Deleted)
	return res, nil
}

// UpdateSafety applies the update onto the run's safety snapshot, creating
// one if the run has none.
func (s *Store) UpdateSafety(_ context.Context, runID string, update archive.SafetyUpdate) (*safety.Snapshot, error) {
	st, err := s.state(runID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.rec.Safety == nil {
		st.rec.Safety = &safety.Snapshot{}
	}
	archive.ApplySafetyUpdate(st.rec.Safety, update)
	st.rec.UpdatedAt = domain.Now()
	snap := st.rec.Safety.Clone()
	return &snap, nil
}

// AddModeratorNote appends a review note to the run's safety snapshot.
func (s *Store) AddModeratorNote(_ context.Context, runID string, note safety.ModeratorNote) (*safety.ModeratorNote, error) {
	st, err := s.state(runID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if note.RecordedAt.IsZero() {
		note.RecordedAt = domain.Now()
	}
	if st.rec.Safety == nil {
		st.rec.Safety = &safety.Snapshot{}
	}
	st.rec.Safety.Notes = append(st.rec.Safety.Notes, note)
	st.rec.UpdatedAt = domain.Now()
	return &note, nil
}

// RecordDelegation appends a delegation record; duplicates by call id are
// ignored.
func (s *Store) RecordDelegation(_ context.Context, runID string, rec delegation.Record) error {
	st, err := s.state(runID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, d := range st.rec.Delegations {
		if d.CallID == rec.CallID {
			return nil
		}
	}
	st.rec.Delegations = append(st.rec.Delegations, rec)
	st.rec.UpdatedAt = domain.Now()
	return nil
}

// UpdateDelegation applies the completion half onto a requested delegation.
// Delegations already terminal stay unchanged.
func (s *Store) UpdateDelegation(_ context.Context, runID string, callID string, update delegation.Update) error {
	st, err := s.state(runID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for i := range st.rec.Delegations {
		d := &st.rec.Delegations[i]
		if d.CallID != callID {
			continue
		}
		if d.Status != delegation.StatusRequested {
			return nil
		}
		d.Status = update.Status
		d.Output = append([]byte(nil), update.Output...)
		t := update.CompletedAt
		d.CompletedAt = &t
		st.rec.UpdatedAt = domain.Now()
		return nil
	}
	return fmt.Errorf("delegation %s: %w", callID, domain.ErrNotFound)
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func lastSequence(events []event.Record) int64 {
	var last int64
	for _, e := range events {
		if e.Sequence > last {
			last = e.Sequence
		}
	}
	return last
}

func prefix(events []event.Record, sequence int64) []event.Record {
	out := make([]event.Record, 0, len(events))
	for _, e := range events {
		if e.Sequence <= sequence {
			out = append(out, e)
		}
	}
	return out
}
