// Package fsarchive implements the archive port on the local filesystem.
// Each run occupies baseDir/<runId>/ holding run.json and events.json;
// writes to a given run serialize behind a per-run lock.
package fsarchive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
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

const (
	runFile    = "run.json"
	eventsFile = "events.json"
)

// Store is the filesystem archive backend.
type Store struct {
	baseDir   string
	exportDir string
	coldDir   string

	locks sync.Map // map[runID]*sync.Mutex
}

// Option configures the store.
type Option func(*Store)

// WithExportDir sets where ExportRun writes gzipped documents.
// Defaults to baseDir/exports.
func WithExportDir(dir string) Option {
	return func(s *Store) { s.exportDir = dir }
}

// WithColdStorageDir makes PruneOlderThan move run directories there
// instead of deleting them.
func WithColdStorageDir(dir string) Option {
	return func(s *Store) { s.coldDir = dir }
}

// New creates a filesystem archive rooted at baseDir. Parent directories
// are created lazily on first write.
func New(baseDir string, opts ...Option) *Store {
	s := &Store{baseDir: baseDir}
	for _, opt := range opts {
		opt(s)
	}
	if s.exportDir == "" {
		s.exportDir = filepath.Join(baseDir, "exports")
	}
	return s
}

func (s *Store) lock(runID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(runID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

func (s *Store) readRun(runID string) (*run.Record, error) {
	data, err := os.ReadFile(filepath.Join(s.runDir(runID), runFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	var rec run.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &rec, nil
}

func (s *Store) readEvents(runID string) ([]event.Record, error) {
	data, err := os.ReadFile(filepath.Join(s.runDir(runID), eventsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read events %s: %w", runID, err)
	}
	var events []event.Record
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode events %s: %w", runID, err)
	}
	return events, nil
}

func (s *Store) writeRun(rec *run.Record) error {
	return s.writeJSON(rec.RunID, runFile, rec)
}

func (s *Store) writeEvents(runID string, events []event.Record) error {
	return s.writeJSON(runID, eventsFile, events)
}

func (s *Store) writeJSON(runID, name string, v any) error {
	dir := s.runDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	tmp := filepath.Join(dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	return nil
}

// StartRun opens a new run record with status queued.
func (s *Store) StartRun(_ context.Context, in archive.StartInput) (*run.Record, error) {
	if in.RunID == "" {
		return nil, fmt.Errorf("%w: run id is required", domain.ErrInvalidRequest)
	}
	mu := s.lock(in.RunID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := os.Stat(filepath.Join(s.runDir(in.RunID), runFile)); err == nil {
		return nil, fmt.Errorf("run %s: %w", in.RunID, domain.ErrAlreadyExists)
	}
	now := domain.Now()
	rec := run.Record{
		RunID:          in.RunID,
		Request:        in.Request.Clone(),
		ConversationID: in.ConversationID,
		Metadata:       in.Metadata,
		Status:         run.StatusQueued,
		TraceID:        in.TraceID,
		Safety:         in.Safety,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.writeRun(&rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// RecordEvent appends one event to the run's log.
func (s *Store) RecordEvent(_ context.Context, in archive.EventInput) (*event.Record, error) {
	mu := s.lock(in.RunID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.readRun(in.RunID)
	if err != nil {
		return nil, err
	}
	events, err := s.readEvents(in.RunID)
	if err != nil {
		return nil, err
	}
	seq := in.Sequence
	if seq == 0 {
		seq = lastSequence(events) + 1
	}
	if seq <= 0 {
		return nil, fmt.Errorf("%w: sequence %d", domain.ErrInvalidSequence, seq)
	}
	for _, e := range events {
		if e.Sequence == seq {
			return nil, fmt.Errorf("run %s sequence %d: %w", in.RunID, seq, domain.ErrSequenceConflict)
		}
	}
	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = domain.Now()
	}
	ev := event.Record{
		RunID:      in.RunID,
		Sequence:   seq,
		Type:       in.Type,
		Payload:    in.Payload,
		OccurredAt: occurred,
	}
	if err := s.writeEvents(in.RunID, append(events, ev)); err != nil {
		return nil, err
	}
	rec.UpdatedAt = domain.Now()
	if err := s.writeRun(rec); err != nil {
		return nil, err
	}
	return &ev, nil
}

// UpdateStatus sets the run status, storing the result only when provided.
func (s *Store) UpdateStatus(_ context.Context, runID string, status run.Status, result *run.Result) (*run.Record, error) {
	mu := s.lock(runID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.readRun(runID)
	if err != nil {
		return nil, err
	}
	rec.Status = status
	if result != nil {
		res := result.Clone()
		rec.Result = &res
	}
	rec.UpdatedAt = domain.Now()
	if err := s.writeRun(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetRun loads the run record.
func (s *Store) GetRun(_ context.Context, runID string) (*run.Record, error) {
	mu := s.lock(runID)
	mu.Lock()
	defer mu.Unlock()
	return s.readRun(runID)
}

// GetTimeline loads the run's full ordered event log.
func (s *Store) GetTimeline(_ context.Context, runID string) ([]event.Record, error) {
	mu := s.lock(runID)
	mu.Lock()
	defer mu.Unlock()
	if _, err := s.readRun(runID); err != nil {
		return nil, err
	}
	return s.readEvents(runID)
}

// ListRuns scans the base directory, ordered by UpdatedAt descending.
func (s *Store) ListRuns(_ context.Context) ([]run.Record, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var out []run.Record
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := s.GetRun(context.Background(), entry.Name())
		if err != nil {
			continue // not a run directory
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return out, nil
}

// DeleteRun removes the run directory.
func (s *Store) DeleteRun(_ context.Context, runID string) error {
	mu := s.lock(runID)
	mu.Lock()
	defer mu.Unlock()
	if _, err := s.readRun(runID); err != nil {
		return err
	}
	if err := os.RemoveAll(s.runDir(runID)); err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	s.locks.Delete(runID)
	return nil
}

// SnapshotAt returns the run with its events truncated to sequence <= n.
func (s *Store) SnapshotAt(_ context.Context, runID string, sequence int64) (*archive.TimelineSnapshot, error) {
	mu := s.lock(runID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.readRun(runID)
	if err != nil {
		return nil, err
	}
	events, err := s.readEvents(runID)
	if err != nil {
		return nil, err
	}
	return &archive.TimelineSnapshot{Run: rec, Events: prefix(events, sequence)}, nil
}

// Rollback truncates the persisted event log to the target prefix,
// re-derives run state and records the synthetic rollback marker.
func (s *Store) Rollback(_ context.Context, runID string, target archive.RollbackTarget) (*archive.TimelineSnapshot, error) {
	mu := s.lock(runID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.readRun(runID)
	if err != nil {
		return nil, err
	}
	events, err := s.readEvents(runID)
	if err != nil {
		return nil, err
	}
	seq, err := archive.ResolveRollbackTarget(events, target)
	if err != nil {
		return nil, err
	}
	retained := prefix(events, seq)
	archive.ApplyRollback(rec, retained)
	rec.UpdatedAt = domain.Now()

	withMarker := append(append([]event.Record(nil), retained...), archive.RollbackMarker(runID, seq, target))
	if err := s.writeEvents(runID, withMarker); err != nil {
		return nil, err
	}
	if err := s.writeRun(rec); err != nil {
		return nil, err
	}
	return &archive.TimelineSnapshot{Run: rec, Events: retained}, nil
}

// ExportRun writes the run snapshot as a gzipped JSON document under the
// export directory and returns the path.
func (s *Store) ExportRun(ctx context.Context, runID string) (string, error) {
	snap, err := s.SnapshotAt(ctx, runID, math.MaxInt64)
	if err != nil {
		return "", err
	}
	return archive.WriteExport(s.exportDir, runID, snap)
}

// PruneOlderThan deletes runs last updated before the cutoff, or moves
// their directories to cold storage when configured.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (*archive.PruneResult, error) {
	runs, err := s.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	res := &archive.PruneResult{}
	for _, rec := range runs {
		if !rec.UpdatedAt.Before(cutoff) {
			continue
		}
		mu := s.lock(rec.RunID)
		mu.Lock()
		if s.coldDir != "" {
			if err := os.MkdirAll(s.coldDir, 0o755); err != nil {
				mu.Unlock()
				return res, fmt.Errorf("create cold storage dir: %w", err)
			}
			if err := os.Rename(s.runDir(rec.RunID), filepath.Join(s.coldDir, rec.RunID)); err != nil {
				mu.Unlock()
				return res, fmt.Errorf("move run %s to cold storage: %w", rec.RunID, err)
			}
			res.Moved = append(res.Moved, rec.RunID)
		} else {
			if err := os.RemoveAll(s.runDir(rec.RunID)); err != nil {
				mu.Unlock()
				return res, fmt.Errorf("delete run %s: %w", rec.RunID, err)
			}
			res.Deleted = append(res.Deleted, rec.RunID)
		}
		mu.Unlock()
		s.locks.Delete(rec.RunID)
	}
	return res, nil
}

// UpdateSafety applies the update onto the run's persisted safety snapshot.
func (s *Store) UpdateSafety(_ context.Context, runID string, update archive.SafetyUpdate) (*safety.Snapshot, error) {
	mu := s.lock(runID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.readRun(runID)
	if err != nil {
		return nil, err
	}
	if rec.Safety == nil {
		rec.Safety = &safety.Snapshot{}
	}
	archive.ApplySafetyUpdate(rec.Safety, update)
	rec.UpdatedAt = domain.Now()
	if err := s.writeRun(rec); err != nil {
		return nil, err
	}
	snap := rec.Safety.Clone()
	return &snap, nil
}

// AddModeratorNote appends a review note to the run's safety snapshot.
func (s *Store) AddModeratorNote(_ context.Context, runID string, note safety.ModeratorNote) (*safety.ModeratorNote, error) {
	mu := s.lock(runID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.readRun(runID)
	if err != nil {
		return nil, err
	}
	if note.RecordedAt.IsZero() {
		note.RecordedAt = domain.Now()
	}
	if rec.Safety == nil {
		rec.Safety = &safety.Snapshot{}
	}
	rec.Safety.Notes = append(rec.Safety.Notes, note)
	rec.UpdatedAt = domain.Now()
	if err := s.writeRun(rec); err != nil {
		return nil, err
	}
	return &note, nil
}

// RecordDelegation appends a delegation record; duplicate call ids are
// ignored.
func (s *Store) RecordDelegation(_ context.Context, runID string, d delegation.Record) error {
	mu := s.lock(runID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.readRun(runID)
	if err != nil {
		return err
	}
	for _, existing := range rec.Delegations {
		if existing.CallID == d.CallID {
			return nil
		}
	}
	rec.Delegations = append(rec.Delegations, d)
	rec.UpdatedAt = domain.Now()
	return s.writeRun(rec)
}

// UpdateDelegation applies the completion half onto a requested delegation.
func (s *Store) UpdateDelegation(_ context.Context, runID string, callID string, update delegation.Update) error {
	mu := s.lock(runID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.readRun(runID)
	if err != nil {
		return err
	}
	for i := range rec.Delegations {
		d := &rec.Delegations[i]
		if d.CallID != callID {
			continue
		}
		if d.Status != delegation.StatusRequested {
			return nil
		}
		d.Status = update.Status
		d.Output = update.Output
		t := update.CompletedAt
		d.CompletedAt = &t
		rec.UpdatedAt = domain.Now()
		return s.writeRun(rec)
	}
	return fmt.Errorf("delegation %s: %w", callID, domain.ErrNotFound)
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
