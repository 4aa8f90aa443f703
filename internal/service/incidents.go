package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/Strob0t/RunForge/internal/domain"
	"github.com/Strob0t/RunForge/internal/domain/incident"
)

// IncidentInput opens or merges an incident for a run.
type IncidentInput struct {
	RunID      string        `json:"run_id"`
	Type       incident.Type `json:"type"`
	Sequence   int64         `json:"sequence,omitempty"`
	TenantID   string        `json:"tenant_id,omitempty"`
	Model      string        `json:"model,omitempty"`
	RequestID  string        `json:"request_id,omitempty"`
	TraceID    string        `json:"trace_id,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// IncidentFilter narrows List results.
type IncidentFilter struct {
	Status incident.Status
	RunID  string
}

// IncidentLog records failed and incomplete runs in a single JSON array on
// disk. File access serializes behind a mutex; the in-memory view is
// authoritative between flushes.
type IncidentLog struct {
	path string

	mu      sync.Mutex
	loaded  bool
	records []incident.Record
}

// NewIncidentLog creates a log persisted at dir/incidents.json.
func NewIncidentLog(dir string) *IncidentLog {
	return &IncidentLog{path: filepath.Join(dir, "incidents.json")}
}

func (l *IncidentLog) load() error {
	if l.loaded {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.loaded = true
			return nil
		}
		return fmt.Errorf("read incident log: %w", err)
	}
	if err := json.Unmarshal(data, &l.records); err != nil {
		return fmt.Errorf("decode incident log: %w", err)
	}
	l.loaded = true
	return nil
}

func (l *IncidentLog) flush() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create incident log dir: %w", err)
	}
	data, err := json.MarshalIndent(l.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode incident log: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write incident log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("publish incident log: %w", err)
	}
	return nil
}

// RecordIncident opens an incident, or merges missing metadata into the
// run's existing open incident. At most one open incident exists per run.
func (l *IncidentLog) RecordIncident(in IncidentInput) (*incident.Record, error) {
	if in.RunID == "" {
		return nil, fmt.Errorf("%w: run id is required", domain.ErrInvalidRequest)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.load(); err != nil {
		return nil, err
	}

	for i := range l.records {
		rec := &l.records[i]
		if rec.RunID != in.RunID || rec.Status != incident.StatusOpen {
			continue
		}
		mergeIncident(rec, in)
		if err := l.flush(); err != nil {
			return nil, err
		}
		cp := *rec
		return &cp, nil
	}

	rec := incident.Record{
		ID:         "inc_" + uuid.NewString(),
		RunID:      in.RunID,
		Status:     incident.StatusOpen,
		Type:       in.Type,
		Sequence:   in.Sequence,
		OccurredAt: domain.Now(),
		TenantID:   in.TenantID,
		Model:      in.Model,
		RequestID:  in.RequestID,
		TraceID:    in.TraceID,
		Reason:     in.Reason,
	}
	l.records = append(l.records, rec)
	if err := l.flush(); err != nil {
		return nil, err
	}
	return &rec, nil
}

func mergeIncident(rec *incident.Record, in IncidentInput) {
	if rec.TenantID == "" {
		rec.TenantID = in.TenantID
	}
	if rec.Model == "" {
		rec.Model = in.Model
	}
	if rec.RequestID == "" {
		rec.RequestID = in.RequestID
	}
	if rec.TraceID == "" {
		rec.TraceID = in.TraceID
	}
	if rec.Reason == "" {
		rec.Reason = in.Reason
	}
}

// ResolveIncident closes an incident. Resolving an already-resolved
// incident is a no-op.
func (l *IncidentLog) ResolveIncident(id string, res incident.Resolution) (*incident.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.load(); err != nil {
		return nil, err
	}
	for i := range l.records {
		rec := &l.records[i]
		if rec.ID != id {
			continue
		}
		if rec.Status == incident.StatusResolved {
			cp := *rec
			return &cp, nil
		}
		resolve(rec, res)
		if err := l.flush(); err != nil {
			return nil, err
		}
		cp := *rec
		return &cp, nil
	}
	return nil, fmt.Errorf("incident %s: %w", id, domain.ErrNotFound)
}

// ResolveIncidentsByRun closes every open incident of a run. Used by retry.
func (l *IncidentLog) ResolveIncidentsByRun(runID string, res incident.Resolution) ([]incident.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.load(); err != nil {
		return nil, err
	}
	var resolved []incident.Record
	for i := range l.records {
		rec := &l.records[i]
		if rec.RunID != runID || rec.Status != incident.StatusOpen {
			continue
		}
		resolve(rec, res)
		resolved = append(resolved, *rec)
	}
	if len(resolved) > 0 {
		if err := l.flush(); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

func resolve(rec *incident.Record, res incident.Resolution) {
	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = domain.Now()
	}
	rec.Status = incident.StatusResolved
	rec.Resolution = &res
}

// List returns incidents matching the filter, newest first.
func (l *IncidentLog) List(filter IncidentFilter) ([]incident.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.load(); err != nil {
		return nil, err
	}
	out := make([]incident.Record, 0, len(l.records))
	for i := len(l.records) - 1; i >= 0; i-- {
		rec := l.records[i]
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.RunID != "" && rec.RunID != filter.RunID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
