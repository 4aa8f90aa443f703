// Package safety defines the per-run safety snapshot: refusal counters,
// hashed caller identifiers and moderator review notes.
package safety

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Disposition is a moderator's verdict on a reviewed run.
type Disposition string

const (
	DispositionApproved  Disposition = "approved"
	DispositionEscalated Disposition = "escalated"
	DispositionBlocked   Disposition = "blocked"
	DispositionInfo      Disposition = "info"
)

// ModeratorNote is one free-form review note attached to a run.
type ModeratorNote struct {
	Reviewer    string      `json:"reviewer"`
	Note        string      `json:"note"`
	Disposition Disposition `json:"disposition"`
	RecordedAt  time.Time   `json:"recorded_at"`
}

// Snapshot is the safety state of a run. RefusalCount only ever grows within
// a run's lifetime; rollback is the single exception.
type Snapshot struct {
	HashedIdentifier string          `json:"hashed_identifier,omitempty"`
	RefusalCount     int             `json:"refusal_count"`
	LastRefusalAt    *time.Time      `json:"last_refusal_at,omitempty"`
	Notes            []ModeratorNote `json:"notes,omitempty"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	cp := s
	if s.LastRefusalAt != nil {
		t := *s.LastRefusalAt
		cp.LastRefusalAt = &t
	}
	if s.Notes != nil {
		cp.Notes = append([]ModeratorNote(nil), s.Notes...)
	}
	return cp
}

// HashIdentifier derives the opaque stored form of a caller-supplied safety
// identifier. Raw identifiers never reach the archive.
func HashIdentifier(identifier string) string {
	sum := blake2b.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])
}
