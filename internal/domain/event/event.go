// Package event defines the immutable event records of a run's timeline and
// the provider event envelope routed through the control plane.
package event

import (
	"encoding/json"
	"time"

	"github.com/Strob0t/RunForge/internal/domain/run"
)

// Provider event types with routing or buffering semantics. Anything else
// passes through the archive untouched.
const (
	TypeQueued     = "response.queued"
	TypeCreated    = "response.created"
	TypeInProgress = "response.in_progress"
	TypeCompleted  = "response.completed"
	TypeFailed     = "response.failed"
	TypeCancelled  = "response.cancelled"
	TypeIncomplete = "response.incomplete"

	TypeOutputItemAdded = "response.output_item.added"
	TypeOutputItemDone  = "response.output_item.done"
	TypeOutputTextDelta = "response.output_text.delta"
	TypeOutputTextDone  = "response.output_text.done"

	TypeReasoningSummaryPartDone = "response.reasoning_summary_part.done"
	TypeRefusalDone              = "response.refusal.done"

	TypeOutputAudioDelta           = "response.output_audio.delta"
	TypeOutputAudioDone            = "response.output_audio.done"
	TypeOutputAudioTranscriptDelta = "response.output_audio_transcript.delta"
	TypeOutputAudioTranscriptDone  = "response.output_audio_transcript.done"

	TypeInputTranscriptionDelta = "conversation.item.input_audio_transcription.delta"
	TypeInputTranscriptionDone  = "conversation.item.input_audio_transcription.done"

	TypeImagePartial   = "response.image_generation_call.partial_image"
	TypeImageCompleted = "response.image_generation_call.completed"

	TypeFunctionCallArgsDone = "response.function_call_arguments.done"

	// TypeRollback is the synthetic marker appended after a rollback cut.
	TypeRollback = "responses.rollback"
)

// StatusFor projects a run status from an event type. The second return is
// false for pass-through event types.
func StatusFor(eventType string) (run.Status, bool) {
	switch eventType {
	case TypeQueued:
		return run.StatusQueued, true
	case TypeCreated, TypeInProgress:
		return run.StatusInProgress, true
	case TypeCompleted:
		return run.StatusCompleted, true
	case TypeFailed:
		return run.StatusFailed, true
	case TypeCancelled:
		return run.StatusCancelled, true
	case TypeIncomplete:
		return run.StatusIncomplete, true
	}
	return "", false
}

// Record is a single archived event. Identity is (RunID, Sequence); records
// are append-only and never mutated once written.
type Record struct {
	RunID      string          `json:"run_id"`
	Sequence   int64           `json:"sequence"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}
