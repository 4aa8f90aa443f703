package event

import (
	"encoding/json"

	"github.com/Strob0t/RunForge/internal/domain/run"
)

// Part is the reasoning summary fragment carried by
// response.reasoning_summary_part.done.
type Part struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// FunctionRef is the nested function reference some providers emit on
// function-call events instead of a top-level name.
type FunctionRef struct {
	Name string `json:"name,omitempty"`
}

// ProviderEvent is the decoded envelope of one provider stream event.
// Providers emit dozens of event types with open payloads; the envelope
// decodes the fields this control plane acts on and keeps the raw bytes for
// the archive. Handlers switch on Type and read only the fields that type
// defines.
type ProviderEvent struct {
	Type           string          `json:"type"`
	SequenceNumber int64           `json:"sequence_number,omitempty"`
	Response       *run.Result     `json:"response,omitempty"`
	ItemID         string          `json:"item_id,omitempty"`
	Item           *run.OutputItem `json:"item,omitempty"`
	Delta          string          `json:"delta,omitempty"`
	Text           string          `json:"text,omitempty"`
	Part           *Part           `json:"part,omitempty"`
	Refusal        string          `json:"refusal,omitempty"`
	Transcript     string          `json:"transcript,omitempty"`
	Format         string          `json:"format,omitempty"`

	// Function-call fields (response.function_call_arguments.done).
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Function  *FunctionRef    `json:"function,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Image-generation fields. Background keeps its raw encoding so an
	// explicit null survives the round trip.
	PartialImageB64 string          `json:"partial_image_b64,omitempty"`
	B64JSON         string          `json:"b64_json,omitempty"`
	ImageURL        string          `json:"image_url,omitempty"`
	Background      json.RawMessage `json:"background,omitempty"`
	Size            string          `json:"size,omitempty"`
	CreatedAt       int64           `json:"created_at,omitempty"`

	raw json.RawMessage
}

type providerEventAlias ProviderEvent

// UnmarshalJSON decodes the envelope and retains the raw bytes.
func (e *ProviderEvent) UnmarshalJSON(data []byte) error {
	var alias providerEventAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*e = ProviderEvent(alias)
	e.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Parse decodes raw provider event JSON into an envelope.
func Parse(data []byte) (*ProviderEvent, error) {
	var ev ProviderEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Payload returns the event's archival form: the original bytes when the
// event arrived over the wire, otherwise a marshal of the envelope itself
// (synthetic events built in-process).
func (e *ProviderEvent) Payload() json.RawMessage {
	if e.raw != nil {
		return e.raw
	}
	data, err := json.Marshal((*providerEventAlias)(e))
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// DecodedArguments returns the function-call arguments as a decoded value.
// String payloads that themselves hold JSON are decoded one level further,
// matching how providers double-encode tool arguments.
func (e *ProviderEvent) DecodedArguments() any {
	if len(e.Arguments) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(e.Arguments, &v); err != nil {
		return string(e.Arguments)
	}
	if s, ok := v.(string); ok {
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err == nil {
			return inner
		}
		return s
	}
	return v
}
