package event_test

import (
	"reflect"
	"testing"

	"github.com/Strob0t/RunForge/internal/domain/event"
	"github.com/Strob0t/RunForge/internal/domain/run"
)

func TestParseRetainsRawPayload(t *testing.T) {
	raw := []byte(`{"type":"response.output_text.delta","sequence_number":3,"item_id":"msg","delta":"hi","vendor_extra":true}`)
	ev, err := event.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.Type != event.TypeOutputTextDelta || ev.SequenceNumber != 3 || ev.Delta != "hi" {
		t.Errorf("envelope = %+v", ev)
	}
	// Unknown fields survive through the archival payload.
	if string(ev.Payload()) != string(raw) {
		t.Errorf("payload = %s", ev.Payload())
	}
}

func TestPayloadMarshalsSyntheticEvents(t *testing.T) {
	ev := &event.ProviderEvent{
		Type:           event.TypeCompleted,
		SequenceNumber: 1,
		Response:       &run.Result{ID: "resp_1", Status: "completed"},
	}
	round, err := event.Parse(ev.Payload())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if round.Type != event.TypeCompleted || round.Response == nil || round.Response.ID != "resp_1" {
		t.Errorf("round trip = %+v", round)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		typ      string
		status   run.Status
		terminal bool
	}{
		{event.TypeCreated, run.StatusInProgress, false},
		{event.TypeInProgress, run.StatusInProgress, false},
		{event.TypeCompleted, run.StatusCompleted, true},
		{event.TypeFailed, run.StatusFailed, true},
		{event.TypeCancelled, run.StatusCancelled, true},
		{event.TypeIncomplete, run.StatusIncomplete, true},
	}
	for _, tc := range cases {
		status, ok := event.StatusFor(tc.typ)
		if !ok || status != tc.status || status.Terminal() != tc.terminal {
			t.Errorf("StatusFor(%s) = %s/%v", tc.typ, status, ok)
		}
	}
	if _, ok := event.StatusFor(event.TypeOutputTextDelta); ok {
		t.Errorf("deltas carry no status")
	}
}

func TestDecodedArguments(t *testing.T) {
	want := map[string]any{"city": "Paris"}

	direct, _ := event.Parse([]byte(`{"type":"response.function_call_arguments.done","arguments":{"city":"Paris"}}`))
	if got := direct.DecodedArguments(); !reflect.DeepEqual(got, want) {
		t.Errorf("direct = %v", got)
	}

	// Providers double-encode tool arguments as a JSON string.
	nested, _ := event.Parse([]byte(`{"type":"response.function_call_arguments.done","arguments":"{\"city\":\"Paris\"}"}`))
	if got := nested.DecodedArguments(); !reflect.DeepEqual(got, want) {
		t.Errorf("double-encoded = %v", got)
	}

	plain, _ := event.Parse([]byte(`{"type":"response.function_call_arguments.done","arguments":"not json"}`))
	if got := plain.DecodedArguments(); got != "not json" {
		t.Errorf("plain string = %v", got)
	}

	empty := &event.ProviderEvent{}
	if got := empty.DecodedArguments(); got != nil {
		t.Errorf("empty = %v", got)
	}
}

func TestReferencesCall(t *testing.T) {
	payload := []byte(`{"type":"response.function_call_arguments.done","call_id":"c1","name":"lookup"}`)
	if !event.ReferencesCall(payload, "c1") {
		t.Errorf("call_id match missed")
	}
	if event.ReferencesCall(payload, "c2") {
		t.Errorf("false positive on c2")
	}
	nested := []byte(`{"type":"response.output_item.done","item":{"id":"item_1","call_id":"c3"}}`)
	if !event.ReferencesCall(nested, "c3") {
		t.Errorf("nested call_id match missed")
	}
	if event.ReferencesCall(nil, "c1") || event.ReferencesCall(payload, "") {
		t.Errorf("empty inputs must not match")
	}
}
