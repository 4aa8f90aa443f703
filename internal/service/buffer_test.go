package service_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/Strob0t/RunForge/internal/domain/run"
	"github.com/Strob0t/RunForge/internal/service"
)

func apply(t *testing.T, buf *service.StreamBuffer, raw string) {
	t.Helper()
	buf.Apply(providerEvent(t, raw))
}

func TestBufferTextStitching(t *testing.T) {
	buf := service.NewStreamBuffer()
	apply(t, buf, `{"type":"response.output_item.added","item":{"id":"msg_1","type":"message","role":"assistant"}}`)
	apply(t, buf, `{"type":"response.output_text.delta","item_id":"msg_1","delta":"hel"}`)
	apply(t, buf, `{"type":"response.output_text.delta","item_id":"msg_1","delta":"lo"}`)

	msgs := buf.Messages()
	if len(msgs) != 1 || msgs[0].Text != "hello" {
		t.Fatalf("Messages = %+v, want one message %q", msgs, "hello")
	}

	// The done event's text is authoritative over accumulated deltas.
	apply(t, buf, `{"type":"response.output_text.done","item_id":"msg_1","text":"hello there"}`)
	msgs = buf.Messages()
	if msgs[0].Text != "hello there" {
		t.Errorf("final text = %q, want %q", msgs[0].Text, "hello there")
	}
}

func TestBufferInterleavedItems(t *testing.T) {
	buf := service.NewStreamBuffer()
	apply(t, buf, `{"type":"response.output_text.delta","item_id":"a","delta":"first"}`)
	apply(t, buf, `{"type":"response.output_text.delta","item_id":"b","delta":"second"}`)
	apply(t, buf, `{"type":"response.output_text.delta","item_id":"a","delta":"!"}`)

	msgs := buf.Messages()
	if len(msgs) != 2 {
		t.Fatalf("message count = %d, want 2", len(msgs))
	}
	if msgs[0].ID != "a" || msgs[0].Text != "first!" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].ID != "b" || msgs[1].Text != "second" {
		t.Errorf("second message = %+v", msgs[1])
	}
}

func TestBufferReasoningAndRefusals(t *testing.T) {
	buf := service.NewStreamBuffer()
	apply(t, buf, `{"type":"response.reasoning_summary_part.done","part":{"type":"summary_text","text":"thinking"}}`)
	apply(t, buf, `{"type":"response.reasoning_summary_part.done","part":{"type":"other","text":"ignored"}}`)
	apply(t, buf, `{"type":"response.refusal.done","refusal":"I must decline"}`)

	if got := buf.Reasoning(); !reflect.DeepEqual(got, []string{"thinking"}) {
		t.Errorf("Reasoning = %v", got)
	}
	if got := buf.Refusals(); !reflect.DeepEqual(got, []string{"I must decline"}) {
		t.Errorf("Refusals = %v", got)
	}
}

func TestBufferAudioStitching(t *testing.T) {
	buf := service.NewStreamBuffer()
	apply(t, buf, `{"type":"response.output_item.added","item":{"id":"msg","type":"message","role":"assistant"}}`)
	apply(t, buf, `{"type":"response.output_audio.delta","item_id":"msg","delta":"QUJD"}`)
	apply(t, buf, `{"type":"response.output_audio.delta","item_id":"msg","delta":"REY="}`)
	apply(t, buf, `{"type":"response.output_audio_transcript.done","item_id":"msg","transcript":"hello world"}`)
	apply(t, buf, `{"type":"response.output_audio.done","item_id":"msg","format":"mp3"}`)

	segs := buf.OutputAudio()
	if len(segs) != 1 {
		t.Fatalf("segment count = %d, want 1", len(segs))
	}
	want := service.AudioSegment{ItemID: "msg", AudioBase64: "QUJDREY=", Format: "mp3", Transcript: "hello world"}
	if segs[0] != want {
		t.Errorf("segment = %+v, want %+v", segs[0], want)
	}
}

func TestBufferInputTranscriptsSkipEmpty(t *testing.T) {
	buf := service.NewStreamBuffer()
	apply(t, buf, `{"type":"conversation.item.input_audio_transcription.delta","item_id":"in_1","delta":"turn "}`)
	apply(t, buf, `{"type":"conversation.item.input_audio_transcription.done","item_id":"in_1","transcript":"turn one"}`)
	apply(t, buf, `{"type":"conversation.item.input_audio_transcription.delta","item_id":"in_2","delta":""}`)

	got := buf.InputTranscripts()
	if len(got) != 1 || got[0].Transcript != "turn one" {
		t.Errorf("InputTranscripts = %+v", got)
	}
}

func TestBufferImages(t *testing.T) {
	buf := service.NewStreamBuffer()
	apply(t, buf, `{"type":"response.image_generation_call.partial_image","item_id":"img","partial_image_b64":"frame1"}`)
	apply(t, buf, `{"type":"response.image_generation_call.partial_image","item_id":"img","partial_image_b64":"frame2"}`)
	apply(t, buf, `{"type":"response.image_generation_call.completed","item_id":"img","background":null,"size":"1024x1024","created_at":1700000000}`)

	imgs := buf.Images()
	if len(imgs) != 1 {
		t.Fatalf("image count = %d, want 1", len(imgs))
	}
	img := imgs[0]
	if img.B64JSON != "frame2" {
		t.Errorf("completed without b64 must fall back to last partial, got %q", img.B64JSON)
	}
	if string(img.Background) != "null" {
		t.Errorf("explicit null background must surface as literal null, got %q", img.Background)
	}
	if img.Size != "1024x1024" {
		t.Errorf("size = %q", img.Size)
	}
	if img.CreatedAt != "2023-11-14T22:13:20.000Z" {
		t.Errorf("created_at = %q", img.CreatedAt)
	}
}

func TestBufferIgnoresUnknownAndMalformed(t *testing.T) {
	buf := service.NewStreamBuffer()
	apply(t, buf, `{"type":"response.some_future_event","item_id":"x"}`)
	buf.Apply(nil)
	apply(t, buf, `{"type":"response.output_text.delta"}`) // no item id

	if len(buf.Messages()) != 0 {
		t.Errorf("unknown events must not create artifacts")
	}
}

func TestBufferSeedFromResultMatchesLive(t *testing.T) {
	live := service.NewStreamBuffer()
	apply(t, live, `{"type":"response.output_item.added","item":{"id":"msg_1","type":"message","role":"assistant"}}`)
	apply(t, live, `{"type":"response.output_text.delta","item_id":"msg_1","delta":"hi "}`)
	apply(t, live, `{"type":"response.output_text.done","item_id":"msg_1","text":"hi there"}`)
	apply(t, live, `{"type":"response.refusal.done","refusal":"no"}`)
	apply(t, live, `{"type":"response.reasoning_summary_part.done","part":{"type":"summary_text","text":"brief"}}`)

	var result run.Result
	if err := json.Unmarshal([]byte(`{
		"id":"resp_1","status":"completed",
		"output":[
			{"id":"msg_1","type":"message","role":"assistant","content":[
				{"type":"output_text","text":"hi there"},
				{"type":"refusal","refusal":"no"}
			]},
			{"id":"rs_1","type":"reasoning","summary":[{"type":"summary_text","text":"brief"}]}
		]
	}`), &result); err != nil {
		t.Fatalf("result: %v", err)
	}

	seeded := service.NewStreamBuffer()
	seeded.SeedFromResult(&result)

	if !reflect.DeepEqual(seeded.Messages(), live.Messages()) {
		t.Errorf("Messages: seeded %+v, live %+v", seeded.Messages(), live.Messages())
	}
	if !reflect.DeepEqual(seeded.Refusals(), live.Refusals()) {
		t.Errorf("Refusals: seeded %+v, live %+v", seeded.Refusals(), live.Refusals())
	}
	if !reflect.DeepEqual(seeded.Reasoning(), live.Reasoning()) {
		t.Errorf("Reasoning: seeded %+v, live %+v", seeded.Reasoning(), live.Reasoning())
	}

	// Seeding the buffer that streamed the run is a no-op.
	live.SeedFromResult(&result)
	if got := live.Refusals(); !reflect.DeepEqual(got, []string{"no"}) {
		t.Errorf("Refusals after re-seed = %v", got)
	}
	if got := live.Reasoning(); !reflect.DeepEqual(got, []string{"brief"}) {
		t.Errorf("Reasoning after re-seed = %v", got)
	}
}

func TestBufferSeedSkipsStreamedAudio(t *testing.T) {
	buf := service.NewStreamBuffer()
	apply(t, buf, `{"type":"response.output_audio.delta","item_id":"audio_1","delta":"QUJD"}`)
	apply(t, buf, `{"type":"response.output_audio.delta","item_id":"audio_1","delta":"REY="}`)

	var result run.Result
	if err := json.Unmarshal([]byte(`{
		"status":"completed",
		"output":[{"id":"audio_1","type":"message","role":"assistant","content":[
			{"type":"output_audio","data":"QUJDREY=","format":"mp3","transcript":"hello"}
		]}]
	}`), &result); err != nil {
		t.Fatalf("result: %v", err)
	}
	buf.SeedFromResult(&result)

	segs := buf.OutputAudio()
	if len(segs) != 1 || segs[0].AudioBase64 != "QUJDREY=" {
		t.Errorf("segments after seed = %+v, streamed chunks must stand alone", segs)
	}
}
