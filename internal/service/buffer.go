package service

import (
	"encoding/json"
	"time"

	"github.com/Strob0t/RunForge/internal/domain"
	"github.com/Strob0t/RunForge/internal/domain/event"
	"github.com/Strob0t/RunForge/internal/domain/run"
)

// BufferedMessage is one stitched assistant message.
type BufferedMessage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// AudioSegment is one stitched audio output with its transcript.
type AudioSegment struct {
	ItemID      string `json:"item_id"`
	AudioBase64 string `json:"audio_base64"`
	Format      string `json:"format,omitempty"`
	Transcript  string `json:"transcript,omitempty"`
}

// TranscriptSegment is one stitched input audio transcription.
type TranscriptSegment struct {
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

// BufferedImage is one stitched image generation call. Background keeps its
// raw JSON encoding so an explicit null is distinguishable from absent.
type BufferedImage struct {
	ItemID     string          `json:"item_id"`
	B64JSON    string          `json:"b64_json,omitempty"`
	ImageURL   string          `json:"image_url,omitempty"`
	Background json.RawMessage `json:"background,omitempty"`
	Size       string          `json:"size,omitempty"`
	CreatedAt  string          `json:"created_at,omitempty"`
}

type messageAcc struct {
	id    string
	parts []string
	final string
	done  bool
}

type audioAcc struct {
	itemID          string
	chunks          []string
	format          string
	transcriptParts []string
	transcript      string
	transcriptDone  bool
}

type imageAcc struct {
	itemID     string
	partials   []string
	b64        string
	imageURL   string
	background json.RawMessage
	size       string
	createdAt  string
}

// StreamBuffer stitches one run's provider event deltas into coherent
// artifacts: messages, reasoning summaries, refusals, audio, transcripts and
// images. It is per-run, in-memory and tolerant of malformed events; the
// coordinator serializes access.
type StreamBuffer struct {
	messageOrder []string
	messages     map[string]*messageAcc

	reasoning []string
	refusals  []string

	audioOrder []string
	audio      map[string]*audioAcc

	inputOrder []string
	input      map[string]*audioAcc

	imageOrder []string
	images     map[string]*imageAcc
}

// NewStreamBuffer creates an empty buffer.
func NewStreamBuffer() *StreamBuffer {
	return &StreamBuffer{
		messages: make(map[string]*messageAcc),
		audio:    make(map[string]*audioAcc),
		input:    make(map[string]*audioAcc),
		images:   make(map[string]*imageAcc),
	}
}

// Apply folds one provider event into the buffer. Unknown event types and
// malformed payloads are ignored.
func (b *StreamBuffer) Apply(ev *event.ProviderEvent) {
	if ev == nil {
		return
	}
	switch ev.Type {
	case event.TypeOutputItemAdded:
		if ev.Item != nil && ev.Item.Type == "message" && ev.Item.Role == "assistant" {
			b.message(itemID(ev))
		}
	case event.TypeOutputTextDelta:
		if id := itemID(ev); id != "" {
			acc := b.message(id)
			acc.parts = append(acc.parts, ev.Delta)
		}
	case event.TypeOutputTextDone:
		if id := itemID(ev); id != "" {
			acc := b.message(id)
			if ev.Text != "" {
				acc.final = ev.Text
				acc.done = true
			}
		}
	case event.TypeReasoningSummaryPartDone:
		if ev.Part != nil && ev.Part.Type == "summary_text" {
			b.reasoning = append(b.reasoning, ev.Part.Text)
		}
	case event.TypeRefusalDone:
		if ev.Refusal != "" {
			b.refusals = append(b.refusals, ev.Refusal)
		}
	case event.TypeOutputAudioDelta:
		if id := itemID(ev); id != "" {
			acc := b.segment(&b.audioOrder, b.audio, id)
			acc.chunks = append(acc.chunks, ev.Delta)
			if ev.Format != "" {
				acc.format = ev.Format
			}
		}
	case event.TypeOutputAudioDone:
		if id := itemID(ev); id != "" {
			acc := b.segment(&b.audioOrder, b.audio, id)
			if ev.Format != "" {
				acc.format = ev.Format
			}
		}
	case event.TypeOutputAudioTranscriptDelta:
		if id := itemID(ev); id != "" {
			acc := b.segment(&b.audioOrder, b.audio, id)
			acc.transcriptParts = append(acc.transcriptParts, ev.Delta)
		}
	case event.TypeOutputAudioTranscriptDone:
		if id := itemID(ev); id != "" {
			acc := b.segment(&b.audioOrder, b.audio, id)
			if ev.Transcript != "" {
				acc.transcript = ev.Transcript
				acc.transcriptDone = true
			}
		}
	case event.TypeInputTranscriptionDelta:
		if id := itemID(ev); id != "" {
			acc := b.segment(&b.inputOrder, b.input, id)
			acc.transcriptParts = append(acc.transcriptParts, ev.Delta)
		}
	case event.TypeInputTranscriptionDone:
		if id := itemID(ev); id != "" {
			acc := b.segment(&b.inputOrder, b.input, id)
			if ev.Transcript != "" {
				acc.transcript = ev.Transcript
				acc.transcriptDone = true
			}
		}
	case event.TypeImagePartial:
		if id := itemID(ev); id != "" {
			acc := b.image(id)
			if ev.PartialImageB64 != "" {
				acc.partials = append(acc.partials, ev.PartialImageB64)
			}
		}
	case event.TypeImageCompleted:
		if id := itemID(ev); id != "" {
			acc := b.image(id)
			if ev.B64JSON != "" {
				acc.b64 = ev.B64JSON
			}
			if ev.ImageURL != "" {
				acc.imageURL = ev.ImageURL
			}
			if ev.Background != nil {
				acc.background = append(json.RawMessage(nil), ev.Background...)
			}
			if ev.Size != "" {
				acc.size = ev.Size
			}
			if ev.CreatedAt != 0 {
				acc.createdAt = domain.FormatTime(time.Unix(ev.CreatedAt, 0))
			}
		}
	}
}

func itemID(ev *event.ProviderEvent) string {
	if ev.ItemID != "" {
		return ev.ItemID
	}
	if ev.Item != nil && ev.Item.ID != "" {
		return ev.Item.ID
	}
	return ""
}

func (b *StreamBuffer) message(id string) *messageAcc {
	if acc, ok := b.messages[id]; ok {
		return acc
	}
	acc := &messageAcc{id: id}
	b.messages[id] = acc
	b.messageOrder = append(b.messageOrder, id)
	return acc
}

func (b *StreamBuffer) segment(order *[]string, accs map[string]*audioAcc, id string) *audioAcc {
	if acc, ok := accs[id]; ok {
		return acc
	}
	acc := &audioAcc{itemID: id}
	accs[id] = acc
	*order = append(*order, id)
	return acc
}

func (b *StreamBuffer) image(id string) *imageAcc {
	if acc, ok := b.images[id]; ok {
		return acc
	}
	acc := &imageAcc{itemID: id}
	b.images[id] = acc
	b.imageOrder = append(b.imageOrder, id)
	return acc
}

// Messages returns the stitched assistant messages in first-seen order.
func (b *StreamBuffer) Messages() []BufferedMessage {
	out := make([]BufferedMessage, 0, len(b.messageOrder))
	for _, id := range b.messageOrder {
		acc := b.messages[id]
		text := acc.final
		if !acc.done {
			text = concat(acc.parts)
		}
		out = append(out, BufferedMessage{ID: id, Text: text})
	}
	return out
}

// Reasoning returns the accumulated reasoning summary fragments.
func (b *StreamBuffer) Reasoning() []string {
	return append([]string(nil), b.reasoning...)
}

// Refusals returns the accumulated refusal strings.
func (b *StreamBuffer) Refusals() []string {
	return append([]string(nil), b.refusals...)
}

// OutputAudio returns the stitched audio segments in first-seen order.
func (b *StreamBuffer) OutputAudio() []AudioSegment {
	out := make([]AudioSegment, 0, len(b.audioOrder))
	for _, id := range b.audioOrder {
		acc := b.audio[id]
		out = append(out, AudioSegment{
			ItemID:      id,
			AudioBase64: concat(acc.chunks),
			Format:      acc.format,
			Transcript:  transcriptOf(acc),
		})
	}
	return out
}

// InputTranscripts returns stitched input transcriptions, skipping segments
// whose transcript is still empty.
func (b *StreamBuffer) InputTranscripts() []TranscriptSegment {
	out := make([]TranscriptSegment, 0, len(b.inputOrder))
	for _, id := range b.inputOrder {
		acc := b.input[id]
		t := transcriptOf(acc)
		if t == "" {
			continue
		}
		out = append(out, TranscriptSegment{ItemID: id, Transcript: t})
	}
	return out
}

// Images returns the stitched image generations in first-seen order. When a
// completion carried no final b64 payload, the most recent partial frame
// stands in.
func (b *StreamBuffer) Images() []BufferedImage {
	out := make([]BufferedImage, 0, len(b.imageOrder))
	for _, id := range b.imageOrder {
		acc := b.images[id]
		img := BufferedImage{
			ItemID:    id,
			B64JSON:   acc.b64,
			ImageURL:  acc.imageURL,
			Size:      acc.size,
			CreatedAt: acc.createdAt,
		}
		if acc.background != nil {
			img.Background = append(json.RawMessage(nil), acc.background...)
		}
		if img.B64JSON == "" && len(acc.partials) > 0 {
			img.B64JSON = acc.partials[len(acc.partials)-1]
		}
		out = append(out, img)
	}
	return out
}

// SeedFromResult replays a persisted result through the buffer, so a
// re-hydrated run produces the same getter output as the streamed original.
// Artifacts the buffer already holds are left alone: replaying an archived
// timeline and then seeding its result must not duplicate them.
func (b *StreamBuffer) SeedFromResult(result *run.Result) {
	if result == nil {
		return
	}
	seedRefusals := len(b.refusals) == 0
	seedReasoning := len(b.reasoning) == 0
	for _, item := range result.Output {
		switch {
		case item.Type == "message" && item.Role == "assistant":
			_, seenAudio := b.audio[item.ID]
			b.Apply(&event.ProviderEvent{Type: event.TypeOutputItemAdded, ItemID: item.ID, Item: &item})
			var text string
			for _, part := range item.Content {
				switch part.Type {
				case "output_text":
					text += part.Text
				case "refusal":
					if seedRefusals {
						b.Apply(&event.ProviderEvent{Type: event.TypeRefusalDone, Refusal: part.Refusal})
					}
				case "output_audio":
					if seenAudio {
						continue
					}
					b.Apply(&event.ProviderEvent{Type: event.TypeOutputAudioDelta, ItemID: item.ID, Delta: part.Data})
					b.Apply(&event.ProviderEvent{Type: event.TypeOutputAudioDone, ItemID: item.ID, Format: part.Format})
					if part.Transcript != "" {
						b.Apply(&event.ProviderEvent{Type: event.TypeOutputAudioTranscriptDone, ItemID: item.ID, Transcript: part.Transcript})
					}
				}
			}
			if text != "" {
				b.Apply(&event.ProviderEvent{Type: event.TypeOutputTextDone, ItemID: item.ID, Text: text})
			}
		case item.Type == "reasoning":
			if !seedReasoning {
				continue
			}
			for _, part := range item.Summary {
				if part.Type == "summary_text" {
					b.Apply(&event.ProviderEvent{
						Type: event.TypeReasoningSummaryPartDone,
						Part: &event.Part{Type: part.Type, Text: part.Text},
					})
				}
			}
		}
	}
}

func concat(parts []string) string {
	var out string
	for _, p := range parts {
		out += p
	}
	return out
}

func transcriptOf(acc *audioAcc) string {
	if acc.transcriptDone {
		return acc.transcript
	}
	return concat(acc.transcriptParts)
}
