package run

import "encoding/json"

// Usage is the provider's token accounting for a run.
type Usage struct {
	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`
	TotalTokens  int64 `json:"total_tokens,omitempty"`
}

// ContentPart is one piece of an output item's content: text, refusal,
// audio or a reasoning summary fragment.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Refusal    string `json:"refusal,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Data       string `json:"data,omitempty"`
	Format     string `json:"format,omitempty"`
}

// OutputItem is one entry of a result's output array. Items are
// heterogeneous; fields not covered here stay available in Raw.
type OutputItem struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type,omitempty"`
	Role    string          `json:"role,omitempty"`
	Status  string          `json:"status,omitempty"`
	Content []ContentPart   `json:"content,omitempty"`
	Summary []ContentPart   `json:"summary,omitempty"`
	CallID  string          `json:"call_id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type outputItemAlias OutputItem

// UnmarshalJSON keeps the raw item bytes alongside the decoded fields so
// archives and delegation outputs stay lossless.
func (o *OutputItem) UnmarshalJSON(data []byte) error {
	var alias outputItemAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*o = OutputItem(alias)
	o.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Result is the provider's response snapshot for a run.
type Result struct {
	ID     string       `json:"id,omitempty"`
	Status string       `json:"status,omitempty"`
	Model  string       `json:"model,omitempty"`
	Output []OutputItem `json:"output,omitempty"`
	Usage  *Usage       `json:"usage,omitempty"`
}

// TotalTokens returns usage.total_tokens, or 0 when usage is absent.
func (r *Result) TotalTokens() int64 {
	if r == nil || r.Usage == nil {
		return 0
	}
	return r.Usage.TotalTokens
}

// Clone returns a deep copy of the result.
func (r Result) Clone() Result {
	cp := r
	if r.Output != nil {
		cp.Output = make([]OutputItem, len(r.Output))
		for i, item := range r.Output {
			ci := item
			if item.Content != nil {
				ci.Content = append([]ContentPart(nil), item.Content...)
			}
			if item.Summary != nil {
				ci.Summary = append([]ContentPart(nil), item.Summary...)
			}
			ci.Output = cloneRaw(item.Output)
			ci.Raw = cloneRaw(item.Raw)
			cp.Output[i] = ci
		}
	}
	if r.Usage != nil {
		u := *r.Usage
		cp.Usage = &u
	}
	return cp
}
