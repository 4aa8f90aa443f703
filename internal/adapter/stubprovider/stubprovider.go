// Package stubprovider implements the provider port with a deterministic
// in-process stub, selected by the stub runtime mode. It lets the full
// control plane run without upstream credentials.
package stubprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/Strob0t/RunForge/internal/domain/run"
	"github.com/Strob0t/RunForge/internal/port/provider"
)

// Client returns a completed single-message result for every request.
type Client struct {
	calls atomic.Int64
}

// New creates a stub provider client.
func New() *Client {
	return &Client{}
}

// Create synthesizes a completed result echoing a fixed greeting, with
// deterministic usage and rate-limit headers.
func (c *Client) Create(ctx context.Context, req run.Request) (*run.Result, provider.Headers, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	n := c.calls.Add(1)
	msgID := fmt.Sprintf("msg_stub_%d", n)
	item := run.OutputItem{
		ID:   msgID,
		Type: "message",
		Role: "assistant",
		Content: []run.ContentPart{
			{Type: "output_text", Text: "hello"},
		},
	}
	item.Raw, _ = json.Marshal(item)
	result := &run.Result{
		ID:     fmt.Sprintf("resp_stub_%d", n),
		Status: "completed",
		Model:  req.Model,
		Output: []run.OutputItem{item},
		Usage:  &run.Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
	}
	headers := provider.Headers{
		"x-request-id":                   fmt.Sprintf("req_stub_%d", n),
		"x-ratelimit-limit-requests":     "10000",
		"x-ratelimit-remaining-requests": "9999",
		"x-ratelimit-reset-requests":     "1",
		"x-ratelimit-limit-tokens":       "1000000",
		"x-ratelimit-remaining-tokens":   "999970",
		"x-ratelimit-reset-tokens":       "1",
		"openai-processing-ms":           "42",
	}
	return result, headers, nil
}
