// Package provider defines the port interface for the upstream model
// provider. The provider's schema is opaque to the control plane beyond the
// request and result shapes defined in the run domain.
package provider

import (
	"context"

	"github.com/Strob0t/RunForge/internal/domain/run"
)

// Headers is the provider's response header map, consumed by the rate-limit
// tracker.
type Headers map[string]string

// Client is the single operation the core consumes from the upstream
// provider. Create blocks until the provider returns; callers impose their
// own timeouts through ctx.
type Client interface {
	Create(ctx context.Context, req run.Request) (*run.Result, Headers, error)
}
