package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/RunForge/internal/domain/conversation"
	"github.com/Strob0t/RunForge/internal/port/convstore"
)

// ConvInput describes the run asking for conversation state.
type ConvInput struct {
	TenantID               string
	RunID                  string
	ExistingConversationID string
	PreviousResponseID     string
	Policy                 conversation.Policy
}

// ConvManager negotiates conversation continuity per run: stateless runs
// carry nothing forward, vendor runs reuse (or mint) a per-tenant
// conversation id held in the backing store.
type ConvManager struct {
	store      convstore.Store
	defaultTTL time.Duration
}

// NewConvManager creates a manager over the given store.
func NewConvManager(store convstore.Store, defaultTTL time.Duration) *ConvManager {
	return &ConvManager{store: store, defaultTTL: defaultTTL}
}

func tenantKey(tenantID string) string {
	return "conversation:" + tenantID
}

// Prepare resolves the conversation context for a run.
func (m *ConvManager) Prepare(ctx context.Context, in ConvInput) (conversation.Context, error) {
	if in.Policy.Strategy != conversation.StrategyVendor {
		return conversation.Context{
			StoreFlag:          false,
			PreviousResponseID: in.PreviousResponseID,
		}, nil
	}

	ttl := m.defaultTTL
	if in.Policy.TTLSeconds > 0 {
		ttl = time.Duration(in.Policy.TTLSeconds) * time.Second
	}
	key := tenantKey(in.TenantID)

	convID := in.ExistingConversationID
	if convID == "" {
		stored, ok, err := m.store.Get(ctx, key)
		if err != nil {
			return conversation.Context{}, fmt.Errorf("conversation lookup: %w", err)
		}
		if ok {
			convID = stored
		}
	}
	if convID == "" {
		convID = "conv_" + in.RunID
	}
	if err := m.store.Set(ctx, key, convID, ttl); err != nil {
		return conversation.Context{}, fmt.Errorf("conversation store: %w", err)
	}

	store := m.store
	return conversation.Context{
		ConversationID:     convID,
		StoreFlag:          true,
		PreviousResponseID: in.PreviousResponseID,
		Cleanup: func(ctx context.Context) error {
			return store.Delete(ctx, key)
		},
	}, nil
}
