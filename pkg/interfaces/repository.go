package interfaces

import (
	"context"

	"github.com/m-mizutani/chatmig/pkg/model"
)

// TargetStore is the store migrated chats and memories are written to.
// Mutations are serialized by the caller.
type TargetStore interface {
	// Snapshot captures the full store state before any mutation
	Snapshot(ctx context.Context) (*model.Snapshot, error)

	// Restore puts the store back to the snapshot state
	Restore(ctx context.Context, snap *model.Snapshot) error

	// UpsertChat inserts or replaces a chat keyed by its ID, together with its tags
	UpsertChat(ctx context.Context, chat *model.ChatRecord) error

	// MemoryExists reports whether userID already has a memory with the dedup key
	MemoryExists(ctx context.Context, userID, key string) (bool, error)

	// InsertMemory adds a memory entry for userID
	InsertMemory(ctx context.Context, userID string, entry model.MemoryEntry) error

	// ListUsers returns the accounts of the store
	ListUsers(ctx context.Context) ([]*model.User, error)
}
