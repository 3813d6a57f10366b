package migrate

import (
	"context"

	"github.com/m-mizutani/chatmig/pkg/model"
	"github.com/m-mizutani/chatmig/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// writeResult is the outcome of applying a batch to the store
type writeResult struct {
	snapshot *model.Snapshot
	chats    int
	memories int
	restored bool
}

// write applies records and memories to the store inside a snapshot envelope.
// Nothing is written unless the snapshot succeeds, and any failed write rolls
// the store back to it.
func (u *UseCase) write(ctx context.Context, userID string, records []*model.ChatRecord, memories []model.MemoryEntry) (*writeResult, error) {
	logger := logging.From(ctx)
	result := &writeResult{}

	snap, err := u.store.Snapshot(ctx)
	if err != nil {
		return result, &model.BackupError{Err: err}
	}
	result.snapshot = snap
	logger.Info("snapshot taken", "path", snap.Path, "size", snap.Size)

	if u.backup != nil {
		if err := u.backup.Archive(ctx, snap); err != nil {
			logger.Warn("failed to archive snapshot", "error", err, "path", snap.Path)
		}
	}

	if u.journal != nil {
		if err := u.journal.Write(snap); err != nil {
			return result, &model.BackupError{Err: err}
		}
	}

	if err := u.apply(ctx, userID, records, memories, result); err != nil {
		logger.Error("write failed, restoring snapshot", "error", err)

		// the run may have been cancelled, the restore must still complete
		restoreCtx := context.WithoutCancel(ctx)
		if rErr := u.store.Restore(restoreCtx, snap); rErr != nil {
			return result, &model.RestoreError{
				Snapshot: snap,
				Err:      goerr.Wrap(rErr, "failed to restore after write failure", goerr.V("write_error", err.Error())),
			}
		}
		result.restored = true

		if u.journal != nil {
			if jErr := u.journal.Clear(); jErr != nil {
				logger.Warn("failed to clear journal", "error", jErr)
			}
		}
		return result, err
	}

	if u.journal != nil {
		if err := u.journal.Clear(); err != nil {
			logger.Warn("failed to clear journal", "error", err)
		}
	}
	if u.backup != nil {
		if err := u.backup.Finalize(ctx, snap); err != nil {
			logger.Warn("failed to rotate snapshots", "error", err)
		}
	}

	return result, nil
}

func (u *UseCase) apply(ctx context.Context, userID string, records []*model.ChatRecord, memories []model.MemoryEntry, result *writeResult) error {
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return &model.StoreWriteError{Op: "upsert_chat", Key: rec.ID, Err: err}
		}
		if err := u.store.UpsertChat(ctx, rec); err != nil {
			return &model.StoreWriteError{Op: "upsert_chat", Key: rec.ID, Err: err}
		}
		result.chats++
	}

	for _, entry := range memories {
		if err := ctx.Err(); err != nil {
			return &model.StoreWriteError{Op: "insert_memory", Key: entry.Key, Err: err}
		}
		if err := u.store.InsertMemory(ctx, userID, entry); err != nil {
			return &model.StoreWriteError{Op: "insert_memory", Key: entry.Key, Err: err}
		}
		result.memories++
	}

	return nil
}
