package migrate

import (
	"context"

	"github.com/m-mizutani/chatmig/pkg/model"
	"github.com/m-mizutani/chatmig/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Recover restores the store from the snapshot of an interrupted run. It
// returns the restored snapshot, or nil when no run was interrupted.
func (u *UseCase) Recover(ctx context.Context) (*model.Snapshot, error) {
	if u.journal == nil {
		return nil, nil
	}

	snap, err := u.journal.Pending()
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}

	logging.From(ctx).Warn("interrupted migration found, restoring snapshot",
		"journal", u.journal.Path(),
		"snapshot", snap.Path,
		"created_at", snap.CreatedAt,
	)

	restoreCtx := context.WithoutCancel(ctx)
	if u.backup != nil {
		if err := u.backup.Fetch(restoreCtx, snap); err != nil {
			return nil, &model.RestoreError{Snapshot: snap, Err: err}
		}
	}
	if err := u.store.Restore(restoreCtx, snap); err != nil {
		return nil, &model.RestoreError{
			Snapshot: snap,
			Err:      goerr.Wrap(err, "failed to restore interrupted migration", goerr.V("journal", u.journal.Path())),
		}
	}
	if err := u.journal.Clear(); err != nil {
		return nil, err
	}

	return snap, nil
}
