package backup

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"github.com/m-mizutani/chatmig/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// JournalSuffix is appended to the database path to name the marker file
const JournalSuffix = ".migrating"

// Journal marks a migration in progress. The marker holds the descriptor of the
// snapshot taken before the first write, so an interrupted run can be restored
// by the next invocation.
type Journal struct {
	path string
}

func NewJournal(dbPath string) *Journal {
	return &Journal{path: dbPath + JournalSuffix}
}

// Path returns the marker file path
func (j *Journal) Path() string {
	return j.path
}

// Write records snap as the snapshot of the running migration
func (j *Journal) Write(snap *model.Snapshot) error {
	if snap == nil {
		return goerr.New("snapshot is required")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return goerr.Wrap(err, "failed to encode journal")
	}

	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return goerr.Wrap(err, "failed to write journal", goerr.V("path", tmp))
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return goerr.Wrap(err, "failed to write journal", goerr.V("path", j.path))
	}
	return nil
}

// Clear removes the marker. A missing marker is not an error.
func (j *Journal) Clear() error {
	if err := os.Remove(j.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return goerr.Wrap(err, "failed to remove journal", goerr.V("path", j.path))
	}
	return nil
}

// Pending returns the snapshot of an interrupted run, or nil when there is none
func (j *Journal) Pending() (*model.Snapshot, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to read journal", goerr.V("path", j.path))
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, goerr.Wrap(err, "journal is corrupted", goerr.V("path", j.path))
	}
	return &snap, nil
}
