package memory

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/m-mizutani/chatmig/pkg/interfaces"
	"github.com/m-mizutani/chatmig/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Result is the outcome of a deduplication step
type Result struct {
	Entries []model.MemoryEntry
	Notices []model.Notice
}

// Parse splits a memory log into entries, one per non-empty line. Lines that
// normalize to an already seen key are dropped; the first literal occurrence
// is kept. Lines have no length limit.
func Parse(text string) *Result {
	result := &Result{}
	seen := make(map[string]struct{})

	for line := range strings.Lines(text) {
		entry := model.NewMemoryEntry(line)
		if entry.Key == "" {
			continue
		}
		if _, ok := seen[entry.Key]; ok {
			result.Notices = append(result.Notices, model.Notice{
				Kind:   model.NoticeDuplicateMemory,
				Ref:    entry.Key,
				Detail: entry.Text,
			})
			continue
		}
		seen[entry.Key] = struct{}{}
		result.Entries = append(result.Entries, entry)
	}

	return result
}

// Load reads the memory log at path. A missing file yields no entries.
func Load(path string) (*Result, error) {
	if path == "" {
		return &Result{}, nil
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Result{}, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open memory log", goerr.V("path", path))
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read memory log", goerr.V("path", path))
	}

	return Parse(string(raw)), nil
}

// NetNew drops entries whose key is already stored for userID
func NetNew(ctx context.Context, store interfaces.TargetStore, userID string, entries []model.MemoryEntry) (*Result, error) {
	result := &Result{}
	for _, entry := range entries {
		exists, err := store.MemoryExists(ctx, userID, entry.Key)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to look up memory", goerr.V("user_id", userID))
		}
		if exists {
			result.Notices = append(result.Notices, model.Notice{
				Kind:   model.NoticeExistingMemory,
				Ref:    entry.Key,
				Detail: entry.Text,
			})
			continue
		}
		result.Entries = append(result.Entries, entry)
	}
	return result, nil
}
