package migrate

import (
	"cmp"
	"errors"
	"slices"
	"sync"

	"github.com/m-mizutani/chatmig/pkg/model"
)

const (
	ExitSuccess = 0
	ExitPartial = 1
	ExitFatal   = 2
)

// Skip is a conversation that was not migrated
type Skip struct {
	Index          int
	File           string
	ConversationID string
	Title          string
	Reason         string
}

// Report is the outcome of a run
type Report struct {
	DryRun bool

	Conversations int
	Migrated      int
	Skipped       []Skip
	Filtered      []Skip
	Placeholders  int

	MemoriesInserted  int
	MemoriesDuplicate int
	MemoriesExisting  int

	Notices []model.Notice

	// Snapshot is the recovery point taken before the first write
	Snapshot *model.Snapshot
	// Restored is set when a failed run was rolled back to Snapshot
	Restored bool
	// Recovered is set when an interrupted earlier run was rolled back first
	Recovered *model.Snapshot

	Fatal error
}

// ExitCode maps the report to the process exit status
func (r *Report) ExitCode() int {
	switch {
	case r.Fatal != nil:
		return ExitFatal
	case len(r.Skipped) > 0 || r.Placeholders > 0:
		return ExitPartial
	default:
		return ExitSuccess
	}
}

// ManualIntervention reports whether the store could not be put back after a
// failed write
func (r *Report) ManualIntervention() bool {
	var restoreErr *model.RestoreError
	return errors.As(r.Fatal, &restoreErr)
}

// outcome is the conversion result of one conversation
type outcome struct {
	index    int
	record   *model.ChatRecord
	skip     *Skip
	filtered *Skip
	notices  []model.Notice
}

// accumulator collects outcomes from the conversion pool
type accumulator struct {
	mu       sync.Mutex
	outcomes []*outcome
}

func (a *accumulator) add(o *outcome) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, o)
	return len(a.outcomes)
}

// merge folds the outcomes into report in document order and returns the
// records to write. When several conversations share an ID, the last one in
// document order is kept and the earlier ones are reported as notices.
func (a *accumulator) merge(report *Report) []*model.ChatRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	slices.SortFunc(a.outcomes, func(x, y *outcome) int {
		return cmp.Compare(x.index, y.index)
	})

	last := make(map[string]int)
	for _, o := range a.outcomes {
		if o.record != nil {
			last[o.record.ID] = o.index
		}
	}

	var records []*model.ChatRecord
	for _, o := range a.outcomes {
		switch {
		case o.skip != nil:
			report.Skipped = append(report.Skipped, *o.skip)
		case o.filtered != nil:
			report.Filtered = append(report.Filtered, *o.filtered)
		case o.record != nil && last[o.record.ID] != o.index:
			report.Notices = append(report.Notices, model.Notice{
				Kind:           model.NoticeDuplicateConversation,
				ConversationID: o.record.ID,
				Ref:            o.record.ID,
				Detail:         o.record.Title,
			})
			continue
		case o.record != nil:
			records = append(records, o.record)
		}
		for _, n := range o.notices {
			if n.Kind.Placeholder() {
				report.Placeholders++
			}
		}
		report.Notices = append(report.Notices, o.notices...)
	}
	return records
}
