package cli

import (
	"fmt"
	"io"

	"github.com/m-mizutani/chatmig/pkg/usecase/migrate"
)

func printReport(w io.Writer, r *migrate.Report, verbose bool) {
	if r.Recovered != nil {
		fmt.Fprintf(w, "Recovered interrupted run from %s\n", r.Recovered.Path)
	}
	if r.DryRun {
		fmt.Fprintln(w, "Dry run: nothing was written")
	}

	fmt.Fprintf(w, "Conversations: %d\n", r.Conversations)
	fmt.Fprintf(w, "  migrated:     %d\n", r.Migrated)
	fmt.Fprintf(w, "  skipped:      %d\n", len(r.Skipped))
	fmt.Fprintf(w, "  filtered:     %d\n", len(r.Filtered))
	fmt.Fprintf(w, "  placeholders: %d\n", r.Placeholders)
	fmt.Fprintf(w, "Memories inserted: %d (duplicates: %d, already stored: %d)\n",
		r.MemoriesInserted, r.MemoriesDuplicate, r.MemoriesExisting)

	if r.Snapshot != nil && r.Snapshot.Path != "" {
		fmt.Fprintf(w, "Snapshot: %s\n", r.Snapshot.Path)
	}

	for _, s := range r.Skipped {
		fmt.Fprintf(w, "skipped %s %q: %s\n", s.ConversationID, s.Title, s.Reason)
	}

	if verbose {
		for _, s := range r.Filtered {
			fmt.Fprintf(w, "filtered %s %q: %s\n", s.ConversationID, s.Title, s.Reason)
		}
		for _, n := range r.Notices {
			loc := n.ConversationID
			if n.MessageID != "" {
				loc += "/" + n.MessageID
			}
			if loc != "" {
				loc += " "
			}
			fmt.Fprintf(w, "notice %s: %s%s\n", n.Kind, loc, n.Detail)
		}
	}

	switch {
	case r.ManualIntervention():
		fmt.Fprintf(w, "FAILED: the database could not be restored, manual intervention required: %v\n", r.Fatal)
		if r.Snapshot != nil {
			fmt.Fprintf(w, "Restore it from %s\n", r.Snapshot.Path)
		}
	case r.Fatal != nil && r.Restored:
		fmt.Fprintf(w, "FAILED: %v\nThe database was restored to its state before the run\n", r.Fatal)
	case r.Fatal != nil:
		fmt.Fprintf(w, "FAILED: %v\n", r.Fatal)
	}
}
