package model

import (
	"fmt"
)

// ParseError reports a malformed conversation. It is scoped to one conversation.
type ParseError struct {
	File           string
	Index          int
	ConversationID string
	Reason         string
}

func (e *ParseError) Error() string {
	loc := fmt.Sprintf("conversation #%d", e.Index)
	if e.File != "" {
		loc = e.File + ": " + loc
	}
	if e.ConversationID != "" {
		loc += " (" + e.ConversationID + ")"
	}
	return loc + ": " + e.Reason
}

type TreeErrorKind string

const (
	TreeCycle         TreeErrorKind = "cycle"
	TreeBrokenLink    TreeErrorKind = "broken-link"
	TreeReciprocity   TreeErrorKind = "reciprocity"
	TreeNoRoot        TreeErrorKind = "no-root"
	TreeMultipleRoots TreeErrorKind = "multiple-roots"
	TreeUnreachable   TreeErrorKind = "unreachable"
)

// TreeIntegrityError reports an invalid node graph. It is scoped to one conversation.
type TreeIntegrityError struct {
	ConversationID string
	NodeID         string
	Kind           TreeErrorKind
}

func (e *TreeIntegrityError) Error() string {
	return fmt.Sprintf("tree integrity (%s) in conversation %s at node %q", e.Kind, e.ConversationID, e.NodeID)
}

// StoreWriteError reports a failed mutation of the target store. It aborts the
// batch and triggers a restore.
type StoreWriteError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// BackupError reports that no recovery point could be captured
type BackupError struct {
	Err error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("backup snapshot: %v", e.Err)
}

func (e *BackupError) Unwrap() error { return e.Err }

// RestoreError reports that the store could not be put back to its snapshot and
// needs manual intervention.
type RestoreError struct {
	Snapshot *Snapshot
	Err      error
}

func (e *RestoreError) Error() string {
	path := ""
	if e.Snapshot != nil {
		path = e.Snapshot.Path
	}
	return fmt.Sprintf("restore snapshot %q: %v", path, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }
