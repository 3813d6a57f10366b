package model

import (
	"time"

	"github.com/google/uuid"
)

type SnapshotID string

// NewSnapshotID generates a new unique SnapshotID
func NewSnapshotID() SnapshotID {
	return SnapshotID(uuid.New().String())
}

// Snapshot is a full capture of the target store taken before any mutation. File
// backed stores set Path; in-process stores set Data.
type Snapshot struct {
	ID        SnapshotID `json:"id"`
	Path      string     `json:"path,omitempty"`
	Data      []byte     `json:"data,omitempty"`
	Size      int64      `json:"size"`
	Checksum  string     `json:"checksum"`
	CreatedAt time.Time  `json:"created_at"`
}

// User is an account of the target application
type User struct {
	ID    string
	Name  string
	Email string
}
