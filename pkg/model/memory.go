package model

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

var memoryNamespace = uuid.MustParse("6f2d0c52-3b8e-4d8a-9a57-1d5e4f1c9b20")

// MemoryEntry is one line of the memory log. Key is the dedup key derived from Text.
type MemoryEntry struct {
	Text string
	Key  string
}

// NewMemoryEntry builds an entry from a raw memory line
func NewMemoryEntry(raw string) MemoryEntry {
	text := strings.TrimSpace(raw)
	return MemoryEntry{
		Text: text,
		Key:  MemoryKey(text),
	}
}

// MemoryKey normalizes memory text: trim, Unicode case fold, collapse whitespace.
func MemoryKey(text string) string {
	folded := cases.Fold().String(strings.TrimSpace(text))
	return strings.Join(strings.Fields(folded), " ")
}

type MemoryID string

// NewMemoryID derives a stable ID from the owner and the dedup key so that a
// rerun against the same pre-state writes the same row.
func NewMemoryID(userID, key string) MemoryID {
	return MemoryID(uuid.NewSHA1(memoryNamespace, []byte(userID+"\x00"+key)).String())
}
