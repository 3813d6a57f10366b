package model

import (
	"time"
)

// ChatRecord is one row of the target chat table, keyed by the source conversation ID.
type ChatRecord struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Tags      []string
	Chat      *ChatDocument
}

// ChatMeta is stored in the meta column of the chat table
type ChatMeta struct {
	Tags []string `json:"tags"`
}

// ChatDocument is the chat JSON stored by Open WebUI
type ChatDocument struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Models    []string         `json:"models"`
	Params    map[string]any   `json:"params"`
	History   ChatHistory      `json:"history"`
	Messages  []*MessageRecord `json:"messages"`
	Tags      []string         `json:"tags"`
	Timestamp int64            `json:"timestamp"`
	Files     []FileRecord     `json:"files"`
}

// ChatHistory holds every message node, including pass-through branches. CurrentID
// is nil for an empty chat.
type ChatHistory struct {
	Messages  map[string]*MessageRecord `json:"messages"`
	CurrentID *string                   `json:"currentId"`
}

// MessageRecord is one message of an Open WebUI chat
type MessageRecord struct {
	ID          string       `json:"id"`
	ParentID    *string      `json:"parentId"`
	ChildrenIDs []string     `json:"childrenIds"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Timestamp   int64        `json:"timestamp"`
	Files       []FileRecord `json:"files,omitempty"`

	// user messages
	Models []string `json:"models,omitempty"`

	// assistant messages
	Model        string `json:"model,omitempty"`
	ModelName    string `json:"modelName,omitempty"`
	ModelIdx     *int   `json:"modelIdx,omitempty"`
	LastSentence string `json:"lastSentence,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	Done         bool   `json:"done,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FileRecord is an image attached to a message. URL is a data URL.
type FileRecord struct {
	Type   string `json:"type"`
	URL    string `json:"url"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type BlockKind string

const (
	BlockText  BlockKind = "text"
	BlockImage BlockKind = "image"
)

// Block is one unit of normalized content: either Text or Image is set.
type Block struct {
	Kind  BlockKind
	Text  string
	Image *ImageRef
}

// ImageRef is a resolved image asset
type ImageRef struct {
	FileID   string
	Name     string
	MimeType string
	URL      string
	Width    int
	Height   int
	Size     int64
}
