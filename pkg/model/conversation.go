package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known author roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	default:
		return false
	}
}

type ContentType string

const (
	ContentTypeText                  ContentType = "text"
	ContentTypeMultimodalText        ContentType = "multimodal_text"
	ContentTypeCode                  ContentType = "code"
	ContentTypeExecutionOutput       ContentType = "execution_output"
	ContentTypeTetherQuote           ContentType = "tether_quote"
	ContentTypeTetherBrowsingDisplay ContentType = "tether_browsing_display"
	ContentTypeSystemError           ContentType = "system_error"
	ContentTypeThoughts              ContentType = "thoughts"
	ContentTypeReasoningRecap        ContentType = "reasoning_recap"
	ContentTypeUserEditableContext   ContentType = "user_editable_context"
)

// Known reports whether the export parser accepts t
func (t ContentType) Known() bool {
	switch t {
	case ContentTypeText, ContentTypeMultimodalText, ContentTypeCode,
		ContentTypeExecutionOutput, ContentTypeTetherQuote, ContentTypeTetherBrowsingDisplay,
		ContentTypeSystemError, ContentTypeThoughts, ContentTypeReasoningRecap,
		ContentTypeUserEditableContext:
		return true
	default:
		return false
	}
}

// Mixed reports whether content of type t may carry asset references
func (t ContentType) Mixed() bool {
	return t == ContentTypeMultimodalText
}

// Conversation is one conversation of an export document. Mapping is an arena of
// nodes keyed by node ID.
type Conversation struct {
	ID           string
	Title        string
	CreateTime   time.Time
	UpdateTime   time.Time
	DefaultModel string
	Mapping      map[string]*Node
	CurrentNode  string

	// Index is the position of the conversation in its source document
	Index int
}

// Node is a vertex of a conversation tree. Message is nil only for the synthetic root.
type Node struct {
	ID       string
	Message  *Message
	Parent   string
	Children []string
}

// IsRoot reports whether n has no parent
func (n *Node) IsRoot() bool {
	return n.Parent == ""
}

type Message struct {
	ID         string
	Role       Role
	CreateTime *time.Time
	Content    Content
	Metadata   MessageMetadata
}

type MessageMetadata struct {
	Attachments []Attachment
	ModelSlug   string
}

// Attachment looks up a declared attachment by file ID
func (m MessageMetadata) Attachment(id string) (Attachment, bool) {
	for _, a := range m.Attachments {
		if a.ID == id {
			return a, true
		}
	}
	return Attachment{}, false
}

// Content is the payload of a message. Parts is decided at parse time and each
// element is either TextPart or AssetPart.
type Content struct {
	Type     ContentType
	Language string
	Parts    []Part
}

// Text joins all text parts of the content
func (c Content) Text() string {
	var b strings.Builder
	for _, p := range c.Parts {
		if t, ok := p.(TextPart); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// Part is a sealed union of TextPart and AssetPart
type Part interface {
	part()
}

type TextPart struct {
	Text string
}

func (TextPart) part() {}

// AssetPart is a reference to an exported file. Pointer is opaque, e.g.
// "file-service://file-XXXX".
type AssetPart struct {
	Pointer   string
	Width     int
	Height    int
	SizeBytes int64
}

func (AssetPart) part() {}

// FileID returns the trailing identifier of the asset pointer
func (a AssetPart) FileID() string {
	id := a.Pointer
	if i := strings.Index(id, "://"); i >= 0 {
		id = id[i+3:]
	}
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	return id
}

type Attachment struct {
	ID       string
	Size     int64
	Name     string
	MimeType string
	Width    int
	Height   int
}

// IsImage reports whether the declared MIME type is an image type
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(a.MimeType), "image/")
}
