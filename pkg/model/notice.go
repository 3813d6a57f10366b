package model

type NoticeKind string

const (
	NoticeMissingAttachment     NoticeKind = "missing_attachment"
	NoticeUnsupportedAttachment NoticeKind = "unsupported_attachment"
	NoticeDuplicateMemory       NoticeKind = "duplicate_memory"
	NoticeExistingMemory        NoticeKind = "existing_memory"
	NoticeDuplicateConversation NoticeKind = "duplicate_conversation"
)

// Placeholder reports whether the notice stands for content replaced by a placeholder
func (k NoticeKind) Placeholder() bool {
	return k == NoticeMissingAttachment || k == NoticeUnsupportedAttachment
}

// Notice is a non-fatal, informational event of a run
type Notice struct {
	Kind           NoticeKind
	ConversationID string
	MessageID      string
	Ref            string
	Detail         string
}
