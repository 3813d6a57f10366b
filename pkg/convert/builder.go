package convert

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/m-mizutani/chatmig/pkg/content"
	"github.com/m-mizutani/chatmig/pkg/model"
	"github.com/m-mizutani/chatmig/pkg/modelmap"
	"github.com/m-mizutani/chatmig/pkg/tree"
)

// Builder turns resolved conversations into chat records for one target user
type Builder struct {
	userID string
	models *modelmap.Mapper
	tags   []string
	now    func() time.Time
}

type Option func(*Builder)

// WithTags sets the tags attached to every built chat
func WithTags(tags ...string) Option {
	return func(b *Builder) {
		b.tags = append(b.tags, tags...)
	}
}

// WithClock sets the time used for conversations that carry no timestamp
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

func NewBuilder(userID string, models *modelmap.Mapper, opts ...Option) *Builder {
	b := &Builder{
		userID: userID,
		models: models,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles the chat record of conv. normalized holds the content of every
// message on path, keyed by message ID; messages without an entry, messages
// that are neither user nor assistant, and empty messages are dropped and their
// children are attached to the nearest kept ancestor. extraTags are merged with
// the configured tags.
func (b *Builder) Build(conv *model.Conversation, path *tree.Path, normalized map[string]*content.Result, extraTags ...string) *model.ChatRecord {
	defaultModel := b.models.Lookup(conv.DefaultModel)
	createdAt, updatedAt := conv.CreateTime, conv.UpdateTime
	if createdAt.IsZero() {
		createdAt = b.now()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	records := make(map[string]*model.MessageRecord)
	// kept maps node IDs to the message record they became
	kept := make(map[string]string)
	var active []*model.MessageRecord
	var files []model.FileRecord
	usedModels := map[string]struct{}{}

	var parentID *string
	for _, node := range path.Nodes {
		rec := b.buildMessage(node.Message, normalized, defaultModel, createdAt, parentID)
		if rec == nil {
			continue
		}
		if parentID != nil {
			parent := records[*parentID]
			parent.ChildrenIDs = append(parent.ChildrenIDs, rec.ID)
		}
		records[rec.ID] = rec
		kept[node.ID] = rec.ID
		active = append(active, rec)
		files = append(files, rec.Files...)
		if rec.Model != "" {
			usedModels[rec.Model] = struct{}{}
		}
		parentID = &rec.ID
	}

	for _, node := range path.Branches {
		ancestor := nearestKept(conv, node, kept)
		rec := b.buildMessage(node.Message, normalized, defaultModel, createdAt, ancestor)
		if rec == nil {
			continue
		}
		if ancestor != nil {
			parent := records[*ancestor]
			parent.ChildrenIDs = append(parent.ChildrenIDs, rec.ID)
		}
		records[rec.ID] = rec
		kept[node.ID] = rec.ID
	}

	models := make([]string, 0, len(usedModels))
	for id := range usedModels {
		models = append(models, id)
	}
	slices.Sort(models)
	if len(models) == 0 {
		models = []string{defaultModel.ID}
	}

	tags := mergeTags(b.tags, extraTags)

	doc := &model.ChatDocument{
		ID:     conv.ID,
		Title:  conv.Title,
		Models: models,
		Params: map[string]any{},
		History: model.ChatHistory{
			Messages: records,
		},
		Messages:  active,
		Tags:      tags,
		Timestamp: createdAt.UnixMilli(),
		Files:     files,
	}
	if doc.Messages == nil {
		doc.Messages = []*model.MessageRecord{}
	}
	if doc.Files == nil {
		doc.Files = []model.FileRecord{}
	}
	if len(active) > 0 {
		currentID := active[len(active)-1].ID
		doc.History.CurrentID = &currentID
	}

	return &model.ChatRecord{
		ID:        conv.ID,
		UserID:    b.userID,
		Title:     conv.Title,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Tags:      tags,
		Chat:      doc,
	}
}

func (b *Builder) buildMessage(msg *model.Message, normalized map[string]*content.Result, defaultModel modelmap.Model, baseTime time.Time, parentID *string) *model.MessageRecord {
	if msg == nil || (msg.Role != model.RoleUser && msg.Role != model.RoleAssistant) {
		return nil
	}
	result, ok := normalized[msg.ID]
	if !ok || result.Empty() {
		return nil
	}

	ts := baseTime
	if msg.CreateTime != nil {
		ts = *msg.CreateTime
	}

	text := result.Text()
	rec := &model.MessageRecord{
		ID:          msg.ID,
		ParentID:    parentID,
		ChildrenIDs: []string{},
		Role:        msg.Role,
		Content:     text,
		Timestamp:   ts.Unix(),
	}

	for _, img := range result.Images() {
		rec.Files = append(rec.Files, model.FileRecord{
			Type:   "image",
			URL:    img.URL,
			Name:   img.Name,
			Size:   img.Size,
			Width:  img.Width,
			Height: img.Height,
		})
	}

	switch msg.Role {
	case model.RoleUser:
		rec.Models = []string{defaultModel.ID}

	case model.RoleAssistant:
		m := defaultModel
		if msg.Metadata.ModelSlug != "" {
			m = b.models.Lookup(msg.Metadata.ModelSlug)
		}
		idx := 0
		rec.Model = m.ID
		rec.ModelName = m.Name
		rec.ModelIdx = &idx
		rec.LastSentence = LastSentence(text)
		rec.Usage = &model.Usage{}
		rec.Done = true
	}

	return rec
}

// nearestKept walks up from node to the closest ancestor that became a record
// and returns that record's message ID
func nearestKept(conv *model.Conversation, node *model.Node, kept map[string]string) *string {
	for id := node.Parent; id != ""; {
		n, ok := conv.Mapping[id]
		if !ok {
			return nil
		}
		if msgID, ok := kept[id]; ok {
			return &msgID
		}
		id = n.Parent
	}
	return nil
}

func mergeTags(base, extra []string) []string {
	seen := map[string]struct{}{}
	tags := []string{}
	for _, t := range append(slices.Clone(base), extra...) {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	slices.Sort(tags)
	return tags
}

var sentenceRe = regexp.MustCompile(`[^.!?]*[.!?]`)

// LastSentence returns the last sentence of text, or its last non-empty line
// when there is no sentence terminator.
func LastSentence(text string) string {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return ""
	}

	if matches := sentenceRe.FindAllString(cleaned, -1); len(matches) > 0 {
		return strings.TrimSpace(matches[len(matches)-1])
	}

	lines := strings.Split(cleaned, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return cleaned
}
