package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/m-mizutani/chatmig/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Result is the outcome of parsing an export document. Failures never abort
// parsing of sibling conversations.
type Result struct {
	Conversations []*model.Conversation
	Failures      []*model.ParseError
}

func (r *Result) merge(other *Result) {
	r.Conversations = append(r.Conversations, other.Conversations...)
	r.Failures = append(r.Failures, other.Failures...)
}

type rawConversation struct {
	ID               string              `json:"id"`
	ConversationID   string              `json:"conversation_id"`
	Title            *string             `json:"title"`
	CreateTime       any                 `json:"create_time"`
	UpdateTime       any                 `json:"update_time"`
	Mapping          map[string]*rawNode `json:"mapping"`
	CurrentNode      string              `json:"current_node"`
	DefaultModelSlug string              `json:"default_model_slug"`
}

type rawNode struct {
	ID       string      `json:"id"`
	Message  *rawMessage `json:"message"`
	Parent   *string     `json:"parent"`
	Children []string    `json:"children"`
}

type rawMessage struct {
	ID     string `json:"id"`
	Author *struct {
		Role string `json:"role"`
	} `json:"author"`
	CreateTime any          `json:"create_time"`
	Content    *rawContent  `json:"content"`
	Metadata   *rawMetadata `json:"metadata"`
}

type rawContent struct {
	ContentType string            `json:"content_type"`
	Parts       []json.RawMessage `json:"parts"`
	Text        *string           `json:"text"`
	Language    string            `json:"language"`
}

type rawMetadata struct {
	Attachments []rawAttachment `json:"attachments"`
	ModelSlug   string          `json:"model_slug"`
}

type rawAttachment struct {
	ID       string `json:"id"`
	Size     int64  `json:"size"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type rawPart struct {
	ContentType  string  `json:"content_type"`
	AssetPointer string  `json:"asset_pointer"`
	Text         *string `json:"text"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	SizeBytes    int64   `json:"size_bytes"`
}

const contentTypeAssetPointer = "image_asset_pointer"

// Parse reads an export document: a JSON array of conversation objects, or a
// single conversation object. Only a document that cannot be split into
// conversations is an error; malformed conversations are reported in Result.Failures.
func Parse(r io.Reader) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read export document")
	}

	data = bytes.TrimSpace(data)
	var elems []json.RawMessage
	switch {
	case len(data) == 0:
		return nil, goerr.New("export document is empty")
	case data[0] == '[':
		if err := json.Unmarshal(data, &elems); err != nil {
			return nil, goerr.Wrap(err, "failed to decode export document")
		}
	case data[0] == '{':
		elems = []json.RawMessage{data}
	default:
		return nil, goerr.New("export document must be a JSON array or object")
	}

	result := &Result{}
	for i, elem := range elems {
		conv, err := ParseConversation(i, elem)
		if err != nil {
			var pe *model.ParseError
			if !errors.As(err, &pe) {
				return nil, err
			}
			result.Failures = append(result.Failures, pe)
			continue
		}
		result.Conversations = append(result.Conversations, conv)
	}

	return result, nil
}

// ParseConversation decodes one conversation object. Any returned error is a
// *model.ParseError.
func ParseConversation(index int, data json.RawMessage) (*model.Conversation, error) {
	var raw rawConversation
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &model.ParseError{Index: index, Reason: "invalid conversation object: " + err.Error()}
	}

	id := raw.ConversationID
	if id == "" {
		id = raw.ID
	}
	fail := func(format string, args ...any) error {
		return &model.ParseError{Index: index, ConversationID: id, Reason: fmt.Sprintf(format, args...)}
	}

	if id == "" {
		return nil, fail("missing conversation id")
	}
	if raw.Mapping == nil {
		return nil, fail("missing mapping")
	}

	conv := &model.Conversation{
		ID:           id,
		Title:        "Untitled",
		DefaultModel: raw.DefaultModelSlug,
		CurrentNode:  raw.CurrentNode,
		Mapping:      make(map[string]*model.Node, len(raw.Mapping)),
		Index:        index,
	}
	if raw.Title != nil && strings.TrimSpace(*raw.Title) != "" {
		conv.Title = Sanitize(*raw.Title)
	}

	created, hasCreated := parseTime(raw.CreateTime)
	updated, hasUpdated := parseTime(raw.UpdateTime)
	switch {
	case hasCreated && hasUpdated:
		conv.CreateTime, conv.UpdateTime = created, updated
	case hasCreated:
		conv.CreateTime, conv.UpdateTime = created, created
	case hasUpdated:
		conv.CreateTime, conv.UpdateTime = updated, updated
	}

	for key, rn := range raw.Mapping {
		if rn == nil {
			return nil, fail("node %q is null", key)
		}
		if rn.ID != "" && rn.ID != key {
			return nil, fail("node %q is keyed as %q", rn.ID, key)
		}

		node := &model.Node{
			ID:       key,
			Children: rn.Children,
		}
		if rn.Parent != nil {
			node.Parent = *rn.Parent
		}
		if rn.Message != nil {
			msg, err := parseMessage(rn.Message)
			if err != nil {
				return nil, fail("node %q: %s", key, err.Error())
			}
			node.Message = msg
		}
		conv.Mapping[key] = node
	}

	return conv, nil
}

func parseMessage(raw *rawMessage) (*model.Message, error) {
	if raw.ID == "" {
		return nil, goerr.New("message has no id")
	}
	if raw.Author == nil || raw.Author.Role == "" {
		return nil, goerr.New("message has no author role")
	}
	role := model.Role(raw.Author.Role)
	if !role.Valid() {
		return nil, goerr.New("unknown author role", goerr.V("role", raw.Author.Role))
	}
	if raw.Content == nil || raw.Content.ContentType == "" {
		return nil, goerr.New("message has no content type")
	}
	ct := model.ContentType(raw.Content.ContentType)
	if !ct.Known() {
		return nil, goerr.New("unknown content type", goerr.V("content_type", raw.Content.ContentType))
	}

	msg := &model.Message{
		ID:   raw.ID,
		Role: role,
		Content: model.Content{
			Type:     ct,
			Language: raw.Content.Language,
		},
	}
	if ts, ok := parseTime(raw.CreateTime); ok {
		msg.CreateTime = &ts
	}

	for i, p := range raw.Content.Parts {
		part, err := parsePart(p, ct.Mixed())
		if err != nil {
			return nil, goerr.Wrap(err, "invalid content part", goerr.V("index", i))
		}
		msg.Content.Parts = append(msg.Content.Parts, part)
	}
	if len(raw.Content.Parts) == 0 && raw.Content.Text != nil {
		msg.Content.Parts = []model.Part{model.TextPart{Text: Sanitize(*raw.Content.Text)}}
	}

	if raw.Metadata != nil {
		msg.Metadata.ModelSlug = raw.Metadata.ModelSlug
		for _, a := range raw.Metadata.Attachments {
			if a.ID == "" {
				continue
			}
			msg.Metadata.Attachments = append(msg.Metadata.Attachments, model.Attachment{
				ID:       a.ID,
				Size:     a.Size,
				Name:     a.Name,
				MimeType: a.MimeType,
				Width:    a.Width,
				Height:   a.Height,
			})
		}
	}

	return msg, nil
}

func parsePart(data json.RawMessage, allowAssets bool) (model.Part, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, goerr.New("empty part")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, goerr.Wrap(err, "failed to decode text part")
		}
		return model.TextPart{Text: Sanitize(s)}, nil

	case '{':
		var p rawPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, goerr.Wrap(err, "failed to decode part object")
		}
		if p.ContentType == contentTypeAssetPointer && p.AssetPointer != "" {
			if !allowAssets {
				return nil, goerr.New("asset pointer in plain text content")
			}
			return model.AssetPart{
				Pointer:   p.AssetPointer,
				Width:     p.Width,
				Height:    p.Height,
				SizeBytes: p.SizeBytes,
			}, nil
		}
		if p.Text != nil {
			return model.TextPart{Text: Sanitize(*p.Text)}, nil
		}
		return nil, goerr.New("part is neither text nor asset pointer", goerr.V("content_type", p.ContentType))
	}

	return nil, goerr.New("part is neither text nor asset pointer")
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case float64:
		if t <= 0 {
			return time.Time{}, false
		}
		sec := int64(t)
		nsec := int64((t - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	}
	return time.Time{}, false
}

// Sanitize removes characters of the Unicode private use area, which the
// exporter uses for citation markers.
func Sanitize(s string) string {
	if !strings.ContainsFunc(s, isPrivateUse) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isPrivateUse(r) {
			return -1
		}
		return r
	}, s)
}

func isPrivateUse(r rune) bool {
	return r >= 0xE000 && r <= 0xF8FF
}
