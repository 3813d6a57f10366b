package export_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/chatmig/pkg/export"
	"github.com/m-mizutani/chatmig/pkg/model"
	"github.com/m-mizutani/gt"
)

func TestLoadFixture(t *testing.T) {
	result, err := export.Load("testdata/conversations.json")
	gt.NoError(t, err)

	// conv-scenario and conv-cycle parse; the cycle is found later by the resolver
	gt.A(t, result.Conversations).Length(2)
	gt.A(t, result.Failures).Length(2)

	gt.Equal(t, result.Failures[0].ConversationID, "conv-no-mapping")
	gt.Equal(t, result.Failures[0].Index, 2)
	gt.Equal(t, result.Failures[0].File, "conversations.json")
	gt.S(t, result.Failures[0].Reason).Contains("missing mapping")

	gt.Equal(t, result.Failures[1].ConversationID, "conv-widget")
	gt.S(t, result.Failures[1].Reason).Contains("unknown content type")

	conv := result.Conversations[0]
	gt.Equal(t, conv.ID, "conv-scenario")
	gt.Equal(t, conv.Title, "Image question")
	gt.Equal(t, conv.DefaultModel, "gpt-4o")
	gt.Equal(t, conv.CurrentNode, "assistant2")
	gt.Equal(t, conv.CreateTime.Unix(), int64(1716200000))
	gt.Equal(t, conv.UpdateTime.Unix(), int64(1716200300))
	gt.Equal(t, len(conv.Mapping), 6)

	root := conv.Mapping["client-created-root"]
	gt.True(t, root.IsRoot())
	gt.Nil(t, root.Message)

	user1 := conv.Mapping["user1"].Message
	gt.Equal(t, user1.Role, model.RoleUser)
	gt.Equal(t, user1.Content.Type, model.ContentTypeMultimodalText)
	gt.A(t, user1.Content.Parts).Length(2)

	asset, ok := user1.Content.Parts[0].(model.AssetPart)
	gt.True(t, ok)
	gt.Equal(t, asset.FileID(), "file-hNqujbexOLo2oIkoPfhRL7FS")
	gt.Equal(t, asset.Width, 2048)

	text, ok := user1.Content.Parts[1].(model.TextPart)
	gt.True(t, ok)
	gt.Equal(t, text.Text, "What is in this image?")

	att, ok := user1.Metadata.Attachment("file-hNqujbexOLo2oIkoPfhRL7FS")
	gt.True(t, ok)
	gt.Equal(t, att.Name, "image.png")
	gt.Equal(t, att.Height, 944)
	gt.True(t, att.IsImage())

	// RFC3339 timestamps are accepted as well as unix seconds
	assistant2 := conv.Mapping["assistant2"].Message
	gt.NotNil(t, assistant2.CreateTime)
	gt.Equal(t, assistant2.CreateTime.Unix(), int64(1716200200))
	gt.Equal(t, assistant2.Metadata.ModelSlug, "o3")

	// private use characters are stripped
	gt.Equal(t, conv.Mapping["assistant1b"].Message.Content.Text(), "A regenerated answer cite.")
}

func TestParseSingleObject(t *testing.T) {
	doc := `{"id": "c1", "current_node": "", "mapping": {"r": {"id": "r", "message": null, "parent": null, "children": []}}}`

	result, err := export.Parse(strings.NewReader(doc))
	gt.NoError(t, err)
	gt.A(t, result.Conversations).Length(1)
	gt.Equal(t, result.Conversations[0].Title, "Untitled")
}

func TestParseRejectsDocument(t *testing.T) {
	testCases := map[string]string{
		"empty":  "",
		"scalar": "42",
		"broken": "[{",
	}

	for name, doc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := export.Parse(strings.NewReader(doc))
			gt.Error(t, err)
		})
	}
}

func TestParseConversationErrors(t *testing.T) {
	const root = `"r": {"id": "r", "message": null, "parent": null, "children": ["m"]}`
	node := func(message string) string {
		return `{"id": "c1", "mapping": {` + root + `, "m": {"id": "m", "parent": "r", "children": [], "message": ` + message + `}}}`
	}

	testCases := []struct {
		name   string
		doc    string
		reason string
	}{
		{
			name:   "missing id",
			doc:    `{"mapping": {}}`,
			reason: "missing conversation id",
		},
		{
			name:   "unknown role",
			doc:    node(`{"id": "m", "author": {"role": "robot"}, "content": {"content_type": "text", "parts": ["x"]}}`),
			reason: "unknown author role",
		},
		{
			name:   "missing content type",
			doc:    node(`{"id": "m", "author": {"role": "user"}, "content": {"parts": ["x"]}}`),
			reason: "no content type",
		},
		{
			name:   "numeric part",
			doc:    node(`{"id": "m", "author": {"role": "user"}, "content": {"content_type": "text", "parts": [1]}}`),
			reason: "neither text nor asset pointer",
		},
		{
			name:   "unknown part object",
			doc:    node(`{"id": "m", "author": {"role": "user"}, "content": {"content_type": "multimodal_text", "parts": [{"content_type": "audio_asset_pointer"}]}}`),
			reason: "neither text nor asset pointer",
		},
		{
			name:   "asset in plain text",
			doc:    node(`{"id": "m", "author": {"role": "user"}, "content": {"content_type": "text", "parts": [{"content_type": "image_asset_pointer", "asset_pointer": "file-service://file-1"}]}}`),
			reason: "asset pointer in plain text",
		},
		{
			name:   "mismatched node key",
			doc:    `{"id": "c1", "mapping": {"r": {"id": "other", "message": null, "parent": null, "children": []}}}`,
			reason: "keyed as",
		},
	}

	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := export.ParseConversation(i, []byte(tc.doc))
			gt.Error(t, err)

			pe, ok := err.(*model.ParseError)
			gt.True(t, ok)
			gt.Equal(t, pe.Index, i)
			gt.S(t, pe.Reason).Contains(tc.reason)
		})
	}
}

func TestParseTextFieldContent(t *testing.T) {
	doc := `{"id": "c1", "current_node": "m", "mapping": {
		"r": {"id": "r", "message": null, "parent": null, "children": ["m"]},
		"m": {"id": "m", "parent": "r", "children": [], "message": {
			"id": "m", "author": {"role": "assistant"},
			"content": {"content_type": "code", "language": "python", "text": "print(1)"}}}}}`

	conv, err := export.ParseConversation(0, []byte(doc))
	gt.NoError(t, err)

	msg := conv.Mapping["m"].Message
	gt.Equal(t, msg.Content.Type, model.ContentTypeCode)
	gt.Equal(t, msg.Content.Language, "python")
	gt.Equal(t, msg.Content.Text(), "print(1)")
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	first := `[{"id": "a", "current_node": "", "mapping": {"r": {"id": "r", "message": null, "parent": null, "children": []}}}]`
	second := `[{"id": "b"}]`
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "01.json"), []byte(first), 0644))
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "02.json"), []byte(second), 0644))
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	result, err := export.Load(dir)
	gt.NoError(t, err)
	gt.A(t, result.Conversations).Length(1)
	gt.A(t, result.Failures).Length(1)
	gt.Equal(t, result.Failures[0].File, "02.json")
	gt.Equal(t, result.Failures[0].ConversationID, "b")
}

func TestLoadEmptyDirectory(t *testing.T) {
	_, err := export.Load(t.TempDir())
	gt.Error(t, err)
}

func TestSanitize(t *testing.T) {
	gt.Equal(t, export.Sanitize("plain"), "plain")
	gt.Equal(t, export.Sanitize("a\ue200b\uf8ffc"), "abc")
	gt.Equal(t, export.Sanitize("\ue000"), "")
}
