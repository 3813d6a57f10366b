package content_test

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/chatmig/pkg/content"
	"github.com/m-mizutani/chatmig/pkg/export"
	"github.com/m-mizutani/chatmig/pkg/model"
	"github.com/m-mizutani/gt"
)

const scenarioFileID = "file-hNqujbexOLo2oIkoPfhRL7FS"

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	gt.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	gt.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	gt.NoError(t, os.WriteFile(path, data, 0644))
}

func scenarioUserMessage(t *testing.T) *model.Message {
	t.Helper()
	result, err := export.Load("../export/testdata/conversations.json")
	gt.NoError(t, err)
	return result.Conversations[0].Mapping["user1"].Message
}

func TestNormalizeScenarioImage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, scenarioFileID+"-image.png"), pngBytes(t, 4, 2))

	n, err := content.New(dir)
	gt.NoError(t, err)
	gt.Equal(t, n.AssetCount(), 1)

	result := n.Normalize("conv-scenario", scenarioUserMessage(t))
	gt.A(t, result.Notices).Length(0)
	gt.A(t, result.Blocks).Length(2)
	gt.Equal(t, result.Blocks[0].Kind, model.BlockImage)
	gt.Equal(t, result.Blocks[1].Text, "What is in this image?")

	img := result.Blocks[0].Image
	gt.Equal(t, img.FileID, scenarioFileID)
	gt.Equal(t, img.Name, "image.png")
	gt.Equal(t, img.MimeType, "image/png")
	gt.Equal(t, img.Width, 2048)
	gt.Equal(t, img.Height, 944)
	gt.Equal(t, img.Size, int64(183722))
	gt.S(t, img.URL).Contains("data:image/png;base64,")
	gt.False(t, result.Empty())
	gt.A(t, result.Images()).Length(1)
}

func TestNormalizeMissingAttachment(t *testing.T) {
	n, err := content.New(t.TempDir())
	gt.NoError(t, err)

	result := n.Normalize("conv-scenario", scenarioUserMessage(t))
	gt.A(t, result.Images()).Length(0)
	gt.S(t, result.Text()).Contains("image.png")
	gt.S(t, result.Text()).Contains(scenarioFileID)
	gt.S(t, result.Text()).Contains("What is in this image?")

	gt.A(t, result.Notices).Length(1)
	notice := result.Notices[0]
	gt.Equal(t, notice.Kind, model.NoticeMissingAttachment)
	gt.Equal(t, notice.ConversationID, "conv-scenario")
	gt.Equal(t, notice.MessageID, "user1")
	gt.Equal(t, notice.Ref, scenarioFileID)
	gt.True(t, notice.Kind.Placeholder())
}

func TestNormalizeMissingAssetDirectory(t *testing.T) {
	n, err := content.New(filepath.Join(t.TempDir(), "nothing-here"))
	gt.NoError(t, err)
	gt.Equal(t, n.AssetCount(), 0)

	result := n.Normalize("conv-scenario", scenarioUserMessage(t))
	gt.A(t, result.Notices).Length(1)
}

func TestNewRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	writeFile(t, path, []byte("x"))
	_, err := content.New(path)
	gt.Error(t, err)
}

func TestNormalizeNonImageAttachment(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "file-pdf-report.pdf"), []byte("%PDF-1.4"))

	n, err := content.New(dir)
	gt.NoError(t, err)

	msg := &model.Message{
		ID:   "m1",
		Role: model.RoleUser,
		Content: model.Content{
			Type: model.ContentTypeMultimodalText,
			Parts: []model.Part{
				model.AssetPart{Pointer: "file-service://file-pdf"},
				model.TextPart{Text: "Summarize this"},
			},
		},
		Metadata: model.MessageMetadata{
			Attachments: []model.Attachment{
				{ID: "file-pdf", Name: "report.pdf", MimeType: "application/pdf"},
				{ID: "file-doc", Name: "notes.docx", MimeType: "application/msword"},
			},
		},
	}

	result := n.Normalize("c1", msg)
	gt.A(t, result.Images()).Length(0)
	gt.A(t, result.Notices).Length(2)
	gt.Equal(t, result.Notices[0].Kind, model.NoticeUnsupportedAttachment)
	gt.Equal(t, result.Notices[0].Ref, "file-pdf")
	gt.Equal(t, result.Notices[1].Ref, "file-doc")
	gt.S(t, result.Text()).Contains("report.pdf")
	gt.S(t, result.Text()).Contains("notes.docx")
	gt.S(t, result.Text()).Contains("Summarize this")
}

func TestNormalizeGeneratedImage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, content.GeneratedDir, "file_abc-sunset.webp.png"), pngBytes(t, 3, 2))

	n, err := content.New(dir)
	gt.NoError(t, err)

	msg := &model.Message{
		ID:   "m1",
		Role: model.RoleTool,
		Content: model.Content{
			Type:  model.ContentTypeMultimodalText,
			Parts: []model.Part{model.AssetPart{Pointer: "sediment://file_abc"}},
		},
	}

	result := n.Normalize("c1", msg)
	gt.A(t, result.Notices).Length(0)
	images := result.Images()
	gt.A(t, images).Length(1)
	gt.Equal(t, images[0].FileID, "file_abc")
	gt.Equal(t, images[0].Name, "sunset.webp.png")
	gt.Equal(t, images[0].MimeType, "image/png")
	gt.Equal(t, images[0].Width, 3)
	gt.Equal(t, images[0].Height, 2)
	gt.Number(t, images[0].Size).GreaterOrEqual(1)
}

func TestNormalizeUndeclaredNonImageFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "file-txt-notes.txt"), []byte("plain text"))

	n, err := content.New(dir)
	gt.NoError(t, err)

	msg := &model.Message{
		ID: "m1",
		Content: model.Content{
			Type:  model.ContentTypeMultimodalText,
			Parts: []model.Part{model.AssetPart{Pointer: "file-service://file-txt"}},
		},
	}

	result := n.Normalize("c1", msg)
	gt.A(t, result.Notices).Length(1)
	gt.Equal(t, result.Notices[0].Kind, model.NoticeUnsupportedAttachment)
	gt.S(t, result.Text()).Contains("notes.txt")
}

func TestNormalizeImageSizeLimit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, scenarioFileID+"-image.png"), pngBytes(t, 64, 64))

	n, err := content.New(dir, content.WithMaxImageBytes(10))
	gt.NoError(t, err)

	result := n.Normalize("conv-scenario", scenarioUserMessage(t))
	gt.A(t, result.Images()).Length(0)
	gt.A(t, result.Notices).Length(1)
	gt.Equal(t, result.Notices[0].Kind, model.NoticeUnsupportedAttachment)
}

func TestNormalizeCanvas(t *testing.T) {
	n, err := content.New("")
	gt.NoError(t, err)

	newMsg := func(language, text string) *model.Message {
		return &model.Message{
			ID:   "m1",
			Role: model.RoleAssistant,
			Content: model.Content{
				Type:     model.ContentTypeCode,
				Language: language,
				Parts:    []model.Part{model.TextPart{Text: text}},
			},
		}
	}

	t.Run("canvas document", func(t *testing.T) {
		result := n.Normalize("c1", newMsg("json", `{"name": "doc", "type": "document", "content": "# Title\nBody"}`))
		gt.Equal(t, result.Text(), "```markdown\n# Title\nBody\n```")
	})

	t.Run("already fenced", func(t *testing.T) {
		result := n.Normalize("c1", newMsg("json", `{"content": "`+"```markdown\\nx\\n```"+`"}`))
		gt.Equal(t, result.Text(), "```markdown\nx\n```")
	})

	t.Run("plain json", func(t *testing.T) {
		result := n.Normalize("c1", newMsg("json", `{"query": "weather"}`))
		gt.Equal(t, result.Text(), `{"query": "weather"}`)
	})

	t.Run("other language", func(t *testing.T) {
		result := n.Normalize("c1", newMsg("python", "print(1)"))
		gt.Equal(t, result.Text(), "print(1)")
	})
}

func TestNormalizeTextParts(t *testing.T) {
	n, err := content.New("")
	gt.NoError(t, err)

	msg := &model.Message{
		ID: "m1",
		Content: model.Content{
			Type:  model.ContentTypeText,
			Parts: []model.Part{model.TextPart{Text: "Hello, "}, model.TextPart{Text: ""}, model.TextPart{Text: "world"}},
		},
	}
	result := n.Normalize("c1", msg)
	gt.A(t, result.Blocks).Length(2)
	gt.Equal(t, result.Text(), "Hello, world")

	empty := n.Normalize("c1", &model.Message{ID: "m2", Content: model.Content{Type: model.ContentTypeText}})
	gt.True(t, empty.Empty())
	gt.True(t, n.Normalize("c1", nil).Empty())
	gt.False(t, strings.Contains(result.Text(), "Attachment"))
}
