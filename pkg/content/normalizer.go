package content

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/m-mizutani/chatmig/pkg/model"
)

// DefaultMaxImageBytes bounds the size of an image embedded as a data URL
const DefaultMaxImageBytes = 20 << 20

// Normalizer turns message content into text and image blocks. It only reads
// the asset area and is safe for concurrent use.
type Normalizer struct {
	assets        *assetIndex
	maxImageBytes int64
}

type Option func(*Normalizer)

// WithMaxImageBytes sets the largest image that is embedded; larger images
// become placeholders.
func WithMaxImageBytes(n int64) Option {
	return func(x *Normalizer) {
		x.maxImageBytes = n
	}
}

// New indexes assetDir and its generated images directory. A missing assetDir
// yields a normalizer that resolves no assets.
func New(assetDir string, opts ...Option) (*Normalizer, error) {
	idx, err := newAssetIndex(assetDir)
	if err != nil {
		return nil, err
	}

	x := &Normalizer{
		assets:        idx,
		maxImageBytes: DefaultMaxImageBytes,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

// AssetCount returns the number of indexed asset files
func (x *Normalizer) AssetCount() int {
	return x.assets.len()
}

// Result is the normalized content of one message
type Result struct {
	Blocks  []model.Block
	Notices []model.Notice
}

// Text joins the text blocks
func (r *Result) Text() string {
	var texts []string
	for _, b := range r.Blocks {
		if b.Kind == model.BlockText {
			texts = append(texts, b.Text)
		}
	}
	return strings.Join(texts, "")
}

// Images returns the resolved images in order of appearance
func (r *Result) Images() []*model.ImageRef {
	var images []*model.ImageRef
	for _, b := range r.Blocks {
		if b.Kind == model.BlockImage {
			images = append(images, b.Image)
		}
	}
	return images
}

// Empty reports whether the message has neither text nor images
func (r *Result) Empty() bool {
	return strings.TrimSpace(r.Text()) == "" && len(r.Images()) == 0
}

func (r *Result) text(s string) {
	if s == "" {
		return
	}
	r.Blocks = append(r.Blocks, model.Block{Kind: model.BlockText, Text: s})
}

// Normalize converts the content of msg. It never fails: unresolved assets are
// replaced by placeholder text and reported as notices.
func (x *Normalizer) Normalize(conversationID string, msg *model.Message) *Result {
	result := &Result{}
	if msg == nil {
		return result
	}

	if canvas, ok := renderCanvas(msg.Content); ok {
		result.text(canvas)
		return result
	}

	referenced := make(map[string]struct{})
	for _, part := range msg.Content.Parts {
		switch p := part.(type) {
		case model.TextPart:
			result.text(p.Text)

		case model.AssetPart:
			referenced[p.FileID()] = struct{}{}
			x.resolveAsset(result, conversationID, msg, p)
		}
	}

	for _, att := range msg.Metadata.Attachments {
		if _, ok := referenced[att.ID]; ok || att.IsImage() {
			continue
		}
		result.placeholder(unsupported, conversationID, msg.ID, att.ID, att.Name, "not an image")
	}

	return result
}

const (
	missing     = model.NoticeMissingAttachment
	unsupported = model.NoticeUnsupportedAttachment
)

func (r *Result) placeholder(kind model.NoticeKind, conversationID, messageID, fileID, name, detail string) {
	if name == "" {
		name = fileID
	}

	var text string
	switch kind {
	case missing:
		text = fmt.Sprintf("[Attachment unavailable: %s (%s)]", name, fileID)
	default:
		text = fmt.Sprintf("[Attachment not migrated: %s (%s)]", name, fileID)
	}
	if len(r.Blocks) > 0 {
		text = "\n" + text + "\n"
	} else {
		text += "\n"
	}

	r.Blocks = append(r.Blocks, model.Block{Kind: model.BlockText, Text: text})
	r.Notices = append(r.Notices, model.Notice{
		Kind:           kind,
		ConversationID: conversationID,
		MessageID:      messageID,
		Ref:            fileID,
		Detail:         strings.TrimSpace(name + ": " + detail),
	})
}

func (x *Normalizer) resolveAsset(result *Result, conversationID string, msg *model.Message, part model.AssetPart) {
	fileID := part.FileID()
	att, declared := msg.Metadata.Attachment(fileID)

	if declared && att.MimeType != "" && !att.IsImage() {
		result.placeholder(unsupported, conversationID, msg.ID, fileID, att.Name, "not an image")
		return
	}

	file, found := x.assets.lookup(fileID)
	if !found {
		result.placeholder(missing, conversationID, msg.ID, fileID, att.Name, "file not found in export")
		return
	}
	name := att.Name
	if name == "" {
		name = originalName(file.name, fileID)
	}

	info, err := os.Stat(file.path)
	if err != nil {
		result.placeholder(missing, conversationID, msg.ID, fileID, name, err.Error())
		return
	}
	if x.maxImageBytes > 0 && info.Size() > x.maxImageBytes {
		result.placeholder(unsupported, conversationID, msg.ID, fileID, name, fmt.Sprintf("%d bytes exceeds limit", info.Size()))
		return
	}

	data, err := os.ReadFile(file.path)
	if err != nil {
		result.placeholder(missing, conversationID, msg.ID, fileID, name, err.Error())
		return
	}

	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = detectMIME(file.name, data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		result.placeholder(unsupported, conversationID, msg.ID, fileID, name, "not an image: "+mimeType)
		return
	}

	ref := &model.ImageRef{
		FileID:   fileID,
		Name:     name,
		MimeType: mimeType,
		URL:      "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
		Width:    att.Width,
		Height:   att.Height,
		Size:     att.Size,
	}
	if ref.Width == 0 || ref.Height == 0 {
		ref.Width, ref.Height = part.Width, part.Height
	}
	if ref.Width == 0 || ref.Height == 0 {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			ref.Width, ref.Height = cfg.Width, cfg.Height
		}
	}
	if ref.Size == 0 {
		ref.Size = part.SizeBytes
	}
	if ref.Size == 0 {
		ref.Size = int64(len(data))
	}

	result.Blocks = append(result.Blocks, model.Block{Kind: model.BlockImage, Image: ref})
}

// detectMIME sniffs the content first and falls back to the file extension
func detectMIME(name string, data []byte) string {
	detected := mimetype.Detect(data)
	if strings.HasPrefix(detected.String(), "image/") {
		return detected.String()
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		mediaType, _, err := mime.ParseMediaType(byExt)
		if err == nil {
			return mediaType
		}
	}
	mediaType, _, _ := mime.ParseMediaType(detected.String())
	return mediaType
}

// originalName strips the file ID prefix from an exported file name
func originalName(fileName, fileID string) string {
	name := strings.TrimPrefix(fileName, fileID)
	name = strings.TrimLeft(name, "-_")
	if name == "" || strings.HasPrefix(name, ".") {
		return fileName
	}
	return name
}

// renderCanvas renders a canvas document, a code block of JSON carrying a
// "content" field, as a markdown fence.
func renderCanvas(c model.Content) (string, bool) {
	if c.Type != model.ContentTypeCode || c.Language != "json" {
		return "", false
	}

	var doc struct {
		Content *string `json:"content"`
	}
	if err := json.Unmarshal([]byte(c.Text()), &doc); err != nil || doc.Content == nil {
		return "", false
	}

	body := strings.TrimSpace(*doc.Content)
	if strings.HasPrefix(body, "```markdown") && strings.HasSuffix(body, "```") {
		return body, true
	}
	return "```markdown\n" + body + "\n```", true
}
