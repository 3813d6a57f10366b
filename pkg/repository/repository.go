package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/m-mizutani/chatmig/pkg/interfaces"
	"github.com/m-mizutani/chatmig/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

var (
	_ interfaces.TargetStore = (*SQLite)(nil)
	_ interfaces.TargetStore = (*Memory)(nil)
)

// requiredTables must exist in a target database
var requiredTables = []string{"user", "chat", "tag", "memory"}

// schema is the subset of the Open WebUI schema the migration touches. It is
// only applied with WithCreateSchema.
const schema = `
CREATE TABLE IF NOT EXISTS "user" (
	id TEXT PRIMARY KEY NOT NULL,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'user',
	profile_image_url TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT 0,
	last_active_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS chat (
	id TEXT PRIMARY KEY NOT NULL,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	share_id TEXT UNIQUE,
	archived INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	chat JSON,
	pinned BOOLEAN,
	meta JSON DEFAULT '{}' NOT NULL,
	folder_id TEXT
);
CREATE TABLE IF NOT EXISTS tag (
	id VARCHAR(255) NOT NULL,
	name VARCHAR(255) NOT NULL,
	user_id VARCHAR(255) NOT NULL,
	meta JSON,
	PRIMARY KEY (id, user_id)
);
CREATE TABLE IF NOT EXISTS memory (
	id TEXT PRIMARY KEY NOT NULL,
	user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

var tagSlugRe = regexp.MustCompile(`[^a-z0-9_-]+`)

// TagID derives the tag table key from a tag name
func TagID(name string) string {
	id := tagSlugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	id = strings.Trim(id, "-")
	for strings.Contains(id, "--") {
		id = strings.ReplaceAll(id, "--", "-")
	}
	return id
}

// encodeChat returns the chat and meta column values of rec
func encodeChat(rec *model.ChatRecord) (chat, meta []byte, err error) {
	if rec == nil || rec.ID == "" {
		return nil, nil, goerr.New("chat record has no id")
	}
	if rec.Chat == nil {
		return nil, nil, goerr.New("chat record has no document", goerr.V("chat_id", rec.ID))
	}

	chat, err = json.Marshal(rec.Chat)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to encode chat document", goerr.V("chat_id", rec.ID))
	}

	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	meta, err = json.Marshal(model.ChatMeta{Tags: tags})
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to encode chat meta", goerr.V("chat_id", rec.ID))
	}
	return chat, meta, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
