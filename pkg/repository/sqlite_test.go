package repository_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/chatmig/pkg/model"
	"github.com/m-mizutani/chatmig/pkg/repository"
	"github.com/m-mizutani/gt"
)

func setupSQLite(t *testing.T, opts ...repository.SQLiteOption) (*repository.SQLite, string) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "webui.db")

	opts = append([]repository.SQLiteOption{repository.WithCreateSchema()}, opts...)
	store, err := repository.NewSQLite(ctx, path, opts...)
	gt.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	db := openDB(t, path)
	_, err = db.ExecContext(ctx, `INSERT INTO "user" (id, name, email, created_at) VALUES
		('user-2', 'Bob', 'bob@example.com', 200),
		('user-1', 'Alice', 'alice@example.com', 100)`)
	gt.NoError(t, err)

	return store, path
}

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	gt.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newChatRecord(id, title string, tags ...string) *model.ChatRecord {
	current := "m1"
	return &model.ChatRecord{
		ID:        id,
		UserID:    "user-1",
		Title:     title,
		CreatedAt: time.Unix(1716200000, 0),
		UpdatedAt: time.Unix(1716200300, 0),
		Tags:      tags,
		Chat: &model.ChatDocument{
			ID:     id,
			Title:  title,
			Models: []string{"openai-gpt-4o"},
			Params: map[string]any{},
			History: model.ChatHistory{
				Messages: map[string]*model.MessageRecord{
					"m1": {ID: "m1", ChildrenIDs: []string{}, Role: model.RoleUser, Content: "hello"},
				},
				CurrentID: &current,
			},
			Messages: []*model.MessageRecord{{ID: "m1", ChildrenIDs: []string{}, Role: model.RoleUser, Content: "hello"}},
			Tags:     tags,
		},
	}
}

func TestNewSQLiteValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		_, err := repository.NewSQLite(ctx, filepath.Join(t.TempDir(), "none.db"))
		gt.Error(t, err)
	})

	t.Run("not an Open WebUI database", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "other.db")
		db := openDB(t, path)
		_, err := db.ExecContext(ctx, `CREATE TABLE chat (id TEXT PRIMARY KEY)`)
		gt.NoError(t, err)

		_, err = repository.NewSQLite(ctx, path)
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("not an Open WebUI database")
	})

	t.Run("existing database", func(t *testing.T) {
		_, path := setupSQLite(t)
		store, err := repository.NewSQLite(ctx, path)
		gt.NoError(t, err)
		gt.NoError(t, store.Close())
	})
}

func TestSQLiteListUsers(t *testing.T) {
	store, _ := setupSQLite(t)

	users, err := store.ListUsers(context.Background())
	gt.NoError(t, err)
	gt.A(t, users).Length(2)
	gt.Equal(t, users[0].ID, "user-1")
	gt.Equal(t, users[0].Email, "alice@example.com")
	gt.Equal(t, users[1].Name, "Bob")
}

func TestSQLiteUpsertChat(t *testing.T) {
	ctx := context.Background()
	store, path := setupSQLite(t)
	db := openDB(t, path)

	gt.NoError(t, store.UpsertChat(ctx, newChatRecord("conv-1", "First", "imported-chatgpt", "Work Notes")))
	gt.NoError(t, store.UpsertChat(ctx, newChatRecord("conv-1", "Renamed", "imported-chatgpt", "Work Notes")))

	var count int
	gt.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat`).Scan(&count))
	gt.Equal(t, count, 1)

	var (
		title, userID, chatJSON, metaJSON string
		createdAt, updatedAt              int64
		archived                          int
	)
	gt.NoError(t, db.QueryRowContext(ctx,
		`SELECT title, user_id, chat, meta, created_at, updated_at, archived FROM chat WHERE id = ?`, "conv-1",
	).Scan(&title, &userID, &chatJSON, &metaJSON, &createdAt, &updatedAt, &archived))
	gt.Equal(t, title, "Renamed")
	gt.Equal(t, userID, "user-1")
	gt.Equal(t, createdAt, int64(1716200000))
	gt.Equal(t, updatedAt, int64(1716200300))
	gt.Equal(t, archived, 0)

	var meta model.ChatMeta
	gt.NoError(t, json.Unmarshal([]byte(metaJSON), &meta))
	gt.Equal(t, meta.Tags, []string{"imported-chatgpt", "Work Notes"})

	var doc model.ChatDocument
	gt.NoError(t, json.Unmarshal([]byte(chatJSON), &doc))
	gt.Equal(t, doc.Title, "Renamed")
	gt.Equal(t, *doc.History.CurrentID, "m1")

	rows, err := db.QueryContext(ctx, `SELECT id, name FROM tag WHERE user_id = ? ORDER BY id`, "user-1")
	gt.NoError(t, err)
	defer rows.Close()
	var tags [][2]string
	for rows.Next() {
		var id, name string
		gt.NoError(t, rows.Scan(&id, &name))
		tags = append(tags, [2]string{id, name})
	}
	gt.Equal(t, tags, [][2]string{{"imported-chatgpt", "imported-chatgpt"}, {"work-notes", "Work Notes"}})
}

func TestSQLiteUpsertChatInvalid(t *testing.T) {
	store, _ := setupSQLite(t)
	gt.Error(t, store.UpsertChat(context.Background(), &model.ChatRecord{ID: "x"}))
	gt.Error(t, store.UpsertChat(context.Background(), &model.ChatRecord{}))
}

func TestSQLiteMemory(t *testing.T) {
	ctx := context.Background()
	store, path := setupSQLite(t)
	db := openDB(t, path)

	_, err := db.ExecContext(ctx, `INSERT INTO memory (id, user_id, content, created_at, updated_at) VALUES ('pre', 'user-1', '  Prefers   GO ', 1, 1)`)
	gt.NoError(t, err)

	exists, err := store.MemoryExists(ctx, "user-1", model.MemoryKey("prefers go"))
	gt.NoError(t, err)
	gt.True(t, exists)

	entry := model.NewMemoryEntry("Lives in Kyoto.")
	exists, err = store.MemoryExists(ctx, "user-1", entry.Key)
	gt.NoError(t, err)
	gt.False(t, exists)

	gt.NoError(t, store.InsertMemory(ctx, "user-1", entry))
	gt.NoError(t, store.InsertMemory(ctx, "user-1", entry))

	exists, err = store.MemoryExists(ctx, "user-1", entry.Key)
	gt.NoError(t, err)
	gt.True(t, exists)

	exists, err = store.MemoryExists(ctx, "user-2", entry.Key)
	gt.NoError(t, err)
	gt.False(t, exists)

	var count int
	gt.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory WHERE user_id = 'user-1'`).Scan(&count))
	gt.Equal(t, count, 2)

	var id string
	gt.NoError(t, db.QueryRowContext(ctx, `SELECT id FROM memory WHERE content = ?`, "Lives in Kyoto.").Scan(&id))
	gt.Equal(t, id, string(model.NewMemoryID("user-1", entry.Key)))
}

func TestSQLiteSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	backupDir := filepath.Join(t.TempDir(), "backups")
	now := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	store, path := setupSQLite(t,
		repository.WithBackupDir(backupDir),
		repository.WithClock(func() time.Time { return now }),
	)

	gt.NoError(t, store.UpsertChat(ctx, newChatRecord("conv-0", "Existing")))

	snap, err := store.Snapshot(ctx)
	gt.NoError(t, err)
	gt.Equal(t, filepath.Dir(snap.Path), backupDir)
	gt.Equal(t, filepath.Base(snap.Path), "webui.db.backup.2024-05-20_100000.000000")
	gt.Equal(t, snap.CreatedAt, now)
	gt.Equal(t, len(snap.Checksum), 64)

	before, err := os.ReadFile(path)
	gt.NoError(t, err)

	// a second snapshot in the same instant does not overwrite the first
	second, err := store.Snapshot(ctx)
	gt.NoError(t, err)
	gt.NotEqual(t, second.Path, snap.Path)

	gt.NoError(t, store.UpsertChat(ctx, newChatRecord("conv-1", "New")))
	gt.NoError(t, store.InsertMemory(ctx, "user-1", model.NewMemoryEntry("new memory")))

	gt.NoError(t, store.Restore(ctx, snap))

	after, err := os.ReadFile(path)
	gt.NoError(t, err)
	gt.Equal(t, after, before)

	// the store is usable after restore and its memory cache was reset
	exists, err := store.MemoryExists(ctx, "user-1", model.MemoryKey("new memory"))
	gt.NoError(t, err)
	gt.False(t, exists)
	gt.NoError(t, store.UpsertChat(ctx, newChatRecord("conv-2", "After")))
}

func TestSQLiteRestoreRejectsCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	store, _ := setupSQLite(t)

	snap, err := store.Snapshot(ctx)
	gt.NoError(t, err)
	gt.NoError(t, os.WriteFile(snap.Path, []byte("garbage"), 0644))

	gt.Error(t, store.Restore(ctx, snap))
	gt.Error(t, store.Restore(ctx, &model.Snapshot{}))
}

func TestTagID(t *testing.T) {
	gt.Equal(t, repository.TagID("imported-chatgpt"), "imported-chatgpt")
	gt.Equal(t, repository.TagID(" Work  Notes! "), "work-notes")
	gt.Equal(t, repository.TagID("日本語"), "")
}
