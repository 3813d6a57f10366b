package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/m-mizutani/chatmig/pkg/model"
	"github.com/m-mizutani/chatmig/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"
)

// BackupTimeFormat is the timestamp layout of snapshot file names
const BackupTimeFormat = "2006-01-02_150405.000000"

// BackupPrefix returns the file name prefix of snapshots of dbPath
func BackupPrefix(dbPath string) string {
	return filepath.Base(dbPath) + ".backup."
}

// SQLite is the Open WebUI database. All access goes through one connection
// and is serialized by mu.
type SQLite struct {
	mu        sync.Mutex
	path      string
	backupDir string
	create    bool
	now       func() time.Time
	db        *sql.DB

	// memory keys per user, loaded on first lookup
	memKeys map[string]map[string]struct{}
}

type SQLiteOption func(*SQLite)

// WithBackupDir sets where snapshots are written. The default is the directory
// of the database file.
func WithBackupDir(dir string) SQLiteOption {
	return func(s *SQLite) {
		s.backupDir = dir
	}
}

// WithCreateSchema creates the database file and the required tables if missing
func WithCreateSchema() SQLiteOption {
	return func(s *SQLite) {
		s.create = true
	}
}

// WithClock replaces the time source used for timestamps and snapshot names
func WithClock(now func() time.Time) SQLiteOption {
	return func(s *SQLite) {
		s.now = now
	}
}

// NewSQLite opens the database at path and checks that it has the Open WebUI
// tables the migration writes to.
func NewSQLite(ctx context.Context, path string, opts ...SQLiteOption) (*SQLite, error) {
	s := &SQLite{
		path:    path,
		now:     time.Now,
		memKeys: map[string]map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backupDir == "" {
		s.backupDir = filepath.Dir(path)
	}

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || !s.create {
			return nil, goerr.Wrap(err, "database file is not accessible", goerr.V("path", path))
		}
	}

	if err := s.open(ctx); err != nil {
		return nil, err
	}

	if s.create {
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			s.db.Close()
			return nil, goerr.Wrap(err, "failed to create schema", goerr.V("path", path))
		}
	}

	if err := s.validate(ctx); err != nil {
		s.db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLite) open(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return goerr.Wrap(err, "failed to open database", goerr.V("path", s.path))
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return goerr.Wrap(err, "failed to configure database", goerr.V("path", s.path))
	}

	s.db = db
	return nil
}

func (s *SQLite) validate(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return goerr.Wrap(err, "failed to read database schema", goerr.V("path", s.path))
	}
	defer rows.Close()

	tables := map[string]struct{}{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return goerr.Wrap(err, "failed to scan table name")
		}
		tables[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return goerr.Wrap(err, "failed to read database schema", goerr.V("path", s.path))
	}

	var missing []string
	for _, name := range requiredTables {
		if _, ok := tables[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return goerr.New("not an Open WebUI database", goerr.V("path", s.path), goerr.V("missing_tables", missing))
	}
	return nil
}

// Path returns the database file path
func (s *SQLite) Path() string {
	return s.path
}

// Close closes the database
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Snapshot flushes the write-ahead log into the main file and copies the file
// into the backup directory.
func (s *SQLite) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, goerr.New("database is closed")
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, goerr.Wrap(err, "failed to checkpoint database", goerr.V("path", s.path))
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read database file", goerr.V("path", s.path))
	}

	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return nil, goerr.Wrap(err, "failed to create backup directory", goerr.V("dir", s.backupDir))
	}

	createdAt := s.now()
	backupPath, err := s.backupPath(createdAt)
	if err != nil {
		return nil, err
	}
	if err := writeFileSync(backupPath, data); err != nil {
		return nil, goerr.Wrap(err, "failed to write snapshot", goerr.V("path", backupPath))
	}

	snap := &model.Snapshot{
		ID:        model.NewSnapshotID(),
		Path:      backupPath,
		Size:      int64(len(data)),
		Checksum:  checksum(data),
		CreatedAt: createdAt,
	}
	logging.From(ctx).Debug("snapshot written", "path", snap.Path, "size", snap.Size)
	return snap, nil
}

func (s *SQLite) backupPath(t time.Time) (string, error) {
	base := filepath.Join(s.backupDir, BackupPrefix(s.path)+t.Format(BackupTimeFormat))
	candidate := base
	for i := 1; ; i++ {
		_, err := os.Stat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", goerr.Wrap(err, "failed to check snapshot path", goerr.V("path", candidate))
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

// Restore replaces the database file with the snapshot and reopens it. The
// snapshot is checked against its checksum before and after the copy.
func (s *SQLite) Restore(ctx context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap == nil || snap.Path == "" {
		return goerr.New("snapshot has no file")
	}

	data, err := os.ReadFile(snap.Path)
	if err != nil {
		return goerr.Wrap(err, "failed to read snapshot", goerr.V("path", snap.Path))
	}
	if sum := checksum(data); sum != snap.Checksum {
		return goerr.New("snapshot checksum mismatch", goerr.V("path", snap.Path), goerr.V("expected", snap.Checksum), goerr.V("actual", sum))
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return goerr.Wrap(err, "failed to close database before restore", goerr.V("path", s.path))
		}
		s.db = nil
	}

	tmp := s.path + ".restore"
	if err := writeFileSync(tmp, data); err != nil {
		return goerr.Wrap(err, "failed to stage restore", goerr.V("path", tmp))
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return goerr.Wrap(err, "failed to replace database file", goerr.V("path", s.path))
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		if err := os.Remove(s.path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return goerr.Wrap(err, "failed to remove database side file", goerr.V("path", s.path+suffix))
		}
	}

	restored, err := os.ReadFile(s.path)
	if err != nil {
		return goerr.Wrap(err, "failed to read restored database", goerr.V("path", s.path))
	}
	if sum := checksum(restored); sum != snap.Checksum {
		return goerr.New("restored database does not match snapshot", goerr.V("path", s.path), goerr.V("actual", sum))
	}

	s.memKeys = map[string]map[string]struct{}{}
	if err := s.open(ctx); err != nil {
		return err
	}

	logging.From(ctx).Info("database restored", "path", s.path, "snapshot", snap.Path)
	return nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

const upsertChatSQL = `
INSERT INTO chat (id, user_id, title, share_id, archived, created_at, updated_at, chat, pinned, meta, folder_id)
VALUES (?, ?, ?, NULL, 0, ?, ?, ?, 0, ?, NULL)
ON CONFLICT(id) DO UPDATE SET
	user_id = excluded.user_id,
	title = excluded.title,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at,
	chat = excluded.chat,
	meta = excluded.meta`

const upsertTagSQL = `
INSERT INTO tag (id, name, user_id, meta)
VALUES (?, ?, ?, 'null')
ON CONFLICT(id, user_id) DO UPDATE SET name = excluded.name`

// UpsertChat writes the chat row and its tags in one transaction
func (s *SQLite) UpsertChat(ctx context.Context, rec *model.ChatRecord) error {
	chat, meta, err := encodeChat(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return goerr.New("database is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction", goerr.V("chat_id", rec.ID))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, upsertChatSQL,
		rec.ID, rec.UserID, rec.Title,
		rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(),
		string(chat), string(meta),
	); err != nil {
		return goerr.Wrap(err, "failed to upsert chat", goerr.V("chat_id", rec.ID))
	}

	for _, tag := range rec.Tags {
		id := TagID(tag)
		if id == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, upsertTagSQL, id, tag, rec.UserID); err != nil {
			return goerr.Wrap(err, "failed to upsert tag", goerr.V("chat_id", rec.ID), goerr.V("tag", tag))
		}
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit chat", goerr.V("chat_id", rec.ID))
	}
	committed = true
	return nil
}

func (s *SQLite) loadMemoryKeys(ctx context.Context, userID string) (map[string]struct{}, error) {
	if keys, ok := s.memKeys[userID]; ok {
		return keys, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT content FROM memory WHERE user_id = ?`, userID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query memories", goerr.V("user_id", userID))
	}
	defer rows.Close()

	keys := map[string]struct{}{}
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, goerr.Wrap(err, "failed to scan memory")
		}
		keys[model.MemoryKey(content)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to query memories", goerr.V("user_id", userID))
	}

	s.memKeys[userID] = keys
	return keys, nil
}

// MemoryExists compares key against the normalized content of stored memories
func (s *SQLite) MemoryExists(ctx context.Context, userID, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return false, goerr.New("database is closed")
	}

	keys, err := s.loadMemoryKeys(ctx, userID)
	if err != nil {
		return false, err
	}
	_, ok := keys[key]
	return ok, nil
}

// InsertMemory adds a memory row. The row ID is derived from the user and key,
// so inserting the same entry twice leaves one row.
func (s *SQLite) InsertMemory(ctx context.Context, userID string, entry model.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return goerr.New("database is closed")
	}

	keys, err := s.loadMemoryKeys(ctx, userID)
	if err != nil {
		return err
	}

	now := s.now().Unix()
	id := model.NewMemoryID(userID, entry.Key)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO memory (id, user_id, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		string(id), userID, entry.Text, now, now,
	); err != nil {
		return goerr.Wrap(err, "failed to insert memory", goerr.V("user_id", userID), goerr.V("memory_id", id))
	}

	keys[entry.Key] = struct{}{}
	return nil
}

// ListUsers returns users ordered by creation time
func (s *SQLite) ListUsers(ctx context.Context) ([]*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, goerr.New("database is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, email FROM "user" ORDER BY created_at, id`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query users")
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, goerr.Wrap(err, "failed to scan user")
		}
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to query users")
	}
	return users, nil
}
