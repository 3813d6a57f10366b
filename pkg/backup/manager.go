package backup

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/chatmig/pkg/adapter"
	"github.com/m-mizutani/chatmig/pkg/model"
	"github.com/m-mizutani/chatmig/pkg/repository"
	"github.com/m-mizutani/chatmig/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// DefaultMaxBackups is the number of local snapshots kept after a run
const DefaultMaxBackups = 5

// ArchivePrefix is the object key prefix of archived snapshots
const ArchivePrefix = "backups/"

// Backup is a snapshot file found in the backup directory
type Backup struct {
	Path      string
	Size      int64
	CreatedAt time.Time
}

// Manager keeps the snapshots of one database file
type Manager struct {
	dbPath     string
	dir        string
	maxBackups int
	archive    adapter.Storage
}

type Option func(*Manager)

// WithDir sets the backup directory. The default is the directory of the
// database file.
func WithDir(dir string) Option {
	return func(m *Manager) {
		m.dir = dir
	}
}

// WithMaxBackups sets how many snapshots are kept. Zero discards the snapshot of
// a successful run and a negative value keeps everything.
func WithMaxBackups(n int) Option {
	return func(m *Manager) {
		m.maxBackups = n
	}
}

// WithArchive copies every snapshot to storage and fetches it back when the
// local copy is gone
func WithArchive(storage adapter.Storage) Option {
	return func(m *Manager) {
		m.archive = storage
	}
}

func New(dbPath string, opts ...Option) *Manager {
	m := &Manager{
		dbPath:     dbPath,
		maxBackups: DefaultMaxBackups,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dir == "" {
		m.dir = filepath.Dir(dbPath)
	}
	return m
}

// Dir returns the backup directory
func (m *Manager) Dir() string {
	return m.dir
}

// List returns the snapshots of the database, oldest first
func (m *Manager) List() ([]Backup, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to read backup directory", goerr.V("dir", m.dir))
	}

	prefix := repository.BackupPrefix(m.dbPath)
	var backups []Backup
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		stamp := strings.TrimPrefix(name, prefix)
		if len(stamp) > len(repository.BackupTimeFormat) {
			stamp = stamp[:len(repository.BackupTimeFormat)]
		}
		createdAt, err := time.Parse(repository.BackupTimeFormat, stamp)
		if err != nil {
			continue
		}

		backups = append(backups, Backup{
			Path:      filepath.Join(m.dir, name),
			Size:      info.Size(),
			CreatedAt: createdAt,
		})
	}

	// the time layout is fixed width, so names sort chronologically
	sort.Slice(backups, func(i, j int) bool {
		return filepath.Base(backups[i].Path) < filepath.Base(backups[j].Path)
	})
	return backups, nil
}

// Archive uploads snap to the archive under ArchivePrefix. Without an archive,
// or for a snapshot that is not a file, it does nothing.
func (m *Manager) Archive(ctx context.Context, snap *model.Snapshot) error {
	if m.archive == nil || snap == nil || snap.Path == "" {
		return nil
	}
	key, err := m.upload(ctx, snap)
	if err != nil {
		return err
	}
	logging.From(ctx).Info("snapshot archived", "key", key)
	return nil
}

// Fetch puts the archived copy of snap back at snap.Path when the local file
// is missing. The restore verifies its checksum.
func (m *Manager) Fetch(ctx context.Context, snap *model.Snapshot) error {
	if snap == nil || snap.Path == "" {
		return nil
	}
	if _, err := os.Stat(snap.Path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return goerr.Wrap(err, "failed to stat snapshot", goerr.V("path", snap.Path))
	}
	if m.archive == nil {
		return goerr.New("snapshot is missing and no archive is configured", goerr.V("path", snap.Path))
	}

	key := ArchivePrefix + filepath.Base(snap.Path)
	r, err := m.archive.Get(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to open archived snapshot", goerr.V("key", key))
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(snap.Path), 0755); err != nil {
		return goerr.Wrap(err, "failed to create backup directory", goerr.V("path", snap.Path))
	}
	tmp := snap.Path + ".fetch"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return goerr.Wrap(err, "failed to create snapshot file", goerr.V("path", tmp))
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return goerr.Wrap(err, "failed to download snapshot", goerr.V("key", key))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return goerr.Wrap(err, "failed to write snapshot file", goerr.V("path", tmp))
	}
	if err := os.Rename(tmp, snap.Path); err != nil {
		os.Remove(tmp)
		return goerr.Wrap(err, "failed to move snapshot into place", goerr.V("path", snap.Path))
	}

	logging.From(ctx).Info("snapshot fetched from archive", "key", key, "path", snap.Path)
	return nil
}

// Finalize runs after a committed migration and rotates local snapshots
func (m *Manager) Finalize(ctx context.Context, snap *model.Snapshot) error {
	if snap == nil || snap.Path == "" {
		return nil
	}

	if m.maxBackups < 0 {
		return nil
	}
	if m.maxBackups == 0 {
		if err := os.Remove(snap.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return goerr.Wrap(err, "failed to remove snapshot", goerr.V("path", snap.Path))
		}
		logging.From(ctx).Debug("snapshot discarded", "path", snap.Path)
		return nil
	}

	return m.rotate(ctx)
}

func (m *Manager) rotate(ctx context.Context) error {
	backups, err := m.List()
	if err != nil {
		return err
	}
	if len(backups) <= m.maxBackups {
		return nil
	}

	for _, b := range backups[:len(backups)-m.maxBackups] {
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return goerr.Wrap(err, "failed to remove old snapshot", goerr.V("path", b.Path))
		}
		logging.From(ctx).Debug("old snapshot removed", "path", b.Path)
	}
	return nil
}

func (m *Manager) upload(ctx context.Context, snap *model.Snapshot) (string, error) {
	key := ArchivePrefix + filepath.Base(snap.Path)

	f, err := os.Open(snap.Path)
	if err != nil {
		return "", goerr.Wrap(err, "failed to open snapshot", goerr.V("path", snap.Path))
	}
	defer f.Close()

	w, err := m.archive.Put(ctx, key)
	if err != nil {
		return "", goerr.Wrap(err, "failed to open archive object", goerr.V("key", key))
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", goerr.Wrap(err, "failed to upload snapshot", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return "", goerr.Wrap(err, "failed to commit archive object", goerr.V("key", key))
	}
	return key, nil
}
