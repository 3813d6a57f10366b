package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/m-mizutani/chatmig/pkg/adapter"
	"github.com/m-mizutani/chatmig/pkg/backup"
	"github.com/m-mizutani/chatmig/pkg/repository"
	"github.com/m-mizutani/chatmig/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// config holds configuration values shared by commands
type config struct {
	// Logging
	logLevel string
	verbose  bool

	// Target store
	dbPath string

	// Backups
	backupDir       string
	keepBackups     int64
	backupBucket    string
	storageEndpoint string
}

// logFlags returns flags controlling log output
func logFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("CHATMIG_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.BoolFlag{
			Name:        "verbose",
			Aliases:     []string{"v"},
			Usage:       "Debug logging and per-item details in the report",
			Sources:     cli.EnvVars("CHATMIG_VERBOSE"),
			Destination: &cfg.verbose,
		},
	}
}

// storeFlags returns flags locating the target store and its backups
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "db",
			Usage:       "Path to the Open WebUI SQLite database",
			Value:       "webui.db",
			Sources:     cli.EnvVars("WEBUI_DB_PATH"),
			Destination: &cfg.dbPath,
		},
		&cli.StringFlag{
			Name:        "backup-dir",
			Usage:       "Directory for database snapshots (default: next to the database)",
			Sources:     cli.EnvVars("CHATMIG_BACKUP_DIR"),
			Destination: &cfg.backupDir,
		},
	}
}

// backupFlags returns flags for snapshot retention and archiving
func backupFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "keep-backups",
			Usage:       "Number of local snapshots kept after a successful run (0 discards, -1 keeps all)",
			Value:       backup.DefaultMaxBackups,
			Sources:     cli.EnvVars("CHATMIG_KEEP_BACKUPS"),
			Destination: &cfg.keepBackups,
		},
		&cli.StringFlag{
			Name:        "backup-bucket",
			Usage:       "Cloud Storage bucket to archive snapshots to",
			Sources:     cli.EnvVars("CHATMIG_BACKUP_BUCKET"),
			Destination: &cfg.backupBucket,
		},
		&cli.StringFlag{
			Name:        "storage-endpoint",
			Usage:       "Custom Cloud Storage endpoint, e.g. an emulator",
			Sources:     cli.EnvVars("STORAGE_EMULATOR_HOST_URL"),
			Destination: &cfg.storageEndpoint,
		},
	}
}

// setupLogger attaches a logger configured by the flags to ctx
func (cfg *config) setupLogger(ctx context.Context, w io.Writer) (context.Context, error) {
	level, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		return ctx, err
	}
	if cfg.verbose {
		level = slog.LevelDebug
	}

	logger := logging.New(level, w)
	logging.SetDefault(logger)
	return logging.With(ctx, logger), nil
}

// newStore opens the target database
func (cfg *config) newStore(ctx context.Context) (*repository.SQLite, error) {
	if cfg.dbPath == "" {
		return nil, goerr.New("db is required")
	}

	var opts []repository.SQLiteOption
	if cfg.backupDir != "" {
		opts = append(opts, repository.WithBackupDir(cfg.backupDir))
	}

	store, err := repository.NewSQLite(ctx, cfg.dbPath, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open target database")
	}
	return store, nil
}

// newJournal creates the interrupted-run marker of the database
func (cfg *config) newJournal() *backup.Journal {
	return backup.NewJournal(cfg.dbPath)
}

// newStorage creates a new Storage adapter instance, or nil without a bucket
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.backupBucket == "" {
		return nil, nil
	}

	var opts []adapter.StorageOption
	if cfg.storageEndpoint != "" {
		opts = append(opts, adapter.WithEndpoint(cfg.storageEndpoint))
	}

	storage, err := adapter.NewStorage(ctx, cfg.backupBucket, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

// newBackupManager creates the snapshot retention manager
func (cfg *config) newBackupManager(ctx context.Context) (*backup.Manager, error) {
	opts := []backup.Option{
		backup.WithMaxBackups(int(cfg.keepBackups)),
	}
	if cfg.backupDir != "" {
		opts = append(opts, backup.WithDir(cfg.backupDir))
	}

	storage, err := cfg.newStorage(ctx)
	if err != nil {
		return nil, err
	}
	if storage != nil {
		opts = append(opts, backup.WithArchive(storage))
	}

	return backup.New(cfg.dbPath, opts...), nil
}
