package cli

import (
	"context"

	"github.com/m-mizutani/chatmig/pkg/content"
	"github.com/m-mizutani/chatmig/pkg/modelmap"
	"github.com/m-mizutani/chatmig/pkg/policy"
	"github.com/m-mizutani/chatmig/pkg/usecase/migrate"
	"github.com/m-mizutani/chatmig/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func migrateCommand() *cli.Command {
	var (
		cfg             config
		exportPath      string
		memoryPath      string
		assetDir        string
		targetUser      string
		dryRun          bool
		workers         int64
		tags            []string
		includeBranches bool
		policyDir       string
		modelMap        string
		maxImageBytes   int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "export",
			Aliases:     []string{"e"},
			Usage:       "Export file, or directory of export files",
			Value:       "data/chatgpt/conversations.json",
			Sources:     cli.EnvVars("CHATMIG_EXPORT"),
			Destination: &exportPath,
		},
		&cli.StringFlag{
			Name:        "memory",
			Usage:       "Memory log, one memory per line (missing file means no memories)",
			Value:       "data/chatgpt/memory.txt",
			Sources:     cli.EnvVars("CHATMIG_MEMORY"),
			Destination: &memoryPath,
		},
		&cli.StringFlag{
			Name:        "assets",
			Usage:       "Directory holding exported image files",
			Value:       "data/chatgpt",
			Sources:     cli.EnvVars("CHATMIG_ASSETS"),
			Destination: &assetDir,
		},
		&cli.StringFlag{
			Name:        "target-user",
			Aliases:     []string{"u"},
			Usage:       "ID of the Open WebUI user who owns the migrated chats",
			Sources:     cli.EnvVars("USER_ID"),
			Destination: &targetUser,
		},
		&cli.BoolFlag{
			Name:        "dry-run",
			Usage:       "Convert and report without writing to the database",
			Sources:     cli.EnvVars("CHATMIG_DRY_RUN"),
			Destination: &dryRun,
		},
		&cli.IntFlag{
			Name:        "workers",
			Usage:       "Number of conversations converted in parallel",
			Value:       migrate.DefaultWorkers,
			Sources:     cli.EnvVars("CHATMIG_WORKERS"),
			Destination: &workers,
		},
		&cli.StringSliceFlag{
			Name:        "tags",
			Usage:       "Tags attached to every migrated chat",
			Value:       []string{migrate.DefaultTag},
			Sources:     cli.EnvVars("CHATMIG_TAGS"),
			Destination: &tags,
		},
		&cli.BoolFlag{
			Name:        "include-branches",
			Usage:       "Keep regenerated and edited branches as history-only messages",
			Sources:     cli.EnvVars("CHATMIG_INCLUDE_BRANCHES"),
			Destination: &includeBranches,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of rego files deciding which conversations to skip or tag",
			Sources:     cli.EnvVars("CHATMIG_POLICY_DIR"),
			Destination: &policyDir,
		},
		&cli.StringFlag{
			Name:        "model-map",
			Usage:       "YAML file overriding the model slug mapping",
			Sources:     cli.EnvVars("CHATMIG_MODEL_MAP"),
			Destination: &modelMap,
		},
		&cli.IntFlag{
			Name:        "max-image-size",
			Usage:       "Largest image in bytes embedded into a chat",
			Value:       content.DefaultMaxImageBytes,
			Sources:     cli.EnvVars("CHATMIG_MAX_IMAGE_SIZE"),
			Destination: &maxImageBytes,
		},
	}
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, backupFlags(&cfg)...)
	flags = append(flags, logFlags(&cfg)...)

	return &cli.Command{
		Name:  "migrate",
		Usage: "Migrate conversations and memories into the Open WebUI database",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx, c.Root().ErrWriter)
			if err != nil {
				return err
			}
			logger := logging.From(ctx)
			w := c.Root().Writer

			if workers < 1 {
				return goerr.New("workers must be positive", goerr.V("workers", workers))
			}

			// Initialize dependencies
			store, err := cfg.newStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			users, err := store.ListUsers(ctx)
			if err != nil {
				return err
			}
			user, err := chooseUser(users, targetUser, terminalAsk(w))
			if err != nil {
				return err
			}
			logger.Info("target user", "id", user.ID, "name", user.Name)

			normalizer, err := content.New(assetDir, content.WithMaxImageBytes(maxImageBytes))
			if err != nil {
				return err
			}

			models, err := modelmap.Load(modelMap)
			if err != nil {
				return err
			}

			pol, err := policy.New(ctx, policyDir)
			if err != nil {
				return err
			}
			if pol != nil {
				logger.Info("policy loaded", "files", pol.Files())
			}

			mgr, err := cfg.newBackupManager(ctx)
			if err != nil {
				return err
			}

			prog := newProgress(w, cfg.verbose)
			uc := migrate.New(store,
				migrate.WithNormalizer(normalizer),
				migrate.WithModels(models),
				migrate.WithPolicy(pol),
				migrate.WithBackup(mgr),
				migrate.WithJournal(cfg.newJournal()),
				migrate.WithTags(tags...),
				migrate.WithWorkers(int(workers)),
				migrate.WithBranches(includeBranches),
				migrate.WithProgress(prog.update),
			)

			prog.start()
			report, runErr := uc.Run(ctx, migrate.Input{
				ExportPath: exportPath,
				MemoryPath: memoryPath,
				UserID:     user.ID,
				DryRun:     dryRun,
			})
			prog.stop()

			printReport(w, report, cfg.verbose)

			switch code := report.ExitCode(); code {
			case migrate.ExitSuccess:
				return nil
			case migrate.ExitPartial:
				return exitWith(code, "migration finished with %d skipped conversations and %d placeholders", len(report.Skipped), report.Placeholders)
			default:
				return &exitError{code: code, err: runErr}
			}
		},
	}
}
