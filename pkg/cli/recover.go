package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/chatmig/pkg/usecase/migrate"
	"github.com/urfave/cli/v3"
)

func recoverCommand() *cli.Command {
	var cfg config

	flags := storeFlags(&cfg)
	flags = append(flags, backupFlags(&cfg)...)
	flags = append(flags, logFlags(&cfg)...)

	return &cli.Command{
		Name:  "recover",
		Usage: "Restore the database after an interrupted migration",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx, c.Root().ErrWriter)
			if err != nil {
				return err
			}

			store, err := cfg.newStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			mgr, err := cfg.newBackupManager(ctx)
			if err != nil {
				return err
			}

			uc := migrate.New(store,
				migrate.WithJournal(cfg.newJournal()),
				migrate.WithBackup(mgr),
			)
			snap, err := uc.Recover(ctx)
			if err != nil {
				return err
			}

			if snap == nil {
				fmt.Fprintln(c.Root().Writer, "No interrupted migration found")
				return nil
			}
			fmt.Fprintf(c.Root().Writer, "Database restored from %s (taken %s)\n", snap.Path, snap.CreatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}
