package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func backupsCommand() *cli.Command {
	var cfg config

	flags := storeFlags(&cfg)
	flags = append(flags, logFlags(&cfg)...)

	return &cli.Command{
		Name:  "backups",
		Usage: "List database snapshots and any interrupted migration",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if _, err := cfg.setupLogger(ctx, c.Root().ErrWriter); err != nil {
				return err
			}

			pending, err := cfg.newJournal().Pending()
			if err != nil {
				return err
			}
			if pending != nil {
				fmt.Fprintf(c.Root().Writer, "Interrupted migration pending, run recover (snapshot %s)\n", pending.Path)
			}

			// only the file names are needed, so the database is not opened
			cfg.keepBackups = -1
			mgr, err := cfg.newBackupManager(ctx)
			if err != nil {
				return err
			}
			backups, err := mgr.List()
			if err != nil {
				return goerr.Wrap(err, "failed to list backups")
			}

			if len(backups) == 0 {
				fmt.Fprintf(c.Root().Writer, "No snapshots found in %s\n", mgr.Dir())
				return nil
			}

			for _, b := range backups {
				fmt.Fprintf(c.Root().Writer, "%s\t%d\t%s\n",
					b.Path,
					b.Size,
					b.CreatedAt.Format("2006-01-02 15:04:05"),
				)
			}

			return nil
		},
	}
}
