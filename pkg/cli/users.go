package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func usersCommand() *cli.Command {
	var cfg config

	flags := storeFlags(&cfg)
	flags = append(flags, logFlags(&cfg)...)

	return &cli.Command{
		Name:  "users",
		Usage: "List users of the Open WebUI database",
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

			users, err := store.ListUsers(ctx)
			if err != nil {
				return err
			}

			if len(users) == 0 {
				fmt.Fprintln(c.Root().Writer, "No users found")
				return nil
			}
			for _, u := range users {
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\n", u.ID, u.Name, u.Email)
			}
			return nil
		},
	}
}
