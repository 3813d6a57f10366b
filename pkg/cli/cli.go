package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/m-mizutani/chatmig/pkg/usecase/migrate"
	"github.com/m-mizutani/chatmig/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

// exitError carries a non-zero exit status decided by a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "chatmig",
		Usage: "Migrate a ChatGPT export into Open WebUI",
		Commands: []*cli.Command{
			migrateCommand(),
			recoverCommand(),
			usersCommand(),
			backupsCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		code := migrate.ExitFatal
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			code = exitErr.code
		}
		if code == migrate.ExitFatal {
			logging.From(ctx).Error("chatmig failed", "error", err)
		}

		return &Error{
			Code:    code,
			Message: err.Error(),
		}
	}

	return nil
}

func exitWith(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}
