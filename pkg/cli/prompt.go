package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/chatmig/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/mattn/go-isatty"
)

// askFunc lets the operator pick one of several users
type askFunc func(users []*model.User) (*model.User, error)

// chooseUser resolves the migration owner. A requested ID must exist; without
// one, a single user is taken as is and several users are handed to ask, which
// is nil when nobody can answer.
func chooseUser(users []*model.User, requested string, ask askFunc) (*model.User, error) {
	if requested != "" {
		for _, u := range users {
			if u.ID == requested {
				return u, nil
			}
		}
		return nil, goerr.New("target user not found", goerr.V("user_id", requested))
	}

	switch len(users) {
	case 0:
		return nil, goerr.New("target database has no users")
	case 1:
		return users[0], nil
	}

	if ask == nil {
		ids := make([]string, len(users))
		for i, u := range users {
			ids[i] = u.ID
		}
		return nil, goerr.New("several users found, set --target-user", goerr.V("user_ids", ids))
	}
	return ask(users)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// terminalAsk returns a prompt on the process terminal, or nil when stdin is not one
func terminalAsk(w io.Writer) askFunc {
	if !isTerminal(os.Stdin) {
		return nil
	}
	return func(users []*model.User) (*model.User, error) {
		return promptUser(users, os.Stdin, w)
	}
}

// promptUser lists users and reads a number until a valid one is given
func promptUser(users []*model.User, in io.ReadCloser, w io.Writer) (*model.User, error) {
	fmt.Fprintln(w, "Select the user who will own the migrated chats:")
	for i, u := range users {
		fmt.Fprintf(w, "  [%d] %s <%s> (%s)\n", i+1, u.Name, u.Email, u.ID)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt: fmt.Sprintf("user [1-%d]> ", len(users)),
		Stdin:  in,
		Stdout: w,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to start prompt")
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			return nil, goerr.Wrap(err, "user selection aborted")
		}

		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || n < 1 || n > len(users) {
			fmt.Fprintf(w, "enter a number between 1 and %d\n", len(users))
			continue
		}
		return users[n-1], nil
	}
}
