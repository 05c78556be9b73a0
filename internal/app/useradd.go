package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/ismistube/backend/internal/config"
	"github.com/ismistube/backend/internal/credentials"
	"github.com/ismistube/backend/internal/logging"
	"github.com/ismistube/backend/internal/models"
)

func runUserAdd(ctx context.Context, args []string, in *os.File, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: useradd <username>")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	password, err := readPassword(in, out)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}

	return errors.Join(addUser(ctx, credentials.NewStore(st.users, cfg.BcryptCost), args[0], password, out), st.Close(ctx))
}

type registrar interface {
	Register(ctx context.Context, username, password string) (models.User, error)
}

func addUser(ctx context.Context, store registrar, username, password string, out io.Writer) error {
	user, err := store.Register(ctx, username, password)
	if err != nil {
		return fmt.Errorf("register %q: %w", username, err)
	}
	fmt.Fprintf(out, "created user %s\n", user.Username)
	return nil
}

// readPassword prompts without echo on a terminal and otherwise reads the
// first line of in, so the command can be scripted.
func readPassword(in *os.File, out io.Writer) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(out, "Password: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	return readPasswordLine(in)
}

func readPasswordLine(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}
