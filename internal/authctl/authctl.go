// Package authctl реализует операторские команды: создание пользователя,
// просмотр и отзыв сессий, очистку истекших refresh tokens.
package authctl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/iudanet/authgate/internal/server/credentials"
	"github.com/iudanet/authgate/internal/server/ledger"
)

// PasswordEnv переменная окружения с паролем для useradd без терминала
const PasswordEnv = "AUTHGATE_USER_PASSWORD"

// ErrUnknownCommand неизвестная подкоманда
var ErrUnknownCommand = errors.New("unknown command")

// Cli выполняет команды authctl
type Cli struct {
	io          IO
	credentials *credentials.Store
	ledger      *ledger.Ledger
}

// New создает Cli
func New(io IO, creds *credentials.Store, l *ledger.Ledger) *Cli {
	return &Cli{
		io:          io,
		credentials: creds,
		ledger:      l,
	}
}

// Run выполняет подкоманду args[0] с ее флагами
func (c *Cli) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		PrintUsage(c.io)
		return fmt.Errorf("%w: no command given", ErrUnknownCommand)
	}

	command, rest := args[0], args[1:]

	switch command {
	case "useradd":
		return c.runUserAdd(ctx, rest)
	case "sessions":
		return c.runSessions(ctx, rest)
	case "revoke-user":
		return c.runRevokeUser(ctx, rest)
	case "prune":
		return c.runPrune(ctx, rest)
	default:
		PrintUsage(c.io)
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

func (c *Cli) runUserAdd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("useradd", flag.ContinueOnError)
	email := fs.String("email", "", "user email (required)")
	name := fs.String("name", "", "display name")
	timezone := fs.String("timezone", "", "IANA timezone")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *email == "" {
		return fmt.Errorf("-email is required")
	}

	password, err := c.readNewPassword()
	if err != nil {
		return err
	}

	user, err := c.credentials.Create(ctx, credentials.NewIdentity{
		Email:       *email,
		Password:    password,
		DisplayName: *name,
		Timezone:    *timezone,
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	c.io.Println("✓ User created")
	c.io.Printf("User ID: %s\n", user.ID)
	c.io.Printf("Email:   %s\n", user.Email)

	return nil
}

// readNewPassword берет пароль из PasswordEnv или запрашивает дважды
func (c *Cli) readNewPassword() (string, error) {
	if password := os.Getenv(PasswordEnv); password != "" {
		return password, nil
	}

	password, err := c.io.ReadPassword("Password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	confirm, err := c.io.ReadPassword("Confirm password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}

	if password != confirm {
		return "", fmt.Errorf("passwords do not match")
	}

	return password, nil
}

func (c *Cli) runSessions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	userID := fs.String("user", "", "user id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *userID == "" {
		return fmt.Errorf("-user is required")
	}

	sessions, err := c.ledger.Sessions(ctx, *userID)
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		c.io.Println("No active sessions")
		return nil
	}

	c.io.Printf("%-36s  %-20s  %-20s  %s\n", "ID", "DEVICE", "LAST USED", "EXPIRES")
	for _, s := range sessions {
		device := s.DeviceID
		if device == "" {
			device = "-"
		}
		c.io.Printf("%-36s  %-20s  %-20s  %s\n",
			s.ID, device,
			s.LastUsedAt.Format(time.DateTime),
			s.ExpiresAt.Format(time.DateTime))
	}

	return nil
}

func (c *Cli) runRevokeUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revoke-user", flag.ContinueOnError)
	userID := fs.String("user", "", "user id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *userID == "" {
		return fmt.Errorf("-user is required")
	}

	count, err := c.ledger.RevokeAllForUser(ctx, *userID)
	if err != nil {
		return err
	}

	c.io.Printf("Revoked %d session(s)\n", count)
	return nil
}

func (c *Cli) runPrune(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	olderThan := fs.Duration("older-than", 0, "delete refresh tokens expired longer ago than this")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *olderThan < 0 {
		return fmt.Errorf("-older-than must not be negative")
	}

	count, err := c.ledger.Prune(ctx, *olderThan)
	if err != nil {
		return err
	}

	c.io.Printf("Deleted %d expired refresh token(s)\n", count)
	return nil
}

// PrintUsage выводит справку
func PrintUsage(io IO) {
	io.Println("Usage: authctl [global flags] <command> [command flags]")
	io.Println()
	io.Println("Commands:")
	io.Println("  useradd -email E [-name N] [-timezone TZ]   create a user (password prompted or $" + PasswordEnv + ")")
	io.Println("  sessions -user ID                          list active sessions")
	io.Println("  revoke-user -user ID                       revoke every session of a user")
	io.Println("  prune -older-than D                        delete refresh tokens expired before now-D")
	io.Println("  version                                    show version information")
	io.Println()
	io.Println("Global flags are shared with the server (-storage, -dsn, -log-level, ...).")
}
