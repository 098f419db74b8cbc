package cli

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/koshelf/koshelf/internal/auth"
	"github.com/koshelf/koshelf/internal/config"
	"github.com/koshelf/koshelf/internal/database"
)

// CreateAdminCommand bootstraps the first administrator account.
type CreateAdminCommand struct {
	Username     string
	Email        string
	Password     string
	DatabasePath string
}

// NewCreateAdminCommand creates a new CreateAdminCommand
func NewCreateAdminCommand() *CreateAdminCommand {
	return &CreateAdminCommand{}
}

// ParseFlags parses command line flags
func (cmd *CreateAdminCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ExitOnError)

	fs.StringVar(&cmd.Username, "username", "admin", "Administrator username")
	fs.StringVar(&cmd.Email, "email", "", "Administrator email (optional)")
	fs.StringVar(&cmd.Password, "password", "", "Password (prompted interactively when omitted)")
	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the database file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s create-admin [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Create an administrator account for the web interface and API.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s create-admin\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s create-admin -username librarian -db /data/koshelf.db\n", os.Args[0])
	}

	return fs.Parse(args)
}

// Run executes the command
func (cmd *CreateAdminCommand) Run() error {
	absDBPath, err := filepath.Abs(cmd.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for database: %w", err)
	}

	if cmd.Password == "" {
		password, err := promptPassword()
		if err != nil {
			return err
		}
		cmd.Password = password
	}
	if len(cmd.Password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	db, err := database.NewDatabase(absDBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	cfg := config.NewConfig()
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	service := auth.NewService(db.DB, tokens, cfg.Auth)

	user, err := service.CreateUser(cmd.Username, cmd.Email, cmd.Password, true)
	if err != nil {
		return fmt.Errorf("failed to create administrator: %w", err)
	}

	fmt.Printf("Administrator %q created (id %d)\n", user.Username, user.ID)
	return nil
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}
