package cli

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/koshelf/koshelf/internal/config"
	"github.com/koshelf/koshelf/internal/contentstore"
	"github.com/koshelf/koshelf/internal/database"
	"github.com/koshelf/koshelf/internal/database/books"
	"github.com/koshelf/koshelf/internal/scheduler"
)

// SweepOrphansCommand runs one orphan-blob sweep and exits. The server runs
// the same sweep on a schedule; the command exists for one-off cleanups and
// cron setups that prefer an external trigger.
type SweepOrphansCommand struct {
	DatabasePath string
	StoragePath  string
	DryRun       bool
}

// NewSweepOrphansCommand creates a new SweepOrphansCommand
func NewSweepOrphansCommand() *SweepOrphansCommand {
	return &SweepOrphansCommand{}
}

// ParseFlags parses command line flags
func (cmd *SweepOrphansCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("sweep-orphans", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the database file")
	fs.StringVar(&cmd.StoragePath, "storage", config.DefaultStoragePath, "Path to the content store")
	fs.BoolVar(&cmd.DryRun, "dry-run", false, "Report orphaned blobs without removing them")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s sweep-orphans [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Remove content-store blobs that no catalogued book references.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	return fs.Parse(args)
}

// Run executes the command
func (cmd *SweepOrphansCommand) Run() error {
	absDBPath, err := filepath.Abs(cmd.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for database: %w", err)
	}

	db, err := database.NewDatabase(absDBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	store, err := contentstore.New(cmd.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to open content store: %w", err)
	}

	repo := books.NewRepository(db.DB)

	if cmd.DryRun {
		inUse, err := repo.HashesInUse()
		if err != nil {
			return err
		}
		stored, err := store.Hashes()
		if err != nil {
			return err
		}
		orphans := 0
		for _, hash := range stored {
			if !inUse[hash] {
				fmt.Printf("orphan: %s\n", hash)
				orphans++
			}
		}
		fmt.Printf("%d orphaned blob(s), none removed (dry run)\n", orphans)
		return nil
	}

	sweeper := scheduler.NewOrphanSweeper(repo, store, "")
	removed, err := sweeper.Sweep()
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d orphaned blob(s)\n", removed)
	return nil
}
