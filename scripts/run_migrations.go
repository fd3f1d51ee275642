package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/pkg/logger"
)

func main() {
	if len(os.Args) < 2 || (os.Args[1] != "up" && os.Args[1] != "down") {
		fmt.Fprintln(os.Stderr, "Usage: go run scripts/run_migrations.go [up|down] [dir]")
		os.Exit(2)
	}
	direction := os.Args[1]

	migrationDir := "migrations"
	if len(os.Args) > 2 {
		migrationDir = os.Args[2]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.LogLevel)

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	files, err := migrationFiles(migrationDir, direction)
	if err != nil {
		log.Error("failed to list migrations", "dir", migrationDir, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			log.Error("failed to read migration", "file", path, "error", err)
			os.Exit(1)
		}

		log.Info("running migration", "file", filepath.Base(path), "direction", direction)
		err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, string(content))
			return err
		})
		if err != nil {
			log.Error("migration failed", "file", filepath.Base(path), "error", err)
			os.Exit(1)
		}
	}

	log.Info("migrations complete", "count", len(files), "direction", direction)
}

// migrationFiles returns the files for direction in the order they must run:
// ascending for up, descending for down.
func migrationFiles(dir, direction string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	suffix := "." + direction + ".sql"
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}

	slices.Sort(files)
	if direction == "down" {
		slices.Reverse(files)
	}
	return files, nil
}
