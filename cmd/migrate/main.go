package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/better-wallet/wallet-core/migrations"
)

type migration struct {
	version string
	file    string
}

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
		direction = flag.String("direction", "up", "Migration direction: up or down")
		steps     = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	if *direction != "up" && *direction != "down" {
		log.Fatalf("invalid direction %q (must be up or down)", *direction)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	count, err := migrate(ctx, pool, *direction, *steps)
	if err != nil {
		log.Fatal(err)
	}

	if count == 0 {
		fmt.Println("No migrations to apply")
	} else {
		fmt.Printf("Applied %d migration(s)\n", count)
	}
}

func migrate(ctx context.Context, pool *pgxpool.Pool, direction string, steps int) (int, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return 0, err
	}

	pending, err := pendingMigrations(direction, applied)
	if err != nil {
		return 0, err
	}
	if steps > 0 && len(pending) > steps {
		pending = pending[:steps]
	}

	for i, mig := range pending {
		fmt.Printf("Running migration: %s\n", mig.file)
		if err := apply(ctx, pool, direction, mig); err != nil {
			return i, err
		}
		fmt.Printf("Applied migration: %s\n", mig.version)
	}
	return len(pending), nil
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan migration versions: %w", err)
	}

	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// pendingMigrations lists the embedded migrations still to run, in run order
func pendingMigrations(direction string, applied map[string]bool) ([]migration, error) {
	suffix := "." + direction + ".sql"
	files, err := fs.Glob(migrations.FS, "*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	slices.Sort(files)
	if direction == "down" {
		slices.Reverse(files)
	}

	var pending []migration
	for _, file := range files {
		version := strings.TrimSuffix(file, suffix)
		if applied[version] == (direction == "up") {
			continue
		}
		pending = append(pending, migration{version: version, file: file})
	}
	return pending, nil
}

func apply(ctx context.Context, pool *pgxpool.Pool, direction string, mig migration) error {
	content, err := fs.ReadFile(migrations.FS, mig.file)
	if err != nil {
		return fmt.Errorf("failed to read migration %s: %w", mig.file, err)
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", mig.file, err)
		}

		if direction == "up" {
			_, err = tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", mig.version)
		} else {
			_, err = tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", mig.version)
		}
		if err != nil {
			return fmt.Errorf("failed to update migrations table: %w", err)
		}
		return nil
	})
}
