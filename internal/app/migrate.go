package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ismistube/backend/internal/config"
	"github.com/ismistube/backend/internal/db"
	"github.com/ismistube/backend/internal/repositories"
	"github.com/ismistube/backend/migrations"
)

const (
	migrationMaxRetries  = 3
	migrationBaseBackoff = 100 * time.Millisecond
	migrationMaxBackoff  = 3 * time.Second
)

var retryablePgErrorCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

// migrationTx is the part of pgx.Tx the migrator uses.
type migrationTx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type txBeginner func(ctx context.Context) (migrationTx, error)

func runMigrations(ctx context.Context, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	command := "up"
	if len(args) > 0 {
		command = args[0]
	}
	if command != "up" && command != "status" {
		return fmt.Errorf("unknown migrate command %q", command)
	}

	switch cfg.Store {
	case config.StorePostgres:
		return migratePostgres(ctx, cfg, command, os.Stdout)
	case config.StoreSQLite:
		store, err := repositories.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()
		if command == "status" {
			fmt.Println("sqlite schema is created on startup")
			return nil
		}
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		fmt.Printf("migrated %s\n", cfg.SQLitePath)
		return nil
	default:
		fmt.Printf("store %q keeps no schema; nothing to migrate\n", cfg.Store)
		return nil
	}
}

// migrationSource returns the embedded migrations unless dir overrides them.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func listMigrations(source fs.FS) ([]string, error) {
	names, err := fs.Glob(source, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func migratePostgres(ctx context.Context, cfg config.Config, command string, out io.Writer) error {
	source := migrationSource(cfg.MigrationDir)
	names, err := listMigrations(source)
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
                version TEXT PRIMARY KEY,
                applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("fetch applied migrations: %w", err)
	}
	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate applied migrations: %w", err)
	}

	if command == "status" {
		printMigrationStatus(out, names, applied)
		return nil
	}

	begin := func(ctx context.Context) (migrationTx, error) {
		return conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	}
	return applyPending(ctx, out, source, names, applied, begin)
}

func printMigrationStatus(out io.Writer, names []string, applied map[string]struct{}) {
	for _, name := range names {
		mark := " "
		if _, ok := applied[name]; ok {
			mark = "x"
		}
		fmt.Fprintf(out, "[%s] %s\n", mark, name)
	}
}

func applyPending(ctx context.Context, out io.Writer, source fs.FS, names []string, applied map[string]struct{}, begin txBeginner) error {
	if len(names) == 0 {
		fmt.Fprintln(out, "no migrations to apply")
		return nil
	}

	for _, name := range names {
		if _, ok := applied[name]; ok {
			continue
		}

		contents, err := fs.ReadFile(source, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if err := applyMigrationWithRetry(ctx, out, begin, name, string(contents)); err != nil {
			return err
		}

		fmt.Fprintf(out, "applied migration %s\n", name)
	}
	return nil
}

func applyMigrationWithRetry(ctx context.Context, out io.Writer, begin txBeginner, name string, contents string) error {
	var attempt int
	for attempt = 0; attempt < migrationMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * migrationBaseBackoff
			if backoff > migrationMaxBackoff {
				backoff = migrationMaxBackoff
			}
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		tx, err := begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration transaction for %s: %w", name, err)
		}

		retry, err := runMigrationTx(ctx, tx, name, contents)
		if err == nil {
			return nil
		}
		_ = tx.Rollback(ctx)
		if retry && attempt < migrationMaxRetries-1 {
			fmt.Fprintf(out, "transient error on migration %s (attempt %d/%d): %v\n", name, attempt+1, migrationMaxRetries, err)
			continue
		}
		return err
	}

	return fmt.Errorf("apply migration %s: exceeded max retries (%d)", name, attempt)
}

// runMigrationTx applies one migration and records it. The bool reports
// whether the failure is worth retrying.
func runMigrationTx(ctx context.Context, tx migrationTx, name, contents string) (bool, error) {
	if _, err := tx.Exec(ctx, contents); err != nil {
		return shouldRetryMigration(err), fmt.Errorf("apply migration %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
		return shouldRetryMigration(err), fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return shouldRetryMigration(err), fmt.Errorf("commit migration %s: %w", name, err)
	}
	return false, nil
}

func shouldRetryMigration(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := retryablePgErrorCodes[pgErr.Code]; ok {
			return true
		}
	}

	return errors.Is(err, pgx.ErrTxClosed)
}
