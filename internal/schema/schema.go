package schema

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Sends SQL commands. Extracted from pgxpool.Pool and pgx.Tx so the
// runner can be driven by either, and by fakes in tests.
type Queryer interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// A transaction. Subset of pgx.Tx.
type Tx interface {
	Queryer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// A database handle that can run queries and open transactions.
type DB interface {
	Queryer
	Begin(ctx context.Context) (Tx, error)
}

// Database wraps a pgx connection pool as a [DB].
type Database struct {
	pool *pgxpool.Pool
}

// Opens a connection pool to the database at url.
func Connect(ctx context.Context, url string) (*Database, error) {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return &Database{pool: pool}, nil
}

func (db *Database) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	return db.pool.Exec(ctx, sql, arguments...)
}

func (db *Database) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

func (db *Database) Begin(ctx context.Context) (Tx, error) {
	tx, err := db.pool.Begin(ctx)
	if tx == nil {
		return nil, err
	}
	return tx, err
}

// Closes the connection pool.
func (db *Database) Close() {
	db.pool.Close()
}

// Runner applies versioned SQL migrations from a source directory.
//
// The source holds one subdirectory per schema version, named by its
// number. Each version directory's .sql files are applied in lexical
// order. The single current version lives in the schema_version table,
// which the runner creates and maintains itself.
type Runner struct {
	db     DB
	source string
}

// Creates a migration runner reading versions from the source directory.
func New(db DB, source string) *Runner {
	return &Runner{db: db, source: source}
}

// A schema version found in the source directory.
type version struct {
	Version int
	Root    string
}

// Applies the version's .sql files in lexical order.
func (v version) apply(ctx context.Context, q Queryer) error {
	return filepath.WalkDir(v.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}

		query, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		slog.Debug("applying migration file", "version", v.Version, "file", filepath.Base(path))

		if _, err := q.Exec(ctx, string(query)); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		return nil
	})
}

// Reports the current schema version.
//
// A database without a schema_version table reads as version 0.
func (r *Runner) Version(ctx context.Context) (int, error) {
	return currentVersion(ctx, r.db)
}

// Upgrades the schema to the highest version in the source directory.
//
// All pending versions and the bookkeeping updates run in a single
// transaction, so a failed migration leaves both the schema and the
// recorded version untouched. Running against an up-to-date schema
// applies nothing and returns nil.
func (r *Runner) Upgrade(ctx context.Context) error {
	versions, err := r.versions()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	defer tx.Rollback(ctx)

	// Created inside the transaction so the later version read cannot
	// abort it with an undefined table error.
	if _, err := tx.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS "schema_version" ("version" integer NOT NULL)`,
	); err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}

	current, err := currentVersion(ctx, tx)
	if err != nil {
		return err
	}

	applied := 0
	for _, v := range versions {
		if v.Version <= current {
			continue
		}

		slog.Info("applying schema version", "version", v.Version)

		if err := v.apply(ctx, tx); err != nil {
			return fmt.Errorf("%w: version %d: %w", ErrSchema, v.Version, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM "schema_version"`); err != nil {
			return fmt.Errorf("%w: %w", ErrSchema, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO "schema_version" ("version") VALUES ($1)`, v.Version,
		); err != nil {
			return fmt.Errorf("%w: %w", ErrSchema, err)
		}
		applied++
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}

	if applied == 0 {
		slog.Info("schema up to date", "version", current)
	} else {
		slog.Info("schema upgraded", "from", current, "applied", applied)
	}

	return nil
}

// Reads the current version from the schema_version table.
func currentVersion(ctx context.Context, q Queryer) (int, error) {
	var v int
	err := q.QueryRow(ctx,
		`SELECT COALESCE(max("version"), 0) FROM "schema_version"`,
	).Scan(&v)
	if err != nil {
		if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UndefinedTable {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return v, nil
}

// Scans the source directory for version subdirectories.
//
// Only directories with purely numeric names count; anything else is
// ignored. The result is sorted by version number.
func (r *Runner) versions() ([]version, error) {
	entries, err := os.ReadDir(r.source)
	if err != nil {
		return nil, err
	}

	versions := make([]version, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		v, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		versions = append(versions, version{
			Version: v,
			Root:    filepath.Join(r.source, entry.Name()),
		})
	}

	slices.SortFunc(versions, func(a, b version) int { return cmp.Compare(a.Version, b.Version) })

	return versions, nil
}
