package postgres

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migration is one embedded SQL file. Files are named NNN_description.sql
// and applied in version order.
type migration struct {
	Version  int
	File     string
	SQL      string
	Checksum string
}

// loadMigrations parses the embedded migration files.
func loadMigrations() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var out []migration
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil {
			return nil, fmt.Errorf("migration %s: name must start with a numeric version", name)
		}
		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		sum := sha256.Sum256(content)
		out = append(out, migration{
			Version:  version,
			File:     name,
			SQL:      string(content),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	slices.SortFunc(out, func(a, b migration) int { return a.Version - b.Version })
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("migrations %s and %s share version %d", out[i-1].File, out[i].File, out[i].Version)
		}
	}
	return out, nil
}

// appliedChecksums creates the bookkeeping table if needed and returns the
// checksum of every applied migration keyed by file name.
func (p *Pool) appliedChecksums(ctx context.Context) (map[string]string, error) {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS facewatch_migrations (
			version INTEGER PRIMARY KEY,
			file TEXT NOT NULL,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, "SELECT file, checksum FROM facewatch_migrations")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var file, checksum string
		if err := rows.Scan(&file, &checksum); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		applied[file] = checksum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// Migrate applies pending migrations in version order and returns the files
// it applied. An applied migration whose file changed since is an error.
func (p *Pool) Migrate(ctx context.Context) ([]string, error) {
	migrations, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	applied, err := p.appliedChecksums(ctx)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, m := range migrations {
		if sum, ok := applied[m.File]; ok {
			if sum != m.Checksum {
				return done, fmt.Errorf("migration %s was modified after it was applied", m.File)
			}
			continue
		}
		if err := p.applyMigration(ctx, m); err != nil {
			return done, err
		}
		done = append(done, m.File)
	}
	return done, nil
}

// applyMigration runs one migration and records it in the same transaction.
func (p *Pool) applyMigration(ctx context.Context, m migration) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction for %s: %w", m.File, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("execute migration %s: %w", m.File, err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO facewatch_migrations (version, file, checksum) VALUES ($1, $2, $3)",
		m.Version, m.File, m.Checksum)
	if err != nil {
		return fmt.Errorf("record migration %s: %w", m.File, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.File, err)
	}
	return nil
}

// MigrationsApplied returns the applied migration files in version order.
func (p *Pool) MigrationsApplied(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT file FROM facewatch_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("scan migration file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration files: %w", err)
	}
	return files, nil
}
