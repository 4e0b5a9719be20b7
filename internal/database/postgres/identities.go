package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// IdentityRepository provides PostgreSQL-backed identity storage.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// LoadAll returns all identities ordered by enrollment position.
func (r *IdentityRepository) LoadAll(ctx context.Context) ([]database.IdentityRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, embedding, created_at
		FROM identities
		ORDER BY position, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var records []database.IdentityRecord
	for rows.Next() {
		var (
			rec       database.IdentityRecord
			embedding pgvector.Vector
			createdAt time.Time
		)
		if err := rows.Scan(&rec.Name, &embedding, &createdAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		rec.Embedding = embedding.Slice()
		rec.CreatedAt = createdAt
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return records, nil
}

// Count returns the number of stored identities.
func (r *IdentityRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// ReplaceAll drops every stored identity and inserts records in one transaction.
func (r *IdentityRepository) ReplaceAll(ctx context.Context, records []database.IdentityRecord) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM identities"); err != nil {
		return fmt.Errorf("clear identities: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO identities (position, name, embedding)
		VALUES ($1, $2, $3)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx, i, rec.Name, pgvector.NewVector(rec.Embedding)); err != nil {
			return fmt.Errorf("insert identity %q: %w", rec.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit identities: %w", err)
	}
	return nil
}

// Remove deletes identities by exact name.
func (r *IdentityRepository) Remove(ctx context.Context, names []string) (int, error) {
	if len(names) == 0 {
		return 0, nil
	}
	res, err := r.pool.Exec(ctx, "DELETE FROM identities WHERE name = ANY($1)", pq.Array(names))
	if err != nil {
		return 0, fmt.Errorf("delete identities: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
