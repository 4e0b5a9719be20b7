package mariadb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kozaktomas/facewatch/internal/database"
)

// IdentityRepository stores identities in MariaDB. Embeddings are kept as
// JSON arrays in a MEDIUMBLOB column.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new MariaDB identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

func encodeEmbedding(embedding []float32) ([]byte, error) {
	data, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding: %w", err)
	}
	return data, nil
}

func decodeEmbedding(data []byte) ([]float32, error) {
	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, fmt.Errorf("unmarshal embedding: %w", err)
	}
	return embedding, nil
}

// LoadAll returns all identities ordered by enrollment position.
func (r *IdentityRepository) LoadAll(ctx context.Context) ([]database.IdentityRecord, error) {
	rows, err := r.pool.db.QueryContext(ctx,
		`SELECT name, embeddings_json, created_at FROM identities ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var records []database.IdentityRecord
	for rows.Next() {
		var (
			rec  database.IdentityRecord
			data []byte
		)
		if err := rows.Scan(&rec.Name, &data, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		if rec.Embedding, err = decodeEmbedding(data); err != nil {
			return nil, fmt.Errorf("identity %q: %w", rec.Name, err)
		}
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
	if err := r.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// ReplaceAll drops every stored identity and inserts records in one transaction.
func (r *IdentityRepository) ReplaceAll(ctx context.Context, records []database.IdentityRecord) error {
	tx, err := r.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM identities"); err != nil {
		return fmt.Errorf("clear identities: %w", err)
	}

	for i, rec := range records {
		data, err := encodeEmbedding(rec.Embedding)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO identities (position, name, embeddings_json) VALUES (?, ?, ?)`,
			i, rec.Name, data); err != nil {
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
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}

	res, err := r.pool.db.ExecContext(ctx, "DELETE FROM identities WHERE name IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("delete identities: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
