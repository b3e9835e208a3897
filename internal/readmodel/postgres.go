package readmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps all projection collections in one JSONB table,
// partitioned logically by collection name.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Put(ctx context.Context, collection, key string, doc map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	query := `
		INSERT INTO read_models (collection, key, doc, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, key)
		DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`

	if _, err := s.pool.Exec(ctx, query, collection, key, docJSON); err != nil {
		return fmt.Errorf("failed to upsert read model %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, key string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var docJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM read_models WHERE collection = $1 AND key = $2`,
		collection, key,
	).Scan(&docJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get read model %s/%s: %w", collection, key, err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(docJSON, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal read model %s/%s: %w", collection, key, err)
	}
	return doc, nil
}

func (s *PostgresStore) List(ctx context.Context, collection string, limit int) ([]map[string]interface{}, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM read_models WHERE collection = $1 ORDER BY updated_at DESC LIMIT $2`,
		collection, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list read models %s: %w", collection, err)
	}
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		var docJSON []byte
		if err := rows.Scan(&docJSON); err != nil {
			return nil, fmt.Errorf("failed to scan read model: %w", err)
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(docJSON, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal read model: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, collection string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM read_models WHERE collection = $1`, collection,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count read models %s: %w", collection, err)
	}
	return count, nil
}

func (s *PostgresStore) Reset(ctx context.Context, collection string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := s.pool.Exec(ctx,
		`DELETE FROM read_models WHERE collection = $1`, collection,
	); err != nil {
		return fmt.Errorf("failed to reset read models %s: %w", collection, err)
	}
	return nil
}
