package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/cashclose/internal/platform/db"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_updated_at_idx ON documents (collection, updated_at DESC)`,
}

// Postgres stores documents in a JSONB table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a pgx pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the documents table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	return db.WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		for _, stmt := range postgresSchema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("docstore/postgres: ensure schema: %w", err)
			}
		}
		return nil
	})
}

// GetByID loads the document stored at collection/id.
func (p *Postgres) GetByID(ctx context.Context, collection, id string) ([]byte, error) {
	if err := validKey(collection, id); err != nil {
		return nil, err
	}
	var body []byte
	err := p.pool.QueryRow(ctx,
		`SELECT body::text FROM documents WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("docstore/postgres: get: %w", err)
	}
	return body, nil
}

// AddWithID upserts the whole document.
func (p *Postgres) AddWithID(ctx context.Context, collection, id string, doc []byte) error {
	if err := validKey(collection, id); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO documents (collection, id, body, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (collection, id) DO UPDATE
		SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		collection, id, string(doc))
	if err != nil {
		return fmt.Errorf("docstore/postgres: upsert: %w", err)
	}
	return nil
}
