package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/eventfaces/internal/config"
	"github.com/your-org/eventfaces/internal/embedding"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS face_embeddings (
	event_id   TEXT        NOT NULL,
	image_id   TEXT        NOT NULL,
	face_index INTEGER     NOT NULL,
	payload    BYTEA       NOT NULL,
	embedding  vector,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (event_id, image_id, face_index)
);`

// PostgresStore is a transactional EmbeddingStore. The encoded payload is
// authoritative; the vector column mirrors it for ad hoc SQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates the embeddings table if it doesn't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) PutEmbeddings(ctx context.Context, eventID, imageID string, payloads [][]byte) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM face_embeddings WHERE event_id = $1 AND image_id = $2`,
			eventID, imageID); err != nil {
			return err
		}

		for i, p := range payloads {
			if _, err := tx.Exec(ctx,
				`INSERT INTO face_embeddings (event_id, image_id, face_index, payload, embedding) VALUES ($1, $2, $3, $4, $5)`,
				eventID, imageID, i, p, mirrorVector(p)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put embeddings %s/%s: %w", eventID, imageID, err)
	}
	return nil
}

func (s *PostgresStore) GetEmbeddings(ctx context.Context, eventID, imageID string) ([][]byte, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM face_embeddings WHERE event_id = $1 AND image_id = $2 ORDER BY face_index`,
		eventID, imageID)
	if err != nil {
		return nil, fmt.Errorf("get embeddings: %w", err)
	}
	defer rows.Close()

	payloads := [][]byte{}
	for rows.Next() {
		var p []byte
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		payloads = append(payloads, p)
	}
	return payloads, rows.Err()
}

func (s *PostgresStore) DeleteEmbeddings(ctx context.Context, eventID, imageID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM face_embeddings WHERE event_id = $1 AND image_id = $2`, eventID, imageID)
	if err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEmbeddings(ctx context.Context, eventID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT image_id FROM face_embeddings WHERE event_id = $1 ORDER BY image_id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan image id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// mirrorVector decodes a payload for the vector column. Payloads that do not
// decode are stored with a NULL vector.
func mirrorVector(payload []byte) *pgvector.Vector {
	e, err := embedding.Decode(payload)
	if err != nil || len(e) == 0 {
		return nil
	}
	v := pgvector.NewVector(e)
	return &v
}
