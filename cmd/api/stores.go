package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/your-org/eventfaces/internal/config"
	"github.com/your-org/eventfaces/internal/storage"
)

type backends struct {
	images     storage.ImageStore
	embeddings storage.EmbeddingStore
	checks     map[string]storage.Pinger
	closers    []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackends builds the configured image and embedding stores. MinIO is
// dialled once even when it serves both roles.
func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{checks: map[string]storage.Pinger{}}

	var minioStore *storage.MinIOStore
	useMinIO := func() (*storage.MinIOStore, error) {
		if minioStore != nil {
			return minioStore, nil
		}
		s, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("connect to minio: %w", err)
		}
		if err := s.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		minioStore = s
		b.checks["minio"] = s
		return s, nil
	}

	switch cfg.Storage.Images {
	case config.BackendMinIO:
		s, err := useMinIO()
		if err != nil {
			return nil, err
		}
		b.images = s
	default:
		b.images = storage.NewMemoryImageStore()
	}

	switch cfg.Storage.Embeddings {
	case config.BackendPostgres:
		db, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		if err := db.EnsureSchema(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		b.embeddings = db
		b.checks["postgres"] = db
	case config.BackendMinIO:
		s, err := useMinIO()
		if err != nil {
			return nil, err
		}
		b.embeddings = s
	default:
		b.embeddings = storage.NewMemoryEmbeddingStore()
	}

	slog.Info("storage ready", "images", cfg.Storage.Images, "embeddings", cfg.Storage.Embeddings)
	return b, nil
}
