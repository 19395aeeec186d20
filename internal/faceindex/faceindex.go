// Package faceindex stores per-image face embeddings grouped by event and
// answers "which photos of this event contain this face" queries.
//
// A Registry owns one EventStore per event. Each EventStore keeps an
// in-memory index of immutable ImageRecords backed by an ImageStore and an
// EmbeddingStore. Writes to one event are serialised by that event's lock;
// reads take consistent snapshots and run in parallel. The Matcher compares
// a probe embedding against a snapshot by brute-force Euclidean distance.
package faceindex

import (
	"context"

	"github.com/your-org/eventfaces/internal/embedding"
	"github.com/your-org/eventfaces/internal/models"
	"github.com/your-org/eventfaces/internal/storage"
)

// Extractor maps image bytes to one embedding per detected face, in
// detection order. An image without faces yields an empty slice and no error.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]embedding.Embedding, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, image []byte) ([]embedding.Embedding, error)

func (f ExtractorFunc) Extract(ctx context.Context, image []byte) ([]embedding.Embedding, error) {
	return f(ctx, image)
}

// Notifier receives every committed change to the index.
type Notifier interface {
	PublishChange(ctx context.Context, change models.IndexChange) error
}

// Deps are the collaborators shared by every EventStore of a Registry.
type Deps struct {
	Images     storage.ImageStore
	Embeddings storage.EmbeddingStore
	Extractor  Extractor
	// Notifier is optional.
	Notifier Notifier
	// Concurrency bounds parallel extraction within one batch. Defaults to 4.
	Concurrency int
}

func (d Deps) withDefaults() Deps {
	if d.Concurrency <= 0 {
		d.Concurrency = 4
	}
	return d
}
