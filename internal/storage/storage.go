// Package storage provides the byte stores behind the face index: image
// bytes keyed by (event, image) and encoded embeddings keyed by
// (event, image, face index).
package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("not found")

// ImageStore keeps the raw bytes of uploaded images.
type ImageStore interface {
	// PutImage stores data, replacing any previous value.
	PutImage(ctx context.Context, eventID, imageID string, data []byte, contentType string) error
	GetImage(ctx context.Context, eventID, imageID string) ([]byte, error)
	DeleteImage(ctx context.Context, eventID, imageID string) error
	ListImages(ctx context.Context, eventID string) ([]string, error)
	ListEvents(ctx context.Context) ([]string, error)
	// Location names where the bytes of an image live.
	Location(eventID, imageID string) string
}

// EmbeddingStore keeps encoded embeddings. The slice position of a payload
// is its face index.
type EmbeddingStore interface {
	// PutEmbeddings replaces every embedding of the image. Either all
	// payloads are stored or none are.
	PutEmbeddings(ctx context.Context, eventID, imageID string, payloads [][]byte) error
	// GetEmbeddings returns payloads ordered by face index. An image without
	// embeddings yields an empty slice, not ErrNotFound.
	GetEmbeddings(ctx context.Context, eventID, imageID string) ([][]byte, error)
	// DeleteEmbeddings removes all embeddings sharing the image prefix.
	DeleteEmbeddings(ctx context.Context, eventID, imageID string) error
	ListEmbeddings(ctx context.Context, eventID string) ([]string, error)
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

func imageKey(eventID, imageID string) string {
	return "events/" + eventID + "/images/" + imageID
}

func imagePrefix(eventID string) string {
	return "events/" + eventID + "/images/"
}

func embeddingPrefix(eventID, imageID string) string {
	if imageID == "" {
		return "embeddings/" + eventID + "/"
	}
	return "embeddings/" + eventID + "/" + imageID + "/"
}

// segment returns the path segment that follows prefix in key, if any.
func segment(key, prefix string) (string, bool) {
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(key, prefix)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest, rest != ""
}
