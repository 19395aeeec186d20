package faceindex

import (
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/your-org/eventfaces/internal/embedding"
	"github.com/your-org/eventfaces/internal/observability"
)

var imageIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,254}$`)

// ImageIDFromFilename derives the image id from an uploaded filename. Only
// the base name is kept and it must be a single safe path segment.
func ImageIDFromFilename(filename string) (string, error) {
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if !imageIDPattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidImageID, filename)
	}
	return name, nil
}

// ImageRecord binds one stored image to the embeddings extracted from it.
// Records are never modified after construction.
type ImageRecord struct {
	ImageID    string
	StoredPath string
	IngestedAt time.Time

	// faces holds encoded embeddings; the slice index is the face index.
	faces [][]byte
}

func newImageRecord(imageID, storedPath string, faces [][]byte) *ImageRecord {
	return &ImageRecord{
		ImageID:    imageID,
		StoredPath: storedPath,
		IngestedAt: time.Now().UTC(),
		faces:      faces,
	}
}

// FaceCount is the number of embeddings persisted for the image.
func (r *ImageRecord) FaceCount() int {
	return len(r.faces)
}

// FaceRef is one embedding in a snapshot, tagged with its source image.
type FaceRef struct {
	ImageID   string
	FaceIndex int
	Embedding embedding.Embedding
}

// appendFaces decodes the record's embeddings onto refs. Payloads that fail
// to decode are logged and skipped.
func (r *ImageRecord) appendFaces(eventID string, refs []FaceRef) []FaceRef {
	for i, p := range r.faces {
		e, err := embedding.Decode(p)
		if err != nil {
			observability.CorruptEmbeddings.Inc()
			slog.Warn("skipping corrupt embedding",
				"event_id", eventID, "image_id", r.ImageID, "face_index", i, "error", err)
			continue
		}
		refs = append(refs, FaceRef{ImageID: r.ImageID, FaceIndex: i, Embedding: e})
	}
	return refs
}

func encodeFaces(faces []embedding.Embedding) [][]byte {
	payloads := make([][]byte, len(faces))
	for i, f := range faces {
		payloads[i] = embedding.Encode(f)
	}
	return payloads
}
