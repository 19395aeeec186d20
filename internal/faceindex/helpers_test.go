package faceindex

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/your-org/eventfaces/internal/embedding"
	"github.com/your-org/eventfaces/internal/models"
	"github.com/your-org/eventfaces/internal/storage"
)

// fakeExtractor returns canned faces keyed by the image bytes. The image
// "boom" makes it fail.
type fakeExtractor struct {
	mu    sync.Mutex
	faces map[string][]embedding.Embedding
	calls int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{faces: make(map[string][]embedding.Embedding)}
}

func (f *fakeExtractor) set(image string, faces ...embedding.Embedding) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faces[image] = faces
}

func (f *fakeExtractor) Extract(_ context.Context, image []byte) ([]embedding.Embedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if string(image) == "boom" {
		return nil, errors.New("model crashed")
	}
	return f.faces[string(image)], nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []models.IndexChange
}

func (n *recordingNotifier) PublishChange(_ context.Context, c models.IndexChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
	return nil
}

func (n *recordingNotifier) types() []models.ChangeType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.ChangeType, len(n.changes))
	for i, c := range n.changes {
		out[i] = c.Type
	}
	return out
}

// brokenEmbeddings fails every write.
type brokenEmbeddings struct {
	*storage.MemoryEmbeddingStore
}

func (brokenEmbeddings) PutEmbeddings(context.Context, string, string, [][]byte) error {
	return errors.New("disk full")
}

type testEnv struct {
	registry   *Registry
	extractor  *fakeExtractor
	images     *storage.MemoryImageStore
	embeddings *storage.MemoryEmbeddingStore
	notifier   *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		extractor:  newFakeExtractor(),
		images:     storage.NewMemoryImageStore(),
		embeddings: storage.NewMemoryEmbeddingStore(),
		notifier:   &recordingNotifier{},
	}
	env.registry = NewRegistry(Deps{
		Images:     env.images,
		Embeddings: env.embeddings,
		Extractor:  env.extractor,
		Notifier:   env.notifier,
	})
	return env
}

func (env *testEnv) event(t *testing.T, id string) *EventStore {
	t.Helper()
	s, _, err := env.registry.CreateOrGet(context.Background(), id)
	if err != nil {
		t.Fatalf("create event %s: %v", id, err)
	}
	return s
}

func vec(vals ...float32) embedding.Embedding {
	return embedding.Embedding(vals)
}

func faceCounts(refs []FaceRef) map[string]int {
	out := make(map[string]int)
	for _, r := range refs {
		out[r.ImageID]++
	}
	return out
}

// flakyImages fails DeleteImage while failDeletes is set, and whenever the
// caller's context is already done.
type flakyImages struct {
	*storage.MemoryImageStore

	mu          sync.Mutex
	failDeletes bool
}

func (f *flakyImages) setFailDeletes(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failDeletes = v
}

func (f *flakyImages) DeleteImage(ctx context.Context, eventID, imageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	fail := f.failDeletes
	f.mu.Unlock()
	if fail {
		return errors.New("object store down")
	}
	return f.MemoryImageStore.DeleteImage(ctx, eventID, imageID)
}

func newFlakyRegistry(extractor Extractor) (*Registry, *flakyImages, *storage.MemoryEmbeddingStore) {
	images := &flakyImages{MemoryImageStore: storage.NewMemoryImageStore()}
	embeddings := storage.NewMemoryEmbeddingStore()
	return NewRegistry(Deps{Images: images, Embeddings: embeddings, Extractor: extractor}), images, embeddings
}
