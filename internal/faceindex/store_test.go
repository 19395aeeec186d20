package faceindex

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/eventfaces/internal/embedding"
	"github.com/your-org/eventfaces/internal/models"
	"github.com/your-org/eventfaces/internal/storage"
)

func TestImageIDFromFilename(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "a.jpg", want: "a.jpg"},
		{in: "IMG_0001-final.JPG", want: "IMG_0001-final.JPG"},
		{in: "uploads/2024/b.png", want: "b.png"},
		{in: `C:\photos\c.jpg`, want: "c.jpg"},
		{in: "", wantErr: true},
		{in: "..", wantErr: true},
		{in: ".hidden", wantErr: true},
		{in: "with space.jpg", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ImageIDFromFilename(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidImageID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddImagesReport(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.set("img-a", vec(0, 0))
	env.extractor.set("img-b", vec(1, 0), vec(0, 1))
	store := env.event(t, "wedding")

	report := store.AddImages(context.Background(), []Upload{
		{Filename: "a.jpg", Data: []byte("img-a")},
		{Filename: "b.jpg", Data: []byte("img-b")},
		{Filename: "empty.jpg", Data: []byte("landscape")},
		{Filename: "broken.jpg", Data: []byte("boom")},
		{Filename: ".secret", Data: []byte("img-a")},
	})

	assert.Equal(t, 4, report.Accepted)
	assert.Equal(t, 3, report.FacesFound)
	assert.Equal(t, []string{"a.jpg", "b.jpg", "empty.jpg", "broken.jpg"}, report.ImageIDs)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, "broken.jpg", report.Failures[0].Filename)
	assert.ErrorIs(t, report.Failures[0].Err, ErrExtractionFailed)
	assert.Equal(t, ".secret", report.Failures[1].Filename)
	assert.ErrorIs(t, report.Failures[1].Err, ErrInvalidImageID)

	// Images without faces are listed but never contribute embeddings.
	assert.Equal(t, []string{"a.jpg", "b.jpg", "empty.jpg", "broken.jpg"}, store.ListImages())
	refs, err := store.AllEmbeddings()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a.jpg": 1, "b.jpg": 2}, faceCounts(refs))

	// The bytes of the failed extraction are retained.
	data, err := env.images.GetImage(context.Background(), "wedding", "broken.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("boom"), data)

	images, faces := store.Stats()
	assert.Equal(t, 4, images)
	assert.Equal(t, 3, faces)
}

func TestIngestReplacesExistingImage(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.set("v1", vec(0, 0), vec(1, 1))
	env.extractor.set("v2", vec(5, 5))
	store := env.event(t, "wedding")
	ctx := context.Background()

	_, err := store.Ingest(ctx, "a.jpg", []byte("v1"))
	require.NoError(t, err)
	_, err = store.Ingest(ctx, "z.jpg", []byte("v1"))
	require.NoError(t, err)

	res, err := store.Ingest(ctx, "a.jpg", []byte("v2"))
	require.NoError(t, err)
	assert.True(t, res.Replaced)
	assert.Equal(t, 1, res.Record.FaceCount())
	assert.Equal(t, "memory://events/wedding/images/a.jpg", res.Record.StoredPath)

	assert.Equal(t, []string{"a.jpg", "z.jpg"}, store.ListImages(), "replacement keeps its position")

	data, err := store.ImageBytes(ctx, "a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	payloads, err := env.embeddings.GetEmbeddings(ctx, "wedding", "a.jpg")
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	got, err := embedding.Decode(payloads[0])
	require.NoError(t, err)
	assert.Equal(t, vec(5, 5), got)
}

func TestIngestKeepsBytesWhenEmbeddingsCannotBePersisted(t *testing.T) {
	images := storage.NewMemoryImageStore()
	ext := newFakeExtractor()
	ext.set("img", vec(0, 0))
	reg := NewRegistry(Deps{
		Images:     images,
		Embeddings: brokenEmbeddings{storage.NewMemoryEmbeddingStore()},
		Extractor:  ext,
	})
	store, _, err := reg.CreateOrGet(context.Background(), "e1")
	require.NoError(t, err)

	res, err := store.Ingest(context.Background(), "a.jpg", []byte("img"))
	require.NoError(t, err)
	require.Error(t, res.Warning)
	assert.Zero(t, res.Record.FaceCount())

	refs, err := store.AllEmbeddings()
	require.NoError(t, err)
	assert.Empty(t, refs)
	assert.Equal(t, []string{"a.jpg"}, store.ListImages())
}

func TestIngestWithoutExtractor(t *testing.T) {
	reg := NewRegistry(Deps{
		Images:     storage.NewMemoryImageStore(),
		Embeddings: storage.NewMemoryEmbeddingStore(),
	})
	store, _, err := reg.CreateOrGet(context.Background(), "e1")
	require.NoError(t, err)

	res, err := store.Ingest(context.Background(), "a.jpg", []byte("img"))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Warning, ErrExtractionFailed)
}

func TestRemoveImage(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.set("img-a", vec(0, 0), vec(0, 1))
	env.extractor.set("img-b", vec(1, 0))
	store := env.event(t, "wedding")
	ctx := context.Background()

	store.AddImages(ctx, []Upload{
		{Filename: "a.jpg", Data: []byte("img-a")},
		{Filename: "b.jpg", Data: []byte("img-b")},
	})

	before, err := store.AllEmbeddings()
	require.NoError(t, err)

	require.NoError(t, store.RemoveImage(ctx, "a.jpg"))

	after, err := store.AllEmbeddings()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a.jpg": 2, "b.jpg": 1}, faceCounts(before))
	assert.Equal(t, map[string]int{"b.jpg": 1}, faceCounts(after))

	_, err = env.images.GetImage(ctx, "wedding", "a.jpg")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	payloads, err := env.embeddings.GetEmbeddings(ctx, "wedding", "a.jpg")
	require.NoError(t, err)
	assert.Empty(t, payloads)

	_, err = store.Image("a.jpg")
	assert.ErrorIs(t, err, ErrImageNotFound)
	_, err = store.ImageBytes(ctx, "a.jpg")
	assert.ErrorIs(t, err, ErrImageNotFound)

	err = store.RemoveImage(ctx, "a.jpg")
	assert.ErrorIs(t, err, ErrImageNotFound)

	assert.Equal(t, []models.ChangeType{
		models.ChangeEventCreated,
		models.ChangeImagesAdded,
		models.ChangeImageRemoved,
	}, env.notifier.types())
}

func TestRemoveImageRetryAfterByteDeleteFailure(t *testing.T) {
	extractor := newFakeExtractor()
	extractor.set("img-a", vec(0, 0), vec(0, 1))
	extractor.set("img-b", vec(1, 0))
	registry, images, embeddings := newFlakyRegistry(extractor)
	ctx := context.Background()

	store, _, err := registry.CreateOrGet(ctx, "wedding")
	require.NoError(t, err)
	store.AddImages(ctx, []Upload{
		{Filename: "a.jpg", Data: []byte("img-a")},
		{Filename: "b.jpg", Data: []byte("img-b")},
	})

	images.setFailDeletes(true)
	err = store.RemoveImage(ctx, "a.jpg")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrImageNotFound)

	// Still listed so the delete can be retried, but no longer searchable.
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, store.ListImages())
	rec, err := store.Image("a.jpg")
	require.NoError(t, err)
	assert.Zero(t, rec.FaceCount())
	refs, err := store.AllEmbeddings()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"b.jpg": 1}, faceCounts(refs))
	payloads, err := embeddings.GetEmbeddings(ctx, "wedding", "a.jpg")
	require.NoError(t, err)
	assert.Empty(t, payloads)

	images.setFailDeletes(false)
	require.NoError(t, store.RemoveImage(ctx, "a.jpg"))

	assert.Equal(t, []string{"b.jpg"}, store.ListImages())
	_, err = images.GetImage(ctx, "wedding", "a.jpg")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.Image("a.jpg")
	assert.ErrorIs(t, err, ErrImageNotFound)
}

// blockingExtractor parks every call until release is closed.
type blockingExtractor struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingExtractor) Extract(ctx context.Context, _ []byte) ([]embedding.Embedding, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []embedding.Embedding{vec(0, 0)}, nil
}

func TestExtractionDoesNotHoldEventLock(t *testing.T) {
	blocker := &blockingExtractor{started: make(chan struct{}, 1), release: make(chan struct{})}
	env := newTestEnv(t)
	env.extractor.set("img", vec(1, 1))
	store := env.event(t, "wedding")
	ctx := context.Background()

	_, err := store.Ingest(ctx, "first.jpg", []byte("img"))
	require.NoError(t, err)

	store.deps.Extractor = blocker

	done := make(chan error, 1)
	go func() {
		_, err := store.Ingest(ctx, "slow.jpg", []byte("slow"))
		done <- err
	}()
	<-blocker.started

	// Writes and reads on the same event proceed while extraction is parked.
	removed := make(chan error, 1)
	go func() { removed <- store.RemoveImage(ctx, "first.jpg") }()
	select {
	case err := <-removed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("remove blocked behind an in-flight extraction")
	}
	assert.Empty(t, store.ListImages())

	close(blocker.release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"slow.jpg"}, store.ListImages())
}

func TestConcurrentIngestAndSnapshot(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 20; i++ {
		env.extractor.set(fmt.Sprintf("img-%d", i), vec(float32(i), 0), vec(0, float32(i)), vec(1, 1))
	}
	store := env.event(t, "wedding")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Ingest(ctx, fmt.Sprintf("%d.jpg", i), []byte(fmt.Sprintf("img-%d", i)))
			assert.NoError(t, err)
			if i%3 == 0 {
				assert.NoError(t, store.RemoveImage(ctx, fmt.Sprintf("%d.jpg", i)))
			}
		}()
	}

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				refs, err := store.AllEmbeddings()
				assert.NoError(t, err)
				for id, n := range faceCounts(refs) {
					assert.Equal(t, 3, n, "image %s partially visible", id)
				}
			}
		}()
	}

	wg.Wait()
	close(stop)
	readers.Wait()

	assert.Len(t, store.ListImages(), 13)
}

func TestSnapshotSkipsCorruptEmbeddings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.images.PutImage(ctx, "wedding", "a.jpg", []byte("a"), "image/jpeg"))
	good := embedding.Encode(vec(0.1, 0.2))
	require.NoError(t, env.embeddings.PutEmbeddings(ctx, "wedding", "a.jpg", [][]byte{
		{0xde, 0xad},
		good,
	}))

	n, err := env.registry.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	store, err := env.registry.Get("wedding")
	require.NoError(t, err)
	refs, err := store.AllEmbeddings()
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, 1, refs[0].FaceIndex)
	assert.Equal(t, vec(0.1, 0.2), refs[0].Embedding)
}
