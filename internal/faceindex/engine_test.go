package faceindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts ...MatcherOption) (*Engine, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	return NewEngine(env.registry, NewMatcher(DefaultTolerance, opts...), env.extractor), env
}

func TestSearchFindsPerson(t *testing.T) {
	engine, env := newTestEngine(t)
	env.extractor.set("alice-1", vec(0, 0, 0, 0))
	env.extractor.set("bob-1", vec(0.9, 0, 0, 0))
	env.extractor.set("group", vec(0.9, 0, 0, 0), vec(0.05, 0, 0, 0))
	env.extractor.set("alice-probe", vec(0, 0, 0, 0), vec(3, 3, 3, 3))
	ctx := context.Background()

	store := env.event(t, "wedding")
	store.AddImages(ctx, []Upload{
		{Filename: "a.jpg", Data: []byte("alice-1")},
		{Filename: "b.jpg", Data: []byte("bob-1")},
		{Filename: "g.jpg", Data: []byte("group")},
	})

	res, err := engine.Search(ctx, "wedding", []byte("alice-probe"), 0)
	require.NoError(t, err)
	assert.Equal(t, "wedding", res.EventID)
	assert.Equal(t, 2, res.ProbeFaces)
	assert.Equal(t, []string{"a.jpg", "g.jpg"}, ids(res.Matches))
}

func TestSearchProbeWithoutFaces(t *testing.T) {
	engine, env := newTestEngine(t)
	env.extractor.set("alice-1", vec(0, 0))
	ctx := context.Background()

	store := env.event(t, "wedding")
	_, err := store.Ingest(ctx, "a.jpg", []byte("alice-1"))
	require.NoError(t, err)

	_, err = engine.Search(ctx, "wedding", []byte("landscape"), 0)
	assert.ErrorIs(t, err, ErrNoFaceDetected)

	// No face wins over an empty index: the matcher is never consulted.
	env.event(t, "empty")
	_, err = engine.Search(ctx, "empty", []byte("landscape"), 0)
	assert.ErrorIs(t, err, ErrNoFaceDetected)
}

func TestSearchUnknownEvent(t *testing.T) {
	engine, env := newTestEngine(t)

	_, err := engine.Search(context.Background(), "missing", []byte("probe"), 0)
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.Zero(t, env.extractor.callCount(), "probe is not extracted for a missing event")

	_, err = engine.Search(context.Background(), "../x", []byte("probe"), 0)
	assert.ErrorIs(t, err, ErrInvalidEventID)
}

func TestSearchNoEncodings(t *testing.T) {
	engine, env := newTestEngine(t)
	env.extractor.set("probe", vec(0, 0))
	ctx := context.Background()

	store := env.event(t, "wedding")
	_, err := store.Ingest(ctx, "scenery.jpg", []byte("no faces here"))
	require.NoError(t, err)

	_, err = engine.Search(ctx, "wedding", []byte("probe"), 0)
	assert.ErrorIs(t, err, ErrNoEncodingsAvailable)

	env.extractor.set("group", vec(0, 0), vec(1, 1), vec(2, 2))
	res, err := engine.Search(ctx, "wedding", []byte("group"), 0)
	assert.ErrorIs(t, err, ErrNoEncodingsAvailable)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.ProbeFaces)
	assert.Empty(t, res.Matches)
}

func TestSearchExtractionFailure(t *testing.T) {
	engine, env := newTestEngine(t)
	env.event(t, "wedding")

	_, err := engine.Search(context.Background(), "wedding", []byte("boom"), 0)
	assert.ErrorIs(t, err, ErrExtractionFailed)

	noExtractor := NewEngine(env.registry, NewMatcher(0), nil)
	_, err = noExtractor.Search(context.Background(), "wedding", []byte("probe"), 0)
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestSearchLimit(t *testing.T) {
	engine, env := newTestEngine(t, WithLimit(3))
	ctx := context.Background()
	store := env.event(t, "wedding")

	uploads := []Upload{}
	for i, name := range []string{"a", "b", "c", "d", "e"} {
		env.extractor.set("img-"+name, vec(float32(i)*0.1, 0))
		uploads = append(uploads, Upload{Filename: name + ".jpg", Data: []byte("img-" + name)})
	}
	store.AddImages(ctx, uploads)

	res, err := engine.SearchEmbedding(ctx, "wedding", vec(0, 0), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, ids(res.Matches))

	res, err = engine.SearchEmbedding(ctx, "wedding", vec(0, 0), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, ids(res.Matches))
}

func TestSearchReflectsRemoval(t *testing.T) {
	engine, env := newTestEngine(t)
	env.extractor.set("alice", vec(0, 0))
	ctx := context.Background()

	store := env.event(t, "wedding")
	store.AddImages(ctx, []Upload{
		{Filename: "a.jpg", Data: []byte("alice")},
		{Filename: "b.jpg", Data: []byte("alice")},
	})

	res, err := engine.Search(ctx, "wedding", []byte("alice"), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, ids(res.Matches))

	require.NoError(t, store.RemoveImage(ctx, "a.jpg"))

	res, err = engine.Search(ctx, "wedding", []byte("alice"), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.jpg"}, ids(res.Matches))
}
