package queue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/eventfaces/internal/embedding"
	"github.com/your-org/eventfaces/internal/models"
)

func TestReplyCarriesFacesInOrder(t *testing.T) {
	faces := []embedding.Embedding{{0.25, -1, 3}, {0, 0.5, 0}}

	got, err := decodeReply(encodeReply(faces, nil))
	require.NoError(t, err)
	assert.Equal(t, faces, got)
}

func TestReplyWithoutFaces(t *testing.T) {
	got, err := decodeReply(encodeReply(nil, nil))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReplyCarriesWorkerError(t *testing.T) {
	_, err := decodeReply(encodeReply([]embedding.Embedding{{1}}, errors.New("decode image: unknown format")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestDecodeReplyRejectsGarbage(t *testing.T) {
	_, err := decodeReply([]byte("{not json"))
	assert.Error(t, err)

	_, err = decodeReply([]byte(`{"faces":[[1,2],[]]}`))
	assert.Error(t, err)
}

func TestChangeSubject(t *testing.T) {
	c := models.NewIndexChange(models.ChangeImagesAdded, "wedding", []string{"a.jpg"}, 2)
	assert.Equal(t, "index.wedding.images_added", changeSubject(c))
}
