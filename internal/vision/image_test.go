package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestDecodeImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(4, 3, color.White)))

	img, err := decodeImage(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 3, img.Bounds().Dy())

	_, err = decodeImage([]byte("not an image"))
	assert.Error(t, err)
	_, err = decodeImage(nil)
	assert.Error(t, err)
}

func TestToCHWLayout(t *testing.T) {
	img := solid(2, 2, color.RGBA{R: 255, G: 127, B: 0, A: 255})

	out := toCHW(img, 2, 2, 127.5, 127.5)
	require.Len(t, out, 12)
	for i := 0; i < 4; i++ {
		assert.InDelta(t, 1.0, out[i], 1e-6, "red plane")
		assert.InDelta(t, -0.5/127.5, out[4+i], 1e-6, "green plane")
		assert.InDelta(t, -1.0, out[8+i], 1e-6, "blue plane")
	}
}

func TestResizeNearest(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	src.Set(0, 0, color.RGBA{R: 255, A: 255})
	src.Set(3, 3, color.RGBA{B: 255, A: 255})

	dst := resizeNearest(src, 2, 2)
	assert.Equal(t, image.Rect(0, 0, 2, 2), dst.Bounds())
	assert.Equal(t, color.RGBA{R: 255, A: 255}, dst.RGBAAt(0, 0))

	up := resizeNearest(src, 8, 8)
	assert.Equal(t, color.RGBA{B: 255, A: 255}, up.RGBAAt(7, 7))
}

func TestCropFace(t *testing.T) {
	img := solid(100, 100, color.White)

	crop := cropFace(img, [4]float32{20, 20, 70, 60})
	require.NotNil(t, crop)
	// 50x40 box padded by 5 and 4 on each side.
	assert.Equal(t, 60, crop.Bounds().Dx())
	assert.Equal(t, 48, crop.Bounds().Dy())

	edge := cropFace(img, [4]float32{-10, -10, 30, 30})
	require.NotNil(t, edge)
	assert.Equal(t, 33, edge.Bounds().Dx(), "padding is clamped to the image")

	assert.Nil(t, cropFace(img, [4]float32{50, 50, 50, 80}))
	assert.Nil(t, cropFace(img, [4]float32{150, 150, 200, 200}))
}
