package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// decodeImage decodes any registered still-image format.
func decodeImage(data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("decode image: empty %s", format)
	}
	return img, nil
}

func preprocessForDetection(img image.Image, w, h int) []float32 {
	return toCHW(img, w, h, 127.5, 128.0)
}

func preprocessForEmbedding(img image.Image, w, h int) []float32 {
	return toCHW(img, w, h, 127.5, 127.5)
}

// toCHW resizes img to w x h and lays it out as planar RGB, each channel
// normalised as (v - mean) / std.
func toCHW(img image.Image, w, h int, mean, std float32) []float32 {
	resized := resizeNearest(img, w, h)
	plane := w * h
	out := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			i := y*w + x
			out[i] = (float32(r>>8) - mean) / std
			out[plane+i] = (float32(g>>8) - mean) / std
			out[2*plane+i] = (float32(b>>8) - mean) / std
		}
	}
	return out
}

func resizeNearest(img image.Image, w, h int) *image.RGBA {
	src := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(x, y, img.At(src.Min.X+x*src.Dx()/w, src.Min.Y+y*src.Dy()/h))
		}
	}
	return dst
}

// cropFace cuts the box out of img with 10% padding on each side, clamped to
// the image. It returns nil for a degenerate box.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	b := img.Bounds()
	r := image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])).Intersect(b)
	if r.Empty() {
		return nil
	}

	padW, padH := r.Dx()/10, r.Dy()/10
	r = image.Rect(r.Min.X-padW, r.Min.Y-padH, r.Max.X+padW, r.Max.Y+padH).Intersect(b)

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			crop.Set(x-r.Min.X, y-r.Min.Y, img.At(x, y))
		}
	}
	return crop
}
