// Package imaging is a stable, deterministic wrapper over
// decode/encode/resize/grayscale/edge/histogram primitives that every
// local validator builds on. Nothing here calls out to a generative or
// judge model — those are opaque collaborators reached through
// modelclient.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"

	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// Decode reads an image from any registered codec (PNG/JPEG are imported
// for side effect above).
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// DecodeFile is a convenience wrapper used by validators and tests that
// operate on paths rather than object-store readers.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

// EncodePNG always re-encodes as PNG. The stage executor does not use it:
// candidates are persisted as the model's raw bytes, with the key's
// extension taken from the declared mime type.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Resize scales src to exactly w x h using Catmull-Rom interpolation, the
// same resampler the teacher's avatar pipeline uses for its own resizes.
func Resize(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

// Grayscale converts to a single-channel 8-bit image using Go's standard
// luminance-weighted conversion (image/color.GrayModel).
func Grayscale(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x, y, color.GrayModel.Convert(src.At(x, y)))
		}
	}
	return dst
}

// MeanLuminance is the average 0..255 gray value over the whole image,
// used by the brightness-delta validator.
func MeanLuminance(src image.Image) float64 {
	gray := Grayscale(src)
	b := gray.Bounds()
	var sum, count int64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum += int64(gray.GrayAt(x, y).Y)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return float64(sum) / float64(count)
}

// GrayHistogram is a 256-bucket luminance histogram, exposed as a primitive
// even though none of the built-in local validators currently consume it
// directly.
func GrayHistogram(src image.Image) [256]int {
	gray := Grayscale(src)
	var hist [256]int
	b := gray.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			hist[gray.GrayAt(x, y).Y]++
		}
	}
	return hist
}

// Dimensions returns width, height.
func Dimensions(img image.Image) (int, int) {
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

// AspectRatio is width/height.
func AspectRatio(img image.Image) float64 {
	w, h := Dimensions(img)
	if h == 0 {
		return 0
	}
	return float64(w) / float64(h)
}
