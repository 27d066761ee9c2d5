package imaging

import (
	"crypto/sha256"
	"encoding/hex"
	"image"
	"io"
	"sync"
)

// structuralMaskCache memoizes StructuralMask by content hash of the base
// image bytes. Concurrent computation for the same key is allowed and the
// last writer wins — the result is a pure function of the bytes, so two
// workers racing to populate the same key can never disagree.
var structuralMaskCache sync.Map // map[string]*BinaryMask

// ContentHash is the cache key for a base image: sha256 of its encoded
// bytes, not its pixels, so re-uploading byte-identical files is a cache
// hit without re-decoding.
func ContentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// StructuralMask derives, once per distinct base image, a binary mask
// intended to cover walls, window/door openings, and built-ins while
// excluding decor. It starts from Sobel edges, applies a mild box blur to
// bridge small gaps, re-thresholds, then closes the result with one
// dilate+erode pass (morphological closing) so thin structural lines
// survive as solid regions instead of single-pixel edges.
func StructuralMask(raw []byte, base image.Image) *BinaryMask {
	key := ContentHash(raw)
	if cached, ok := structuralMaskCache.Load(key); ok {
		return cached.(*BinaryMask)
	}

	edges := SobelEdges(base, 60)
	blurred := boxBlurMask(edges, 1)
	rethresholded := thresholdBlurredMask(edges.W, edges.H, blurred, 0.35)
	closed := morphClose(rethresholded, 1)

	structuralMaskCache.Store(key, closed)
	return closed
}

// ReadAllAndHash drains r and returns both the bytes and their content
// hash, for callers that need the hash before decoding (e.g. to check the
// structural mask cache before paying for a second decode).
func ReadAllAndHash(r io.Reader) ([]byte, string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, "", err
	}
	return raw, ContentHash(raw), nil
}

// boxBlurMask returns, per pixel, the fraction of set bits in a
// (2*radius+1)^2 window, flattened row-major over m's dimensions.
func boxBlurMask(m *BinaryMask, radius int) []float64 {
	out := make([]float64, m.W*m.H)
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			var sum, count int
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					xi, yi := x+dx, y+dy
					if xi < 0 || yi < 0 || xi >= m.W || yi >= m.H {
						continue
					}
					count++
					if m.At(xi, yi) {
						sum++
					}
				}
			}
			if count > 0 {
				out[y*m.W+x] = float64(sum) / float64(count)
			}
		}
	}
	return out
}

func thresholdBlurredMask(w, h int, blurred []float64, cutoff float64) *BinaryMask {
	out := newMask(w, h)
	for i, v := range blurred {
		if v >= cutoff {
			out.Bits[i] = 1
		}
	}
	return out
}

func morphClose(m *BinaryMask, radius int) *BinaryMask {
	dilated := morphDilate(m, radius)
	return morphErode(dilated, radius)
}

func morphDilate(m *BinaryMask, radius int) *BinaryMask {
	out := newMask(m.W, m.H)
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			set := false
			for dy := -radius; dy <= radius && !set; dy++ {
				for dx := -radius; dx <= radius && !set; dx++ {
					if m.At(x+dx, y+dy) {
						set = true
					}
				}
			}
			out.Set(x, y, set)
		}
	}
	return out
}

func morphErode(m *BinaryMask, radius int) *BinaryMask {
	out := newMask(m.W, m.H)
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			all := true
			for dy := -radius; dy <= radius && all; dy++ {
				for dx := -radius; dx <= radius && all; dx++ {
					if !m.At(x+dx, y+dy) {
						all = false
					}
				}
			}
			out.Set(x, y, all)
		}
	}
	return out
}
