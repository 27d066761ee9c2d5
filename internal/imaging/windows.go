package imaging

import (
	"image"
	"sort"
)

// WindowRegion is one detected bright rectangular region.
type WindowRegion struct {
	MinX, MinY, MaxX, MaxY int
	Area                   int
}

func (r WindowRegion) width() int  { return r.MaxX - r.MinX + 1 }
func (r WindowRegion) height() int { return r.MaxY - r.MinY + 1 }

func (r WindowRegion) aspect() float64 {
	h := r.height()
	if h == 0 {
		return 0
	}
	return float64(r.width()) / float64(h)
}

// DetectWindows implements the window detector:
// grayscale -> percentile threshold to binary -> one pass of majority
// smoothing -> 4-connectivity flood fill -> discard regions outside the
// area/aspect bounds -> keep the top N by area.
func DetectWindows(img image.Image, percentile, minAreaFrac, maxAreaFrac, minAspect, maxAspect float64, maxKept int) []WindowRegion {
	gray := Grayscale(img)
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()

	cutoff := percentileGrayLevel(gray, percentile)

	binary := newMask(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if int(gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y) >= cutoff {
				binary.Set(x, y, true)
			}
		}
	}

	smoothed := majoritySmooth(binary)

	regions := floodFillRegions(smoothed)

	totalArea := float64(w * h)
	out := make([]WindowRegion, 0, len(regions))
	for _, r := range regions {
		areaFrac := float64(r.Area) / totalArea
		if areaFrac < minAreaFrac || areaFrac > maxAreaFrac {
			continue
		}
		a := r.aspect()
		if a < minAspect || a > maxAspect {
			continue
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Area > out[j].Area })
	if len(out) > maxKept {
		out = out[:maxKept]
	}
	return out
}

// percentileGrayLevel returns the gray value at the given percentile
// (0..1) of the image's luminance distribution.
func percentileGrayLevel(gray *image.Gray, percentile float64) int {
	var hist [256]int
	b := gray.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			hist[gray.GrayAt(x, y).Y]++
		}
	}
	total := 0
	for _, c := range hist {
		total += c
	}
	if total == 0 {
		return 255
	}
	target := int(float64(total) * percentile)
	cum := 0
	for level, c := range hist {
		cum += c
		if cum >= target {
			return level
		}
	}
	return 255
}

// majoritySmooth sets each pixel to the majority value among itself and its
// 8 neighbors, one pass, to remove isolated speckle before flood fill.
func majoritySmooth(m *BinaryMask) *BinaryMask {
	out := newMask(m.W, m.H)
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			set, total := 0, 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					xi, yi := x+dx, y+dy
					if xi < 0 || yi < 0 || xi >= m.W || yi >= m.H {
						continue
					}
					total++
					if m.At(xi, yi) {
						set++
					}
				}
			}
			out.Set(x, y, total > 0 && set*2 >= total)
		}
	}
	return out
}

// floodFillRegions runs 4-connectivity flood fill over the set pixels of m
// and returns one WindowRegion (bounding box + area) per connected
// component.
func floodFillRegions(m *BinaryMask) []WindowRegion {
	visited := make([]bool, len(m.Bits))
	var regions []WindowRegion

	type point struct{ x, y int }

	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			idx := y*m.W + x
			if visited[idx] || m.Bits[idx] == 0 {
				continue
			}
			stack := []point{{x, y}}
			visited[idx] = true
			minX, minY, maxX, maxY, area := x, y, x, y, 0

			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				area++
				if p.x < minX {
					minX = p.x
				}
				if p.x > maxX {
					maxX = p.x
				}
				if p.y < minY {
					minY = p.y
				}
				if p.y > maxY {
					maxY = p.y
				}

				neighbors := [4]point{{p.x + 1, p.y}, {p.x - 1, p.y}, {p.x, p.y + 1}, {p.x, p.y - 1}}
				for _, n := range neighbors {
					if n.x < 0 || n.y < 0 || n.x >= m.W || n.y >= m.H {
						continue
					}
					nidx := n.y*m.W + n.x
					if visited[nidx] || m.Bits[nidx] == 0 {
						continue
					}
					visited[nidx] = true
					stack = append(stack, n)
				}
			}

			regions = append(regions, WindowRegion{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY, Area: area})
		}
	}
	return regions
}
