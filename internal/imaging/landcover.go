package imaging

import (
	"image"
	"image/color"
)

// GreenRatio samples the central horizontal band of img and returns the
// fraction of pixels that are green in hue with brightness above a floor,
// i.e. a cheap vegetation/landcover proxy for the exterior-only
// landcover-delta validator.
func GreenRatio(img image.Image) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	bandTop := b.Min.Y + h/3
	bandBottom := b.Min.Y + 2*h/3

	var green, total int
	for y := bandTop; y < bandBottom; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			total++
			hh, s, v := rgbToHSV(img.At(x, y))
			const brightnessFloor = 0.15
			if v < brightnessFloor {
				continue
			}
			if hh >= 70 && hh <= 170 && s >= 0.15 {
				green++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(green) / float64(total)
}

// rgbToHSV returns hue in degrees [0,360), saturation and value in [0,1].
func rgbToHSV(c color.Color) (h, s, v float64) {
	r32, g32, b32, _ := c.RGBA()
	r := float64(r32) / 65535.0
	g := float64(g32) / 65535.0
	bl := float64(b32) / 65535.0

	maxC := maxF(r, g, bl)
	minC := minF(r, g, bl)
	delta := maxC - minC

	v = maxC
	if maxC == 0 {
		s = 0
	} else {
		s = delta / maxC
	}
	if delta == 0 {
		h = 0
		return
	}
	switch maxC {
	case r:
		h = 60 * (((g - bl) / delta))
		if h < 0 {
			h += 360
		}
	case g:
		h = 60 * ((bl-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	return
}

func maxF(vs ...float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minF(vs ...float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
