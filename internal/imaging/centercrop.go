package imaging

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// DimensionVerdict is the dimension check's outcome.
type DimensionVerdict struct {
	// AspectDelta is |aspect(base) - aspect(candidate)| / aspect(base).
	AspectDelta float64
	// FatalMismatch is true when AspectDelta exceeds the configured
	// tolerance; the stage is rejected outright (dimension_change trigger).
	FatalMismatch bool
	// NeedsResize is true when sizes differ but aspect matches within
	// tolerance: the candidate must be center-cropped/resized to the
	// base's exact dimensions before any other validator runs.
	NeedsResize bool
}

// CheckDimensions compares aspect ratios within tolerance, and decides
// whether a same-aspect, different-size candidate needs canonicalizing
// before the rest of the local validator lane runs.
func CheckDimensions(base, candidate image.Image, aspectTolerance float64) DimensionVerdict {
	bw, bh := Dimensions(base)
	cw, ch := Dimensions(candidate)

	baseAspect := AspectRatio(base)
	candAspect := AspectRatio(candidate)
	var delta float64
	if baseAspect != 0 {
		delta = math.Abs(baseAspect-candAspect) / baseAspect
	}

	v := DimensionVerdict{AspectDelta: delta}
	if delta > aspectTolerance {
		v.FatalMismatch = true
		return v
	}
	if bw != cw || bh != ch {
		v.NeedsResize = true
	}
	return v
}

// CenterCropResize crops src to the target aspect ratio around its center,
// then resizes to exactly targetW x targetH. Used both to
// canonicalize a same-aspect candidate onto the base's exact pixel
// dimensions, and as a general-purpose primitive for any component that
// needs a fixed-size crop (e.g. a debug-overlay thumbnail).
func CenterCropResize(src image.Image, targetW, targetH int) *image.RGBA {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	targetAspect := float64(targetW) / float64(targetH)
	srcAspect := float64(sw) / float64(sh)

	cropW, cropH := sw, sh
	if srcAspect > targetAspect {
		cropW = int(float64(sh) * targetAspect)
	} else if srcAspect < targetAspect {
		cropH = int(float64(sw) / targetAspect)
	}
	x0 := b.Min.X + (sw-cropW)/2
	y0 := b.Min.Y + (sh-cropH)/2

	cropRect := image.Rect(0, 0, cropW, cropH)
	cropped := image.NewRGBA(cropRect)
	draw.Draw(cropped, cropRect, src, image.Point{X: x0, Y: y0}, draw.Src)

	return Resize(cropped, targetW, targetH)
}
