package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
)

// OverlayMarker is one trigger location to annotate on a debug overlay.
type OverlayMarker struct {
	Region WindowRegion
	Label  string
	Fatal  bool
}

// DebugOverlay renders the candidate image with trigger regions outlined
// (red for fatal, amber for non-fatal) and labeled, encoded as PNG. It's
// operator failure-analysis tooling, not something the pipeline itself
// consumes; no pipeline component calls it, so attempt reports carry no
// overlay.
func DebugOverlay(candidate image.Image, markers []OverlayMarker) ([]byte, error) {
	b := candidate.Bounds()
	w, h := b.Dx(), b.Dy()

	dc := gg.NewContext(w, h)
	dc.DrawImage(candidate, 0, 0)

	for _, m := range markers {
		col := color.RGBA{R: 255, G: 191, B: 0, A: 255}
		if m.Fatal {
			col = color.RGBA{R: 220, G: 30, B: 30, A: 255}
		}
		dc.SetColor(col)
		dc.SetLineWidth(3)
		x0 := float64(m.Region.MinX)
		y0 := float64(m.Region.MinY)
		rw := float64(m.Region.width())
		rh := float64(m.Region.height())
		dc.DrawRectangle(x0, y0, rw, rh)
		dc.Stroke()

		if m.Label != "" {
			dc.DrawString(m.Label, x0+2, y0-4)
		}
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode debug overlay: %w", err)
	}
	return buf.Bytes(), nil
}
