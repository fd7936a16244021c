// Package bbox is the geometry kernel shared by segmentation, asset hint
// collection and PDF clip rendering.
//
// Providers describe rectangles in half a dozen shapes and in at least three
// coordinate spaces (OCR pixels, PDF points, unit ratios). Parse turns any of
// them into one canonical BBox at the boundary; everything downstream works on
// BBox only.
package bbox

import (
	"fmt"
	"math"

	"github.com/mathhub/mathhub/internal/jsonx"
)

// pixelSpaceFactor is how far a box may overshoot the page before it is
// assumed to be in OCR pixel space rather than PDF points.
const pixelSpaceFactor = 1.8

// BBox is a rectangle in a single coordinate space.
// SourceWidth/SourceHeight are set when that space is known to differ from
// the target page (for example a Mathpix page rendered at a different DPI).
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`

	SourceWidth  float64 `json:"source_page_width,omitempty"`
	SourceHeight float64 `json:"source_page_height,omitempty"`

	// Ratio marks a box parsed from *_ratio keys: coordinates are fractions
	// of the page, independent of resolution.
	Ratio bool `json:"-"`
}

// Size is a page extent.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether the page has a usable extent.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Valid reports whether the box has positive width and height.
func (b BBox) Valid() bool {
	if math.IsInf(b.X1, 0) || math.IsInf(b.Y1, 0) || math.IsInf(b.X2, 0) || math.IsInf(b.Y2, 0) {
		return false
	}
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Width of the box.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height of the box.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Center of the box.
func (b BBox) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// InUnitSquare reports whether all coordinates lie in [0,1].
func (b BBox) InUnitSquare() bool {
	in := func(v float64) bool { return v >= 0 && v <= 1 }
	return in(b.X1) && in(b.Y1) && in(b.X2) && in(b.Y2)
}

// Key is a stable string form used for deduplication.
func (b BBox) Key() string {
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", b.X1, b.Y1, b.X2, b.Y2)
}

// Area returns the box area, or 0 for an invalid box.
func Area(b BBox) float64 {
	if !b.Valid() {
		return 0
	}
	return b.Width() * b.Height()
}

// IntersectionArea returns the overlap area of a and b.
func IntersectionArea(a, b BBox) float64 {
	if !a.Valid() || !b.Valid() {
		return 0
	}
	w := math.Min(a.X2, b.X2) - math.Max(a.X1, b.X1)
	h := math.Min(a.Y2, b.Y2) - math.Max(a.Y1, b.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// OverlapRatio returns the fraction of own's area covered by other.
func OverlapRatio(own, other BBox) float64 {
	area := Area(own)
	if area <= 0 {
		return 0
	}
	return IntersectionArea(own, other) / area
}

// Union returns the smallest box containing both a and b. Invalid inputs are
// ignored.
func Union(a, b BBox) BBox {
	switch {
	case !a.Valid():
		return b
	case !b.Valid():
		return a
	}
	return BBox{
		X1: math.Min(a.X1, b.X1),
		Y1: math.Min(a.Y1, b.Y1),
		X2: math.Max(a.X2, b.X2),
		Y2: math.Max(a.Y2, b.Y2),
	}
}

// ToCanonical rescales b into the point space of page.
//
// Ratio boxes are multiplied by the page extent. Boxes with declared source
// dimensions are scaled per axis by page/source. Boxes without declared
// dimensions that overshoot the page by more than 1.8x are assumed to be in
// pixel space and scaled by page/extent; this last case is a best-effort
// guess and can be wrong for boxes that only partially overshoot.
func ToCanonical(b BBox, page Size) (BBox, bool) {
	if !b.Valid() || !page.Valid() {
		return BBox{}, false
	}
	x1, y1, x2, y2 := b.X1, b.Y1, b.X2, b.Y2
	sx, sy := 1.0, 1.0

	switch {
	case b.Ratio:
		sx, sy = page.Width, page.Height
	case b.SourceWidth > 0 && b.SourceHeight > 0:
		if b.SourceWidth != page.Width {
			sx = page.Width / b.SourceWidth
		}
		if b.SourceHeight != page.Height {
			sy = page.Height / b.SourceHeight
		}
	case b.InUnitSquare():
		sx, sy = page.Width, page.Height
	case x2 > page.Width*pixelSpaceFactor || y2 > page.Height*pixelSpaceFactor:
		sx = page.Width / math.Max(x2, page.Width)
		sy = page.Height / math.Max(y2, page.Height)
	}

	out := BBox{X1: x1 * sx, Y1: y1 * sy, X2: x2 * sx, Y2: y2 * sy}
	if !out.Valid() {
		return BBox{}, false
	}
	return out, true
}

// Clamp limits b to the page rectangle.
func Clamp(b BBox, page Size) (BBox, bool) {
	out := BBox{
		X1: math.Max(0, b.X1),
		Y1: math.Max(0, b.Y1),
		X2: math.Min(page.Width, b.X2),
		Y2: math.Min(page.Height, b.Y2),
	}
	return out, out.Valid()
}

// Ratio is a box expressed as fractions of the page extent.
type Ratio struct {
	X0 float64 `json:"x0_ratio"`
	Y0 float64 `json:"y0_ratio"`
	X1 float64 `json:"x1_ratio"`
	Y1 float64 `json:"y1_ratio"`
}

// Map returns r in the provider wire shape.
func (r Ratio) Map() map[string]any {
	return map[string]any{
		"x0_ratio": r.X0,
		"y0_ratio": r.Y0,
		"x1_ratio": r.X1,
		"y1_ratio": r.Y1,
	}
}

// BBox returns r as a ratio-flagged BBox.
func (r Ratio) BBox() BBox {
	return BBox{X1: r.X0, Y1: r.Y0, X2: r.X1, Y2: r.Y1, Ratio: true}
}

// Normalize expresses a page-space box as ratios rounded to 6 decimals.
func Normalize(b BBox, page Size) Ratio {
	if !page.Valid() {
		return Ratio{}
	}
	return Ratio{
		X0: Round6(b.X1 / page.Width),
		Y0: Round6(b.Y1 / page.Height),
		X1: Round6(b.X2 / page.Width),
		Y1: Round6(b.Y2 / page.Height),
	}
}

// Round6 rounds v to 6 decimal places.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Map returns b in the {x1,y1,x2,y2} wire shape.
func (b BBox) Map() map[string]any {
	m := map[string]any{"x1": b.X1, "y1": b.Y1, "x2": b.X2, "y2": b.Y2}
	if b.SourceWidth > 0 && b.SourceHeight > 0 {
		m["source_page_width"] = b.SourceWidth
		m["source_page_height"] = b.SourceHeight
	}
	return m
}

func withSource(b BBox, m map[string]any) BBox {
	w, okW := jsonx.Float(m["source_page_width"])
	h, okH := jsonx.Float(m["source_page_height"])
	if okW && okH && w > 0 && h > 0 {
		b.SourceWidth, b.SourceHeight = w, h
	}
	return b
}
