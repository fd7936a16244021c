package bbox

import (
	"math"
	"strings"
)

// Pad is the clip policy for one asset type: a relative pad applied to each
// side and a minimum crop size.
type Pad struct {
	Ratio     float64
	MinWidth  float64
	MinHeight float64
}

// Policy maps asset types to clip padding. A Policy is immutable once built.
type Policy struct {
	byType   map[string]Pad
	fallback Pad
	minPad   float64
}

// DefaultPolicy returns the production padding table. Graphs get the widest
// pad because axis labels and legends tend to sit outside the detected box.
func DefaultPolicy() Policy {
	return NewPolicy(map[string]Pad{
		"graph": {Ratio: 0.18, MinWidth: 120, MinHeight: 120},
		"table": {Ratio: 0.10, MinWidth: 72, MinHeight: 72},
		"image": {Ratio: 0.08, MinWidth: 64, MinHeight: 64},
	}, Pad{Ratio: 0.06, MinWidth: 56, MinHeight: 56}, 6)
}

// NewPolicy builds a Policy. minPad is the absolute floor for each side's pad.
func NewPolicy(byType map[string]Pad, fallback Pad, minPad float64) Policy {
	copied := make(map[string]Pad, len(byType))
	for k, v := range byType {
		copied[strings.ToLower(k)] = v
	}
	return Policy{byType: copied, fallback: fallback, minPad: minPad}
}

// For returns the pad for assetType, or the fallback.
func (p Policy) For(assetType string) Pad {
	if pad, ok := p.byType[strings.ToLower(strings.TrimSpace(assetType))]; ok {
		return pad
	}
	return p.fallback
}

// PadAndFloorSize pads a page-space box by the asset type's ratio, then grows
// it to the minimum crop size. Growth is centered on the box and shifted back
// inside the page when one edge is pinned, so the result can be asymmetric.
// The result is clamped to the page.
func (p Policy) PadAndFloorSize(b BBox, assetType string, page Size) (BBox, bool) {
	if !b.Valid() || !page.Valid() {
		return BBox{}, false
	}
	pad := p.For(assetType)

	padX := math.Max(p.minPad, b.Width()*pad.Ratio)
	padY := math.Max(p.minPad, b.Height()*pad.Ratio)
	out, ok := Clamp(BBox{
		X1: b.X1 - padX,
		Y1: b.Y1 - padY,
		X2: b.X2 + padX,
		Y2: b.Y2 + padY,
	}, page)
	if !ok {
		return BBox{}, false
	}

	out.X1, out.X2 = growSpan(out.X1, out.X2, pad.MinWidth, page.Width)
	out.Y1, out.Y2 = growSpan(out.Y1, out.Y2, pad.MinHeight, page.Height)
	if !out.Valid() {
		return BBox{}, false
	}
	return out, true
}

// growSpan widens [lo,hi] to at least minLen within [0,limit].
func growSpan(lo, hi, minLen, limit float64) (float64, float64) {
	if hi-lo >= minLen {
		return lo, hi
	}
	if minLen >= limit {
		return 0, limit
	}
	center := (lo + hi) / 2
	lo = center - minLen/2
	hi = center + minLen/2
	if lo < 0 {
		hi -= lo
		lo = 0
	}
	if hi > limit {
		lo -= hi - limit
		hi = limit
	}
	return math.Max(0, lo), hi
}
