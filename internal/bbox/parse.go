package bbox

import (
	"github.com/mathhub/mathhub/internal/jsonx"
)

// encoding is one accepted wire shape for a rectangle.
type encoding struct {
	name string
	keys []string
	// build receives the values of keys, already coerced to float64.
	build func(v []float64) BBox
}

// encodings lists the accepted key-set shapes in match order.
var encodings = []encoding{
	{
		name:  "xyxy",
		keys:  []string{"x1", "y1", "x2", "y2"},
		build: func(v []float64) BBox { return BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]} },
	},
	{
		name:  "ltrb",
		keys:  []string{"left", "top", "right", "bottom"},
		build: func(v []float64) BBox { return BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]} },
	},
	{
		name:  "xywh",
		keys:  []string{"x", "y", "w", "h"},
		build: func(v []float64) BBox { return BBox{X1: v[0], Y1: v[1], X2: v[0] + v[2], Y2: v[1] + v[3]} },
	},
	{
		name:  "xy_width_height",
		keys:  []string{"x", "y", "width", "height"},
		build: func(v []float64) BBox { return BBox{X1: v[0], Y1: v[1], X2: v[0] + v[2], Y2: v[1] + v[3]} },
	},
	{
		name: "ratio",
		keys: []string{"x0_ratio", "y0_ratio", "x1_ratio", "y1_ratio"},
		build: func(v []float64) BBox {
			return BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3], Ratio: true}
		},
	},
	{
		// Mathpix line "region".
		name:  "top_left",
		keys:  []string{"top_left_x", "top_left_y", "width", "height"},
		build: func(v []float64) BBox { return BBox{X1: v[0], Y1: v[1], X2: v[0] + v[2], Y2: v[1] + v[3]} },
	},
}

// Parse converts any accepted rectangle encoding into a BBox.
//
// raw may be a BBox, a map keyed by one of the accepted key sets, or a polygon
// [[x,y],...] such as a Mathpix "cnt" contour. The first key set fully present
// wins; if its values fail to coerce, Parse fails rather than trying the next
// shape. Degenerate rectangles are rejected, never clamped.
func Parse(raw any) (BBox, bool) {
	switch v := raw.(type) {
	case nil:
		return BBox{}, false
	case BBox:
		return v, v.Valid()
	case *BBox:
		if v == nil {
			return BBox{}, false
		}
		return *v, v.Valid()
	case Ratio:
		b := v.BBox()
		return b, b.Valid()
	}

	if m := jsonx.Map(raw); m != nil {
		return parseMap(m)
	}
	if points := jsonx.Slice(raw); points != nil {
		return ParsePolygon(points)
	}
	return BBox{}, false
}

func parseMap(m map[string]any) (BBox, bool) {
	for _, enc := range encodings {
		if !hasAll(m, enc.keys) {
			continue
		}
		values := make([]float64, len(enc.keys))
		for i, k := range enc.keys {
			f, ok := jsonx.Float(m[k])
			if !ok {
				return BBox{}, false
			}
			values[i] = f
		}
		b := withSource(enc.build(values), m)
		if !b.Valid() {
			return BBox{}, false
		}
		return b, true
	}
	return BBox{}, false
}

// ParsePolygon returns the bounding rectangle of a point list [[x,y],...].
func ParsePolygon(points []any) (BBox, bool) {
	if len(points) < 2 {
		return BBox{}, false
	}
	var out BBox
	for i, p := range points {
		xy := jsonx.Slice(p)
		if len(xy) < 2 {
			return BBox{}, false
		}
		x, okX := jsonx.Float(xy[0])
		y, okY := jsonx.Float(xy[1])
		if !okX || !okY {
			return BBox{}, false
		}
		if i == 0 {
			out = BBox{X1: x, Y1: y, X2: x, Y2: y}
			continue
		}
		out.X1 = min(out.X1, x)
		out.Y1 = min(out.Y1, y)
		out.X2 = max(out.X2, x)
		out.Y2 = max(out.Y2, y)
	}
	if !out.Valid() {
		return BBox{}, false
	}
	return out, true
}

func hasAll(m map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}
