package bbox

import (
	"encoding/json"
	"math"
	"testing"
)

const eps = 1e-6

func near(a, b float64) bool { return math.Abs(a-b) < eps }

func sameRect(a, b BBox) bool {
	return near(a.X1, b.X1) && near(a.Y1, b.Y1) && near(a.X2, b.X2) && near(a.Y2, b.Y2)
}

func TestParseEncodingsAreEquivalent(t *testing.T) {
	page := Size{Width: 600, Height: 800}
	want := BBox{X1: 60, Y1: 80, X2: 300, Y2: 400}

	tests := []struct {
		name string
		raw  any
	}{
		{"xyxy", map[string]any{"x1": 60, "y1": 80, "x2": 300, "y2": 400}},
		{"ltrb", map[string]any{"left": 60.0, "top": 80.0, "right": 300.0, "bottom": 400.0}},
		{"xywh", map[string]any{"x": 60, "y": 80, "w": 240, "h": 320}},
		{"xy width height", map[string]any{"x": "60", "y": "80", "width": "240", "height": "320"}},
		{"ratio", map[string]any{"x0_ratio": 0.1, "y0_ratio": 0.1, "x1_ratio": 0.5, "y1_ratio": 0.5}},
		{"polygon", []any{
			[]any{60.0, 80.0}, []any{300.0, 80.0}, []any{300.0, 400.0}, []any{60.0, 400.0},
		}},
		{"declared source dims", map[string]any{
			"x1": 120, "y1": 160, "x2": 600, "y2": 800,
			"source_page_width": 1200, "source_page_height": 1600,
		}},
		{"canonical struct", want},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, ok := Parse(tt.raw)
			if !ok {
				t.Fatalf("Parse(%v) failed", tt.raw)
			}
			got, ok := ToCanonical(parsed, page)
			if !ok {
				t.Fatalf("ToCanonical(%+v) failed", parsed)
			}
			if !sameRect(got, want) {
				t.Errorf("got %+v, want %+v", got, want)
			}
		})
	}
}

func TestParseFailsClosed(t *testing.T) {
	tests := []struct {
		name string
		raw  any
	}{
		{"nil", nil},
		{"string", "10,10,20,20"},
		{"unknown keys", map[string]any{"a": 1, "b": 2}},
		{"non numeric", map[string]any{"x1": "left", "y1": 0, "x2": 10, "y2": 10}},
		{"inverted x", map[string]any{"x1": 10, "y1": 0, "x2": 5, "y2": 10}},
		{"zero height", map[string]any{"x": 0, "y": 0, "w": 10, "h": 0}},
		{"short polygon", []any{[]any{1, 2}}},
		{"bad polygon point", []any{[]any{1, 2}, []any{"x"}}},
		{"flat numbers", []any{1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if b, ok := Parse(tt.raw); ok {
				t.Errorf("Parse(%v) = %+v, want failure", tt.raw, b)
			}
		})
	}
}

func TestParseFromJSON(t *testing.T) {
	var raw any
	if err := json.Unmarshal([]byte(`{"cnt": [[610,620],[710,620],[710,730],[610,730]]}`), &raw); err != nil {
		t.Fatal(err)
	}
	b, ok := Parse(raw.(map[string]any)["cnt"])
	if !ok {
		t.Fatal("expected polygon to parse")
	}
	if !sameRect(b, BBox{X1: 610, Y1: 620, X2: 710, Y2: 730}) {
		t.Errorf("got %+v", b)
	}
}

func TestToCanonicalPixelSpaceHeuristic(t *testing.T) {
	page := Size{Width: 500, Height: 700}
	// Box overshoots the page by more than 1.8x: assume pixel space.
	b := BBox{X1: 500, Y1: 700, X2: 1000, Y2: 1400}
	got, ok := ToCanonical(b, page)
	if !ok {
		t.Fatal("expected success")
	}
	want := BBox{X1: 250, Y1: 350, X2: 500, Y2: 700}
	if !sameRect(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}

	// Slight overshoot stays as-is.
	b = BBox{X1: 10, Y1: 10, X2: 600, Y2: 600}
	got, _ = ToCanonical(b, page)
	if !sameRect(got, b) {
		t.Errorf("got %+v, want unchanged %+v", got, b)
	}
}

func TestIntersectionArea(t *testing.T) {
	a := BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	boxes := []BBox{
		{X1: 5, Y1: 5, X2: 15, Y2: 15},
		{X1: 20, Y1: 20, X2: 30, Y2: 30},
		{X1: 2, Y1: 2, X2: 4, Y2: 4},
		{X1: 10, Y1: 0, X2: 20, Y2: 10},
	}

	t.Run("symmetric", func(t *testing.T) {
		for _, b := range boxes {
			if IntersectionArea(a, b) != IntersectionArea(b, a) {
				t.Errorf("asymmetric for %+v", b)
			}
		}
	})

	t.Run("self equals area", func(t *testing.T) {
		for _, b := range append(boxes, a) {
			if !near(IntersectionArea(b, b), Area(b)) {
				t.Errorf("IntersectionArea(b,b)=%v, Area=%v", IntersectionArea(b, b), Area(b))
			}
		}
	})

	t.Run("values", func(t *testing.T) {
		want := []float64{25, 0, 4, 0}
		for i, b := range boxes {
			if got := IntersectionArea(a, b); !near(got, want[i]) {
				t.Errorf("box %d: got %v, want %v", i, got, want[i])
			}
		}
	})
}

func TestOverlapRatio(t *testing.T) {
	hint := BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}
	cand := BBox{X1: 90, Y1: 0, X2: 200, Y2: 100}
	if got := OverlapRatio(hint, cand); !near(got, 0.1) {
		t.Errorf("OverlapRatio = %v, want 0.1", got)
	}
	if got := OverlapRatio(BBox{}, cand); got != 0 {
		t.Errorf("invalid box overlap = %v, want 0", got)
	}
}

func TestPadAndFloorSize(t *testing.T) {
	page := Size{Width: 1000, Height: 1000}
	policy := DefaultPolicy()
	b := BBox{X1: 100, Y1: 100, X2: 200, Y2: 200}

	image, ok := policy.PadAndFloorSize(b, "image", page)
	if !ok {
		t.Fatal("image pad failed")
	}
	graph, ok := policy.PadAndFloorSize(b, "graph", page)
	if !ok {
		t.Fatal("graph pad failed")
	}

	t.Run("graph pads wider than image", func(t *testing.T) {
		if !(graph.X1 < image.X1 && graph.Y1 < image.Y1 && graph.X2 > image.X2 && graph.Y2 > image.Y2) {
			t.Errorf("graph %+v not wider than image %+v", graph, image)
		}
	})

	t.Run("graph pad value", func(t *testing.T) {
		if !sameRect(graph, BBox{X1: 82, Y1: 82, X2: 218, Y2: 218}) {
			t.Errorf("got %+v", graph)
		}
	})

	t.Run("minimum pad applies to tiny boxes", func(t *testing.T) {
		got, _ := NewPolicy(nil, Pad{Ratio: 0.01}, 6).PadAndFloorSize(b, "other", page)
		if !sameRect(got, BBox{X1: 94, Y1: 94, X2: 206, Y2: 206}) {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("min size grows from center", func(t *testing.T) {
		small := BBox{X1: 500, Y1: 500, X2: 510, Y2: 510}
		got, _ := policy.PadAndFloorSize(small, "graph", page)
		if !near(got.Width(), 120) || !near(got.Height(), 120) {
			t.Fatalf("size = %vx%v, want 120x120", got.Width(), got.Height())
		}
		cx, cy := got.Center()
		if !near(cx, 505) || !near(cy, 505) {
			t.Errorf("center = (%v,%v), want (505,505)", cx, cy)
		}
	})

	t.Run("min size shifts when pinned to edge", func(t *testing.T) {
		corner := BBox{X1: 0, Y1: 990, X2: 10, Y2: 1000}
		got, ok := policy.PadAndFloorSize(corner, "graph", page)
		if !ok {
			t.Fatal("expected success")
		}
		if got.X1 != 0 || got.Y2 != 1000 {
			t.Errorf("expected box pinned to page corner, got %+v", got)
		}
		if !near(got.Width(), 120) || !near(got.Height(), 120) {
			t.Errorf("size = %vx%v, want 120x120", got.Width(), got.Height())
		}
	})

	t.Run("never exceeds page", func(t *testing.T) {
		tiny := Size{Width: 50, Height: 40}
		got, ok := policy.PadAndFloorSize(BBox{X1: 10, Y1: 10, X2: 20, Y2: 20}, "graph", tiny)
		if !ok {
			t.Fatal("expected success")
		}
		if got != (BBox{X1: 0, Y1: 0, X2: 50, Y2: 40}) {
			t.Errorf("got %+v", got)
		}
	})
}

func TestNormalize(t *testing.T) {
	r := Normalize(BBox{X1: 1, Y1: 2, X2: 3, Y2: 4}, Size{Width: 3, Height: 7})
	want := Ratio{X0: 0.333333, Y0: 0.285714, X1: 1, Y1: 0.571429}
	if r != want {
		t.Errorf("got %+v, want %+v", r, want)
	}
}
