package pdfdoc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/mathhub/mathhub/internal/bbox"
)

type fakeRaster struct {
	calls []*bbox.BBox
	body  []byte
}

func (f *fakeRaster) Render(_ context.Context, _ string, _ int, _ float64, clip *bbox.BBox) ([]byte, error) {
	f.calls = append(f.calls, clip)
	return f.body, nil
}

func TestPopplerArgs(t *testing.T) {
	t.Run("full page", func(t *testing.T) {
		got := popplerArgs("in.pdf", "/tmp/out", 3, 2, nil)
		want := []string{"-png", "-f", "3", "-l", "3", "-r", "144", "-singlefile", "in.pdf", "/tmp/out"}
		if !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("clip in pixels", func(t *testing.T) {
		clip := bbox.BBox{X1: 10.2, Y1: 20, X2: 110.1, Y2: 70}
		got := popplerArgs("in.pdf", "/tmp/out", 1, 1.5, &clip)
		want := []string{
			"-png", "-f", "1", "-l", "1", "-r", "108", "-singlefile",
			"-x", "15", "-y", "30", "-W", "151", "-H", "75",
			"in.pdf", "/tmp/out",
		}
		if !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})
}

func TestDocumentRender(t *testing.T) {
	raster := &fakeRaster{body: []byte("png")}
	doc := New("doc.pdf", []bbox.Size{{Width: 595, Height: 842}, {Width: 842, Height: 595}}, raster)
	ctx := context.Background()

	if doc.PageCount() != 2 {
		t.Fatalf("PageCount = %d", doc.PageCount())
	}
	if size, ok := doc.PageSize(2); !ok || size.Width != 842 {
		t.Errorf("PageSize(2) = %+v, %v", size, ok)
	}
	if _, ok := doc.PageSize(0); ok {
		t.Error("PageSize(0) should fail")
	}

	if _, err := doc.RenderPage(ctx, 3, 1); !errors.Is(err, ErrPageRange) {
		t.Errorf("RenderPage(3) err = %v, want ErrPageRange", err)
	}
	if _, err := doc.RenderClip(ctx, 1, bbox.BBox{X1: 5, Y1: 5, X2: 5, Y2: 10}, 1); err == nil {
		t.Error("expected error for degenerate clip")
	}
	body, err := doc.RenderClip(ctx, 1, bbox.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}, 2)
	if err != nil || string(body) != "png" {
		t.Fatalf("RenderClip = %q, %v", body, err)
	}
	if len(raster.calls) != 1 || raster.calls[0] == nil {
		t.Errorf("rasterizer calls = %v", raster.calls)
	}

	if err := doc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := doc.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if _, err := doc.RenderPage(ctx, 1, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("err after close = %v, want ErrClosed", err)
	}
}

func TestCloseKeepsCallerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.pdf")
	if err := os.WriteFile(path, []byte("%PDF"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc := New(path, []bbox.Size{{Width: 1, Height: 1}}, &fakeRaster{})
	if err := doc.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("caller file removed: %v", err)
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	if _, err := Open(nil, &fakeRaster{}); err == nil {
		t.Error("expected error for empty input")
	}
	if _, err := Open([]byte("not a pdf"), &fakeRaster{}); err == nil {
		t.Error("expected error for non-PDF input")
	}
}

func TestDisplaySize(t *testing.T) {
	tests := []struct {
		rotate int
		want   bbox.Size
	}{
		{0, bbox.Size{Width: 612, Height: 792}},
		{90, bbox.Size{Width: 792, Height: 612}},
		{180, bbox.Size{Width: 612, Height: 792}},
		{270, bbox.Size{Width: 792, Height: 612}},
		{-90, bbox.Size{Width: 792, Height: 612}},
		{450, bbox.Size{Width: 792, Height: 612}},
	}
	for _, tt := range tests {
		if got := displaySize(612, 792, tt.rotate); got != tt.want {
			t.Errorf("displaySize(612, 792, %d) = %+v, want %+v", tt.rotate, got, tt.want)
		}
	}
}
