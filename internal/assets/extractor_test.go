package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mathhub/mathhub/internal/bbox"
)

type fakePages struct {
	size  bbox.Size
	clips []bbox.BBox
	// failLeftOf makes clips starting left of this x fail to render.
	failLeftOf float64
	empty      bool
}

func (f *fakePages) PageSize(pageNo int) (bbox.Size, bool) {
	if pageNo != 1 {
		return bbox.Size{}, false
	}
	return f.size, true
}

func (f *fakePages) RenderClip(_ context.Context, _ int, clip bbox.BBox, _ float64) ([]byte, error) {
	f.clips = append(f.clips, clip)
	if clip.X1 < f.failLeftOf {
		return nil, errors.New("render failed")
	}
	if f.empty {
		return nil, nil
	}
	return []byte("png"), nil
}

type fakeUploader struct {
	keys    []string
	failKey string
}

func (f *fakeUploader) Put(_ context.Context, key string, body []byte, contentType string) error {
	if contentType != "image/png" || len(body) == 0 {
		return fmt.Errorf("bad upload %s %q", contentType, body)
	}
	if f.failKey != "" && strings.Contains(key, f.failKey) {
		return errors.New("bucket unavailable")
	}
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeUploader) StorageKey(key string) string { return "s3://bucket/" + key }

func newTestExtractor(pages *fakePages, up *fakeUploader) *Extractor {
	return NewExtractor(pages, up, ExtractorConfig{JobID: "job-1", Prefix: "/crops/"})
}

func TestExtractAndUploadCapsPerType(t *testing.T) {
	pages := &fakePages{size: bbox.Size{Width: 1000, Height: 1000}}
	up := &fakeUploader{}
	var hints []Hint
	for i := 0; i < 10; i++ {
		x := float64(i * 90)
		hints = append(hints, Hint{AssetType: TypeGraph, Source: SourceRawPayloadNode, BBox: &bbox.BBox{X1: x, Y1: 10, X2: x + 50, Y2: 60}})
	}

	got, err := newTestExtractor(pages, up).ExtractAndUpload(context.Background(), 1, 4, "OCR:job-1:P1:I4", hints, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) > 2 || len(up.keys) > 2 {
		t.Fatalf("uploaded %d assets, want at most 2", len(up.keys))
	}
	if up.keys[0] != "crops/job-1/page-0001/candidate-004/01-graph.png" {
		t.Errorf("key = %q", up.keys[0])
	}
	a := got[0]
	if a.StorageKey != "s3://bucket/crops/job-1/page-0001/candidate-004/01-graph.png" || a.PageNo != 1 {
		t.Errorf("asset = %+v", a)
	}
	if a.Metadata.ExternalProblemKey != "OCR:job-1:P1:I4" || a.Metadata.SourceHint != SourceRawPayloadNode || a.Metadata.RenderScale != 2 {
		t.Errorf("metadata = %+v", a.Metadata)
	}
}

func TestExtractAndUploadIsolatesFailures(t *testing.T) {
	pages := &fakePages{size: bbox.Size{Width: 1000, Height: 1000}, failLeftOf: 100}
	up := &fakeUploader{failKey: "-table"}
	hints := []Hint{
		{AssetType: TypeGraph, Source: SourceRawPayloadNode, BBox: &bbox.BBox{X1: 10, Y1: 10, X2: 60, Y2: 60}},
		{AssetType: TypeImage, Source: SourceRawPayloadNode, BBox: &bbox.BBox{X1: 500, Y1: 500, X2: 600, Y2: 600}},
		{AssetType: TypeTable, Source: SourceRawPayloadNode, BBox: &bbox.BBox{X1: 300, Y1: 300, X2: 400, Y2: 400}},
		{AssetType: TypeOther, Source: SourceStatementText},
	}

	got, err := newTestExtractor(pages, up).ExtractAndUpload(context.Background(), 1, 1, "k", hints, nil)
	if err == nil || !strings.Contains(err.Error(), "bucket unavailable") {
		t.Errorf("err = %v, want joined upload error", err)
	}
	if len(got) != 1 || got[0].AssetType != TypeImage {
		t.Fatalf("got %+v", got)
	}
	if len(pages.clips) != 3 {
		t.Errorf("rendered %d clips, want 3", len(pages.clips))
	}
}

func TestExtractAndUploadFallsBackToCandidateBBox(t *testing.T) {
	pages := &fakePages{size: bbox.Size{Width: 600, Height: 800}}
	up := &fakeUploader{}
	candidate := bbox.Ratio{X0: 0.1, Y0: 0.1, X1: 0.5, Y1: 0.5}.BBox()
	hints := []Hint{{AssetType: TypeGraph, Source: SourceStatementText}}

	got, err := newTestExtractor(pages, up).ExtractAndUpload(context.Background(), 1, 2, "k", hints, &candidate)
	if err != nil || len(got) != 1 {
		t.Fatalf("got %+v, %v", got, err)
	}
	clip := pages.clips[0]
	// 240x320 point box padded by 18% per side.
	if clip.X1 >= 60 || clip.X2 <= 300 || clip.Y1 >= 80 || clip.Y2 <= 400 {
		t.Errorf("clip = %+v", clip)
	}
	if got[0].BBox.X0 >= 0.1 || got[0].BBox.X1 <= 0.5 {
		t.Errorf("normalized bbox = %+v", got[0].BBox)
	}
}

func TestExtractAndUploadUnknownPage(t *testing.T) {
	pages := &fakePages{size: bbox.Size{Width: 100, Height: 100}}
	hints := []Hint{{AssetType: TypeImage, Source: SourceRawPayloadNode, BBox: &bbox.BBox{X1: 1, Y1: 1, X2: 50, Y2: 50}}}
	got, err := newTestExtractor(pages, &fakeUploader{}).ExtractAndUpload(context.Background(), 7, 1, "k", hints, nil)
	if err != nil || len(got) != 0 {
		t.Errorf("got %+v, %v", got, err)
	}
}

func TestRenderClip(t *testing.T) {
	pages := &fakePages{size: bbox.Size{Width: 1000, Height: 1000}}
	ex := newTestExtractor(pages, &fakeUploader{})
	ctx := context.Background()
	b := bbox.BBox{X1: 100, Y1: 100, X2: 200, Y2: 200}

	if _, _, ok := ex.RenderClip(ctx, 1, b, TypeImage, 0); !ok {
		t.Fatal("image render failed")
	}
	if _, _, ok := ex.RenderClip(ctx, 1, b, TypeGraph, 0); !ok {
		t.Fatal("graph render failed")
	}
	image, graph := pages.clips[0], pages.clips[1]
	if !(graph.X1 < image.X1 && graph.Y1 < image.Y1 && graph.X2 > image.X2 && graph.Y2 > image.Y2) {
		t.Errorf("graph clip %+v not wider than image clip %+v", graph, image)
	}

	tests := []struct {
		name   string
		pageNo int
		box    bbox.BBox
	}{
		{"invalid page", 0, b},
		{"degenerate box", 1, bbox.BBox{X1: 10, Y1: 10, X2: 10, Y2: 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, ok := ex.RenderClip(ctx, tt.pageNo, tt.box, TypeOther, 0); ok {
				t.Error("expected failure")
			}
		})
	}

	t.Run("empty render", func(t *testing.T) {
		pages.empty = true
		defer func() { pages.empty = false }()
		if _, _, ok := ex.RenderClip(ctx, 1, b, TypeOther, 0); ok {
			t.Error("expected failure for zero-byte render")
		}
	})
}
