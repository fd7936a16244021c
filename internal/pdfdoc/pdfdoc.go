// Package pdfdoc opens a source PDF once per run and rasterizes its pages.
//
// Page geometry comes from pdfcpu. Pixels come from a Rasterizer, which in
// production shells out to poppler's pdftoppm.
package pdfdoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/mathhub/mathhub/internal/bbox"
)

// PointsPerInch converts a render scale into pdftoppm's DPI.
const PointsPerInch = 72.0

var (
	// ErrClosed is returned when rendering from a closed document.
	ErrClosed = errors.New("pdf document is closed")
	// ErrPageRange is returned for a page number outside the document.
	ErrPageRange = errors.New("page out of range")
)

// Document is an opened PDF. It is safe for concurrent reads; Close must be
// called on every exit path.
type Document struct {
	path   string
	owned  bool
	pages  []bbox.Size
	raster Rasterizer

	mu     sync.RWMutex
	closed bool
}

// Open spools data to a temp file, reads page geometry with pdfcpu and
// returns a Document that renders with raster.
func Open(data []byte, raster Rasterizer) (*Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty PDF")
	}
	if raster == nil {
		raster = NewPoppler("")
	}

	pages, err := pageSizes(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp("", "mathhub-source-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to spool PDF: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to spool PDF: %w", err)
	}

	return &Document{path: f.Name(), owned: true, pages: pages, raster: raster}, nil
}

// OpenFile opens a PDF already on disk. The file is not removed on Close.
func OpenFile(path string, raster Rasterizer) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	pages, err := pageSizes(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	if raster == nil {
		raster = NewPoppler("")
	}
	return &Document{path: path, pages: pages, raster: raster}, nil
}

// pageSizes reads each page's crop box as displayed, so a page rotated by 90
// or 270 degrees reports its width and height swapped, as pdftoppm renders it.
func pageSizes(rs io.ReadSeeker) ([]bbox.Size, error) {
	ctx, err := api.ReadAndValidate(rs, model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("failed to read page dimensions: %w", err)
	}
	boundaries, err := ctx.PageBoundaries(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read page dimensions: %w", err)
	}
	pages := make([]bbox.Size, len(boundaries))
	for i, pb := range boundaries {
		box := pb.CropBox()
		pages[i] = displaySize(box.Width(), box.Height(), pb.Rot)
	}
	return pages, nil
}

// displaySize applies a /Rotate angle to an unrotated page size.
func displaySize(width, height float64, rotate int) bbox.Size {
	if rotate = ((rotate % 360) + 360) % 360; rotate == 90 || rotate == 270 {
		width, height = height, width
	}
	return bbox.Size{Width: width, Height: height}
}

// New wraps a file with known page geometry. Used when geometry was read
// elsewhere, and in tests.
func New(path string, pages []bbox.Size, raster Rasterizer) *Document {
	return &Document{path: path, pages: append([]bbox.Size(nil), pages...), raster: raster}
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return len(d.pages)
}

// PageSize returns the point size of a 1-based page.
func (d *Document) PageSize(pageNo int) (bbox.Size, bool) {
	if pageNo < 1 || pageNo > len(d.pages) {
		return bbox.Size{}, false
	}
	return d.pages[pageNo-1], true
}

// RenderPage rasterizes a whole page to PNG at scale (1.0 = 72 DPI).
func (d *Document) RenderPage(ctx context.Context, pageNo int, scale float64) ([]byte, error) {
	return d.render(ctx, pageNo, scale, nil)
}

// RenderClip rasterizes a point-space rectangle of a page to PNG.
func (d *Document) RenderClip(ctx context.Context, pageNo int, clip bbox.BBox, scale float64) ([]byte, error) {
	if !clip.Valid() {
		return nil, fmt.Errorf("invalid clip %s", clip.Key())
	}
	return d.render(ctx, pageNo, scale, &clip)
}

func (d *Document) render(ctx context.Context, pageNo int, scale float64, clip *bbox.BBox) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	if _, ok := d.PageSize(pageNo); !ok {
		return nil, fmt.Errorf("page %d of %d: %w", pageNo, len(d.pages), ErrPageRange)
	}
	if scale <= 0 {
		scale = 1
	}
	return d.raster.Render(ctx, d.path, pageNo, scale, clip)
}

// Close releases the document. Closing twice is a no-op.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.owned {
		if err := os.Remove(d.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove spooled PDF: %w", err)
		}
	}
	return nil
}
