package pdfdoc

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/mathhub/mathhub/internal/bbox"
)

// Rasterizer renders one page, or a point-space clip of it, to PNG.
type Rasterizer interface {
	Render(ctx context.Context, pdfPath string, pageNo int, scale float64, clip *bbox.BBox) ([]byte, error)
}

// Poppler renders with the pdftoppm executable from poppler-utils.
type Poppler struct {
	Binary string
}

// NewPoppler returns a Poppler rasterizer. An empty binary means "pdftoppm"
// on PATH.
func NewPoppler(binary string) *Poppler {
	if binary == "" {
		binary = "pdftoppm"
	}
	return &Poppler{Binary: binary}
}

var _ Rasterizer = (*Poppler)(nil)

// Available reports an error when the pdftoppm executable cannot be found.
func (p *Poppler) Available() error {
	if _, err := exec.LookPath(p.Binary); err != nil {
		return fmt.Errorf("pdftoppm unavailable: %w", err)
	}
	return nil
}

// Render runs pdftoppm for a single page and reads back the PNG.
func (p *Poppler) Render(ctx context.Context, pdfPath string, pageNo int, scale float64, clip *bbox.BBox) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "mathhub-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")
	cmd := exec.CommandContext(ctx, p.Binary, popplerArgs(pdfPath, outputPrefix, pageNo, scale, clip)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	// -singlefile writes <prefix>.png
	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered image: %w", err)
	}
	return data, nil
}

// popplerArgs builds the pdftoppm command line. Crop offsets are in pixels at
// the render resolution, so point coordinates are multiplied by scale.
func popplerArgs(pdfPath, outputPrefix string, pageNo int, scale float64, clip *bbox.BBox) []string {
	page := strconv.Itoa(pageNo)
	dpi := strconv.FormatFloat(PointsPerInch*scale, 'f', -1, 64)
	args := []string{
		"-png",
		"-f", page,
		"-l", page,
		"-r", dpi,
		"-singlefile",
	}
	if clip != nil {
		x := int(math.Floor(clip.X1 * scale))
		y := int(math.Floor(clip.Y1 * scale))
		w := max(1, int(math.Ceil(clip.X2*scale))-x)
		h := max(1, int(math.Ceil(clip.Y2*scale))-y)
		args = append(args,
			"-x", strconv.Itoa(x),
			"-y", strconv.Itoa(y),
			"-W", strconv.Itoa(w),
			"-H", strconv.Itoa(h),
		)
	}
	return append(args, pdfPath, outputPrefix)
}
