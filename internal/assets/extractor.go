package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mathhub/mathhub/internal/bbox"
)

// DefaultPrefix is the object key prefix when none is configured.
const DefaultPrefix = "ocr-assets"

// DefaultRenderScale renders crops at 144 DPI.
const DefaultRenderScale = 2.0

// PageRenderer is the part of an opened PDF the extractor needs.
type PageRenderer interface {
	PageSize(pageNo int) (bbox.Size, bool)
	RenderClip(ctx context.Context, pageNo int, clip bbox.BBox, scale float64) ([]byte, error)
}

// Uploader stores rendered crops.
type Uploader interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	StorageKey(key string) string
}

// ExtractedAsset is one rendered and stored crop.
type ExtractedAsset struct {
	AssetType  string        `json:"asset_type"`
	StorageKey string        `json:"storage_key"`
	PageNo     int           `json:"page_no"`
	BBox       bbox.Ratio    `json:"bbox"`
	Metadata   AssetMetadata `json:"metadata"`
}

// AssetMetadata records where an extracted asset came from.
type AssetMetadata struct {
	SourceHint         string   `json:"source_hint"`
	Evidence           []string `json:"evidence,omitempty"`
	ExternalProblemKey string   `json:"external_problem_key"`
	RenderScale        float64  `json:"render_scale"`
}

// ExtractorConfig configures an Extractor.
type ExtractorConfig struct {
	JobID       string
	Prefix      string
	RenderScale float64
	// Policy overrides the clip padding table.
	Policy *bbox.Policy
	Logger *slog.Logger
}

// Extractor renders hint regions of one opened document and uploads them.
// It is not safe for concurrent use.
type Extractor struct {
	doc    PageRenderer
	store  Uploader
	jobID  string
	prefix string
	scale  float64
	policy bbox.Policy
	logger *slog.Logger
}

// NewExtractor returns an Extractor for doc.
func NewExtractor(doc PageRenderer, store Uploader, cfg ExtractorConfig) *Extractor {
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	scale := cfg.RenderScale
	if scale <= 0 {
		scale = DefaultRenderScale
	}
	policy := bbox.DefaultPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		doc:    doc,
		store:  store,
		jobID:  cfg.JobID,
		prefix: prefix,
		scale:  scale,
		policy: policy,
		logger: logger.With("job_id", cfg.JobID),
	}
}

// RenderClip resolves b into the page's point space, applies the asset
// type's padding policy and rasterizes the result. It reports false for an
// unknown page, a degenerate box or an empty render.
func (e *Extractor) RenderClip(ctx context.Context, pageNo int, b bbox.BBox, assetType string, scale float64) ([]byte, bbox.Ratio, bool) {
	page, ok := e.doc.PageSize(pageNo)
	if !ok {
		return nil, bbox.Ratio{}, false
	}
	canon, ok := bbox.ToCanonical(b, page)
	if !ok {
		return nil, bbox.Ratio{}, false
	}
	clip, ok := e.policy.PadAndFloorSize(canon, assetType, page)
	if !ok {
		return nil, bbox.Ratio{}, false
	}
	if scale <= 0 {
		scale = e.scale
	}
	body, err := e.doc.RenderClip(ctx, pageNo, clip, scale)
	if err != nil {
		e.logger.Debug("clip render failed", "page", pageNo, "asset_type", assetType, "error", err)
		return nil, bbox.Ratio{}, false
	}
	if len(body) == 0 {
		return nil, bbox.Ratio{}, false
	}
	return body, bbox.Normalize(clip, page), true
}

// ObjectKey is the deterministic key of one extracted asset.
func (e *Extractor) ObjectKey(pageNo, candidateNo, idx int, assetType string) string {
	return fmt.Sprintf("%s/%s/page-%04d/candidate-%03d/%02d-%s.png",
		e.prefix, e.jobID, pageNo, candidateNo, idx, assetType)
}

// ExtractAndUpload renders and stores the selected hints of one candidate.
//
// Hints without their own bbox fall back to candidate; hints with neither are
// skipped. A failed render or upload skips only that hint. Upload failures
// are returned joined, alongside the assets that did succeed.
func (e *Extractor) ExtractAndUpload(ctx context.Context, pageNo, candidateNo int, externalKey string, hints []Hint, candidate *bbox.BBox) ([]ExtractedAsset, error) {
	if _, ok := e.doc.PageSize(pageNo); !ok {
		return nil, nil
	}

	var (
		out  []ExtractedAsset
		errs []error
	)
	for i, h := range Select(hints) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		region := h.BBox
		if region == nil {
			region = candidate
		}
		if region == nil {
			continue
		}
		body, ratio, ok := e.RenderClip(ctx, pageNo, *region, h.AssetType, e.scale)
		if !ok {
			continue
		}

		key := e.ObjectKey(pageNo, candidateNo, i+1, h.AssetType)
		if err := e.store.Put(ctx, key, body, "image/png"); err != nil {
			e.logger.Warn("asset upload failed", "key", key, "error", err)
			errs = append(errs, fmt.Errorf("upload %s: %w", key, err))
			continue
		}
		out = append(out, ExtractedAsset{
			AssetType:  h.AssetType,
			StorageKey: e.store.StorageKey(key),
			PageNo:     pageNo,
			BBox:       ratio,
			Metadata: AssetMetadata{
				SourceHint:         h.Source,
				Evidence:           h.Evidence,
				ExternalProblemKey: externalKey,
				RenderScale:        e.scale,
			},
		})
	}
	return out, errors.Join(errs...)
}
