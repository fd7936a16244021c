package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mathhub/mathhub/internal/assets"
	"github.com/mathhub/mathhub/internal/layout"
	"github.com/mathhub/mathhub/internal/objstore"
	"github.com/mathhub/mathhub/internal/store"
)

// PreviewURLExpiry bounds the presigned URLs of previewed assets.
const PreviewURLExpiry = 30 * time.Minute

// AssetPreview is a stored asset of a previewed candidate.
type AssetPreview struct {
	AssetType  string         `json:"asset_type" yaml:"asset_type"`
	StorageKey string         `json:"storage_key" yaml:"storage_key"`
	PreviewURL string         `json:"preview_url,omitempty" yaml:"preview_url,omitempty"`
	PageNo     int            `json:"page_no" yaml:"page_no"`
	BBox       map[string]any `json:"bbox,omitempty" yaml:"bbox,omitempty"`
}

// PreviewItem is one segmented candidate of a stored OCR page.
type PreviewItem struct {
	PageID         string         `json:"page_id" yaml:"page_id"`
	PageNo         int            `json:"page_no" yaml:"page_no"`
	CandidateNo    int            `json:"candidate_no" yaml:"candidate_no"`
	CandidateIndex int            `json:"candidate_index" yaml:"candidate_index"`
	CandidateKey   string         `json:"candidate_key" yaml:"candidate_key"`
	ExternalKey    string         `json:"external_problem_key" yaml:"external_problem_key"`
	SplitStrategy  string         `json:"split_strategy" yaml:"split_strategy"`
	StatementText  string         `json:"statement_text" yaml:"statement_text"`
	HasVisualAsset bool           `json:"has_visual_asset" yaml:"has_visual_asset"`
	AssetTypes     []string       `json:"asset_types" yaml:"asset_types"`
	Hints          []assets.Hint  `json:"asset_hints,omitempty" yaml:"asset_hints,omitempty"`
	Assets         []AssetPreview `json:"asset_previews,omitempty" yaml:"asset_previews,omitempty"`
}

// PreviewPage segments a stored OCR page and collects asset hints for each
// candidate. Candidates without statement text are left out.
func PreviewPage(jobID string, page store.Page, seg *layout.Segmenter, collector *assets.Collector) []PreviewItem {
	text := ""
	if page.Text != nil {
		text = strings.TrimSpace(*page.Text)
	}
	if text == "" && page.Latex != nil {
		text = strings.TrimSpace(*page.Latex)
	}
	nodes, size := layout.ParseNodes(page.RawPayload)

	var items []PreviewItem
	for i, c := range seg.Segment(text, nodes, size) {
		statement := strings.TrimSpace(c.StatementText)
		if statement == "" {
			continue
		}
		candidateNo := c.CandidateNo
		if candidateNo <= 0 {
			candidateNo = i + 1
		}
		strategy := c.SplitStrategy
		if strategy == "" {
			strategy = "numbered"
		}
		hints := collector.Collect(statement, nodes, c.BBox, nil)

		types := []string{}
		for _, h := range hints {
			if !slices.Contains(types, h.AssetType) {
				types = append(types, h.AssetType)
			}
		}
		slices.Sort(types)

		items = append(items, PreviewItem{
			PageID:         page.ID,
			PageNo:         page.PageNo,
			CandidateNo:    candidateNo,
			CandidateIndex: i + 1,
			CandidateKey:   fmt.Sprintf("P%d-C%d", page.PageNo, candidateNo),
			ExternalKey:    ExternalKey(jobID, page.PageNo, i+1),
			SplitStrategy:  strategy,
			StatementText:  statement,
			HasVisualAsset: len(types) > 0,
			AssetTypes:     types,
			Hints:          hints,
		})
	}
	return items
}

// Preview segments every stored page of jobID and attaches the assets
// already materialized for each candidate.
func (r *Runner) Preview(ctx context.Context, jobID string) ([]PreviewItem, error) {
	if _, err := r.cfg.Store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	pages, err := r.cfg.Store.ListPages(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var items []PreviewItem
	for _, page := range pages {
		for _, item := range PreviewPage(jobID, page, r.segmenter, r.collector) {
			previews, err := r.assetPreviews(ctx, item.ExternalKey)
			if err != nil {
				return nil, err
			}
			for _, p := range previews {
				if !slices.Contains(item.AssetTypes, p.AssetType) {
					item.AssetTypes = append(item.AssetTypes, p.AssetType)
				}
			}
			slices.Sort(item.AssetTypes)
			item.Assets = previews
			item.HasVisualAsset = len(item.AssetTypes) > 0 || len(previews) > 0
			items = append(items, item)
		}
	}
	return items, nil
}

func (r *Runner) assetPreviews(ctx context.Context, externalKey string) ([]AssetPreview, error) {
	problem, err := r.cfg.Store.GetProblem(ctx, externalKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stored, err := r.cfg.Store.ListAssets(ctx, problem.ID)
	if err != nil {
		return nil, err
	}

	previews := make([]AssetPreview, 0, len(stored))
	for _, a := range stored {
		assetType := a.AssetType
		if assetType == "" {
			assetType = assets.TypeOther
		}
		previews = append(previews, AssetPreview{
			AssetType:  assetType,
			StorageKey: a.StorageKey,
			PreviewURL: r.previewURL(ctx, a.StorageKey),
			PageNo:     a.PageNo,
			BBox:       a.BBox,
		})
	}
	return previews, nil
}

// previewURL presigns storageKey when it lives in the configured bucket.
// Any failure yields "".
func (r *Runner) previewURL(ctx context.Context, storageKey string) string {
	if r.cfg.Objects == nil {
		return ""
	}
	bucket, key, err := objstore.ParseStorageKey(storageKey)
	if err != nil || bucket != r.cfg.Objects.Bucket() {
		return ""
	}
	u, err := r.cfg.Objects.PresignGet(ctx, key, PreviewURLExpiry)
	if err != nil {
		r.logger.Debug("presign failed", "storage_key", storageKey, "error", err)
		return ""
	}
	return u
}
