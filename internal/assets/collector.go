// Package assets finds the graphs, tables and images that belong to a problem
// candidate and turns them into stored PNG crops.
package assets

import (
	"regexp"
	"sort"
	"strings"

	"github.com/mathhub/mathhub/internal/bbox"
	"github.com/mathhub/mathhub/internal/layout"
)

// Asset types.
const (
	TypeImage = "image"
	TypeTable = "table"
	TypeGraph = "graph"
	TypeOther = "other"
)

// Hint sources, which also decide trust ranking in Select.
const (
	SourceStatementText          = "statement_text"
	SourceRawPayloadNode         = "raw_payload_node"
	SourceRawPayloadText         = "raw_payload_text"
	SourceAICandidateType        = "ai_candidate_type"
	SourceAICandidateVisualAsset = "ai_candidate_visual_asset"
	SourceStatementFallback      = "statement_text_bbox_fallback"
)

// minNodeOverlap is the share of a node hint's own area that must fall inside
// the candidate bbox for the hint to be attributed to the candidate.
const minNodeOverlap = 0.15

// NormalizeType folds a free-form asset type into one of the four known types.
func NormalizeType(t string) string {
	switch t = strings.ToLower(strings.TrimSpace(t)); t {
	case TypeImage, TypeTable, TypeGraph:
		return t
	}
	return TypeOther
}

// Hint is one piece of evidence that a visual asset belongs to a candidate.
type Hint struct {
	AssetType string     `json:"asset_type"`
	Source    string     `json:"source"`
	BBox      *bbox.BBox `json:"bbox,omitempty"`
	Evidence  []string   `json:"evidence,omitempty"`
}

func (h Hint) key() string {
	b := "-"
	if h.BBox != nil {
		b = h.BBox.Key()
	}
	return h.AssetType + "|" + h.Source + "|" + b + "|" + strings.Join(h.Evidence, ",")
}

// DeclaredAsset is a visual asset an upstream classifier located on the page.
type DeclaredAsset struct {
	AssetType string
	BBox      bbox.BBox
}

// CandidateMeta carries the classifier's view of a candidate's visual assets.
type CandidateMeta struct {
	VisualAssetTypes []string
	VisualAssets     []DeclaredAsset
}

// Keywords is the immutable keyword table for statement and page text.
type Keywords struct {
	order []string
	terms map[string][]keywordTerm
}

type keywordTerm struct {
	word string
	re   *regexp.Regexp
}

// DefaultKeywords returns the Korean and English keyword table.
func DefaultKeywords() Keywords {
	return NewKeywords(map[string][]string{
		TypeGraph: {
			"그래프", "좌표평면", "곡선",
			"graph", "plot", "chart", "axis",
		},
		TypeTable: {
			"다음 표", "표는", "표를", "표에서", "표와", "도수분포표", "분할표",
			"table",
		},
		TypeImage: {
			"그림", "도형", "사진", "전개도",
			"figure", "image", "diagram", "picture",
		},
	})
}

// NewKeywords builds a keyword table. ASCII terms match whole words, case
// insensitively; other terms match as substrings.
func NewKeywords(byType map[string][]string) Keywords {
	kw := Keywords{terms: make(map[string][]keywordTerm)}
	for _, t := range []string{TypeGraph, TypeTable, TypeImage} {
		words, ok := byType[t]
		if !ok {
			continue
		}
		kw.order = append(kw.order, t)
		for _, w := range words {
			term := keywordTerm{word: w}
			if isASCII(w) {
				term.re = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `s?\b`)
			}
			kw.terms[t] = append(kw.terms[t], term)
		}
	}
	return kw
}

// Match returns, per asset type in priority order, the keywords found in text.
func (k Keywords) Match(text string) map[string][]string {
	out := make(map[string][]string)
	if strings.TrimSpace(text) == "" {
		return out
	}
	for _, t := range k.order {
		for _, term := range k.terms[t] {
			found := false
			if term.re != nil {
				found = term.re.MatchString(text)
			} else {
				found = strings.Contains(text, term.word)
			}
			if found {
				out[t] = append(out[t], term.word)
			}
		}
	}
	return out
}

// Types returns the asset types in priority order.
func (k Keywords) Types() []string {
	return append([]string(nil), k.order...)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// Collector gathers asset hints for candidates.
type Collector struct {
	keywords Keywords
	types    layout.NodeTypes
}

// NewCollector builds a Collector from explicit tables.
func NewCollector(keywords Keywords, types layout.NodeTypes) *Collector {
	return &Collector{keywords: keywords, types: types}
}

// DefaultCollector returns a Collector with the production tables.
func DefaultCollector() *Collector {
	return NewCollector(DefaultKeywords(), layout.DefaultNodeTypes())
}

// Collect returns the deduplicated hints for one candidate.
//
// nodes is the page's layout tree and may be empty. candidate is the
// candidate's bbox in the same space as the node boxes, or nil. meta is the
// upstream classifier's view of the candidate, or nil.
func (c *Collector) Collect(statement string, nodes []layout.Node, candidate *bbox.BBox, meta *CandidateMeta) []Hint {
	var qualified []Hint

	for _, n := range nodes {
		if !n.HasBBox {
			continue
		}
		t := c.types.AssetType(n)
		if t == "" {
			continue
		}
		if candidate != nil && bbox.OverlapRatio(n.BBox, *candidate) < minNodeOverlap {
			continue
		}
		b := n.BBox
		evidence := []string{"node:" + n.ID}
		if n.Type != "" {
			evidence = append(evidence, "type:"+n.Type)
		}
		qualified = append(qualified, Hint{AssetType: t, Source: SourceRawPayloadNode, BBox: &b, Evidence: evidence})
	}

	var declared []Hint
	if meta != nil {
		for _, t := range meta.VisualAssetTypes {
			declared = append(declared, Hint{
				AssetType: NormalizeType(t),
				Source:    SourceAICandidateType,
				BBox:      cloneBox(candidate),
				Evidence:  []string{"visual_asset_types"},
			})
		}
		for _, a := range meta.VisualAssets {
			b, ok := declaredBox(a.BBox, candidate)
			if !ok {
				continue
			}
			qualified = append(qualified, Hint{
				AssetType: NormalizeType(a.AssetType),
				Source:    SourceAICandidateVisualAsset,
				BBox:      &b,
				Evidence:  []string{"visual_assets"},
			})
		}
	}

	hasQualified := make(map[string]bool)
	for _, h := range qualified {
		hasQualified[h.AssetType] = true
	}

	hints := append([]Hint(nil), qualified...)
	matched := c.keywords.Match(statement)
	for _, t := range c.keywords.order {
		words := matched[t]
		if len(words) == 0 || hasQualified[t] {
			continue
		}
		hints = append(hints, Hint{
			AssetType: t,
			Source:    SourceStatementText,
			BBox:      cloneBox(candidate),
			Evidence:  words,
		})
	}
	if len(matched[TypeGraph]) > 0 && !hasQualified[TypeGraph] && candidate != nil {
		hints = append(hints, Hint{
			AssetType: TypeGraph,
			Source:    SourceStatementFallback,
			BBox:      cloneBox(candidate),
			Evidence:  matched[TypeGraph],
		})
	}
	hints = append(hints, declared...)

	if len(qualified) == 0 && len(nodes) > 0 {
		pageText := c.payloadText(nodes)
		pageMatched := c.keywords.Match(pageText)
		for _, t := range c.keywords.order {
			if words := pageMatched[t]; len(words) > 0 {
				hints = append(hints, Hint{AssetType: t, Source: SourceRawPayloadText, Evidence: words})
			}
		}
	}

	return dedup(hints)
}

// payloadText joins every node's text, visual nodes included.
func (c *Collector) payloadText(nodes []layout.Node) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Text != "" {
			parts = append(parts, n.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// declaredBox places a classifier-declared box. When both boxes are ratios
// the declared box is relative to the candidate and is rescaled into it.
func declaredBox(declared bbox.BBox, candidate *bbox.BBox) (bbox.BBox, bool) {
	if !declared.Valid() {
		return bbox.BBox{}, false
	}
	if candidate == nil || !isRatio(declared) || !isRatio(*candidate) {
		return declared, true
	}
	w, h := candidate.Width(), candidate.Height()
	out := bbox.BBox{
		X1:    candidate.X1 + declared.X1*w,
		Y1:    candidate.Y1 + declared.Y1*h,
		X2:    candidate.X1 + declared.X2*w,
		Y2:    candidate.Y1 + declared.Y2*h,
		Ratio: candidate.Ratio,
	}
	return out, out.Valid()
}

func isRatio(b bbox.BBox) bool {
	return b.Ratio || b.InUnitSquare()
}

func cloneBox(b *bbox.BBox) *bbox.BBox {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

func dedup(hints []Hint) []Hint {
	seen := make(map[string]bool, len(hints))
	out := make([]Hint, 0, len(hints))
	for _, h := range hints {
		k := h.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, h)
	}
	return out
}

// Selection caps.
const (
	maxSelected = 6
	maxPerType  = 2
)

var sourcePriority = map[string]int{
	SourceRawPayloadNode:         6,
	SourceAICandidateVisualAsset: 5,
	SourceStatementFallback:      4,
	SourceAICandidateType:        3,
	SourceStatementText:          2,
	SourceRawPayloadText:         1,
}

// Select ranks hints by (has bbox, source priority, area) and keeps at most
// six, with at most two per asset type. Hints that would render the same
// crop as an already selected hint are dropped.
func Select(hints []Hint) []Hint {
	ranked := make([]Hint, len(hints))
	copy(ranked, hints)
	for i := range ranked {
		ranked[i].AssetType = NormalizeType(ranked[i].AssetType)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if (a.BBox != nil) != (b.BBox != nil) {
			return a.BBox != nil
		}
		pa, pb := priority(a.Source), priority(b.Source)
		if pa != pb {
			return pa > pb
		}
		return hintArea(a) > hintArea(b)
	})

	perType := make(map[string]int)
	crops := make(map[string]bool)
	var out []Hint
	for _, h := range ranked {
		if perType[h.AssetType] >= maxPerType {
			continue
		}
		if h.BBox != nil {
			crop := h.AssetType + "|" + h.BBox.Key()
			if crops[crop] {
				continue
			}
			crops[crop] = true
		}
		out = append(out, h)
		perType[h.AssetType]++
		if len(out) >= maxSelected {
			break
		}
	}
	return out
}

func priority(source string) int {
	return sourcePriority[source]
}

func hintArea(h Hint) float64 {
	if h.BBox == nil {
		return 0
	}
	return bbox.Area(*h.BBox)
}
