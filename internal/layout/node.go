// Package layout turns one page of OCR output into ordered problem candidates.
package layout

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mathhub/mathhub/internal/bbox"
	"github.com/mathhub/mathhub/internal/jsonx"
)

// Node is one region of the OCR engine's structural tree for a page.
type Node struct {
	ID       string
	Type     string
	Subtype  string
	Text     string
	BBox     bbox.BBox
	HasBBox  bool
	Children []string

	// Raw keeps the provider object for free-text type inference.
	Raw map[string]any
}

// ParseNodes reads the layout tree of a page payload.
//
// Nodes come from "lines" (Mathpix lines.json) or "line_data" (Mathpix image
// OCR). The returned Size is the payload's declared page extent and is zero
// when the payload does not declare one. Node boxes carry that extent as
// their source dimensions so they can be rescaled into PDF points later.
func ParseNodes(payload map[string]any) ([]Node, bbox.Size) {
	if payload == nil {
		return nil, bbox.Size{}
	}
	var page bbox.Size
	if w, ok := jsonx.Float(payload["page_width"]); ok {
		page.Width = w
	}
	if h, ok := jsonx.Float(payload["page_height"]); ok {
		page.Height = h
	}

	items := jsonx.Slice(payload["lines"])
	if items == nil {
		items = jsonx.Slice(payload["line_data"])
	}

	nodes := make([]Node, 0, len(items))
	for i, item := range items {
		m := jsonx.Map(item)
		if m == nil {
			continue
		}
		n := Node{
			ID:      jsonx.String(m["id"]),
			Type:    strings.ToLower(jsonx.String(m["type"])),
			Subtype: strings.ToLower(jsonx.String(m["subtype"])),
			Text:    jsonx.FirstString(m, "text", "text_display"),
			Raw:     m,
		}
		if n.ID == "" {
			n.ID = "line-" + strconv.Itoa(i)
		}
		for _, c := range jsonx.Slice(m["children_ids"]) {
			if id := jsonx.String(c); id != "" {
				n.Children = append(n.Children, id)
			}
		}
		for _, key := range []string{"cnt", "bbox", "region"} {
			if b, ok := bbox.Parse(m[key]); ok {
				if page.Valid() && b.SourceWidth == 0 && !b.Ratio {
					b.SourceWidth, b.SourceHeight = page.Width, page.Height
				}
				n.BBox, n.HasBBox = b, true
				break
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, page
}

// NodeTypes decides which layout nodes depict a visual asset.
// A NodeTypes value is immutable once built.
type NodeTypes struct {
	graphTypes    map[string]bool
	graphSubtypes map[string]bool
	// tokens are checked in priority order graph, table, image.
	tokens []typeTokens
}

type typeTokens struct {
	assetType string
	words     map[string]bool
}

// DefaultNodeTypes returns the type table for Mathpix layout trees.
func DefaultNodeTypes() NodeTypes {
	return NewNodeTypes(
		[]string{
			"chart", "legend",
			"axis_label", "x_axis_label", "y_axis_label",
			"axis_tick_label", "x_axis_tick_label", "y_axis_tick_label",
			"chart_info",
		},
		[]string{"line", "scatter", "bar", "column", "area", "pie", "analytical"},
		map[string][]string{
			"graph": {"graph", "chart", "plot", "axis", "legend"},
			"table": {"table", "tabular"},
			"image": {"image", "figure", "picture", "photo", "diagram", "illustration"},
		},
	)
}

// NewNodeTypes builds a NodeTypes table.
func NewNodeTypes(graphTypes, graphSubtypes []string, tokens map[string][]string) NodeTypes {
	nt := NodeTypes{
		graphTypes:    toSet(graphTypes),
		graphSubtypes: toSet(graphSubtypes),
	}
	for _, assetType := range []string{"graph", "table", "image"} {
		if words, ok := tokens[assetType]; ok {
			nt.tokens = append(nt.tokens, typeTokens{assetType: assetType, words: toSet(words)})
		}
	}
	return nt
}

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// typeFields are the node fields scanned for free-text type tokens.
var typeFields = []string{"type", "subtype", "kind", "class", "label", "name", "category"}

// AssetType infers the visual asset type of n, or "" for a text node.
func (t NodeTypes) AssetType(n Node) string {
	if t.graphTypes[n.Type] {
		return "graph"
	}
	if n.Subtype != "" && t.graphSubtypes[n.Subtype] && n.Type != "column" {
		return "graph"
	}

	var words []string
	for _, field := range typeFields {
		var v string
		if n.Raw != nil {
			v = jsonx.String(n.Raw[field])
		}
		switch field {
		case "type":
			v = n.Type
		case "subtype":
			v = n.Subtype
		}
		if v == "" {
			continue
		}
		words = append(words, tokenSplit.Split(strings.ToLower(v), -1)...)
	}
	for _, tt := range t.tokens {
		for _, w := range words {
			if tt.words[w] {
				return tt.assetType
			}
		}
	}
	return ""
}

// IsVisual reports whether n depicts an asset rather than statement text.
func (t NodeTypes) IsVisual(n Node) bool {
	return t.AssetType(n) != ""
}

// readingOrder sorts nodes by (y1, x1). Nodes without a box keep their
// relative order after all boxed nodes.
func readingOrder(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.HasBBox != b.HasBBox {
			return a.HasBBox
		}
		if !a.HasBBox {
			return false
		}
		if a.BBox.Y1 != b.BBox.Y1 {
			return a.BBox.Y1 < b.BBox.Y1
		}
		return a.BBox.X1 < b.BBox.X1
	})
}

// TextView joins the text of non-visual nodes in reading order.
func (t NodeTypes) TextView(nodes []Node) string {
	ordered := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Text == "" || t.IsVisual(n) {
			continue
		}
		ordered = append(ordered, n)
	}
	readingOrder(ordered)
	lines := make([]string, len(ordered))
	for i, n := range ordered {
		lines[i] = n.Text
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = true
	}
	return set
}
