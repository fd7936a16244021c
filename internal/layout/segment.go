package layout

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mathhub/mathhub/internal/bbox"
)

// Candidate is one detected problem region on a page. CandidateNo is
// page-local and may repeat across pages; storage identity must use the
// candidate's index on the page instead.
type Candidate struct {
	CandidateNo   int        `json:"candidate_no"`
	StatementText string     `json:"statement_text"`
	BBox          *bbox.BBox `json:"bbox,omitempty"`
	SplitStrategy string     `json:"split_strategy"`
	LayoutColumn  *int       `json:"layout_column,omitempty"`
	LayoutMode    string     `json:"layout_mode,omitempty"`
}

// Layout modes reported on structural candidates.
const (
	LayoutSingleColumn = "single_column"
	LayoutTwoColumn    = "two_column"
)

const (
	// columnGapRatio is the minimum gap between region centers, as a
	// fraction of page width, that splits a page into two columns.
	columnGapRatio = 0.14
	// numberRows is how many leading rows of a region are searched for its
	// problem number.
	numberRows = 8
)

// Segmenter splits a page into problem candidates. A Segmenter is immutable
// and safe for concurrent use.
type Segmenter struct {
	strategies  []Strategy
	rowPatterns []*regexp.Regexp
	types       NodeTypes
}

// New builds a Segmenter from explicit pattern and node-type tables.
func New(strategies []Strategy, rowPatterns []*regexp.Regexp, types NodeTypes) *Segmenter {
	return &Segmenter{
		strategies:  append([]Strategy(nil), strategies...),
		rowPatterns: append([]*regexp.Regexp(nil), rowPatterns...),
		types:       types,
	}
}

// Default returns a Segmenter with the production tables.
func Default() *Segmenter {
	return New(DefaultStrategies(), DefaultRowPatterns(), DefaultNodeTypes())
}

// Types returns the node-type table the segmenter skips visual nodes with.
func (s *Segmenter) Types() NodeTypes {
	return s.types
}

// SegmentPayload parses a raw OCR page payload and segments it.
func (s *Segmenter) SegmentPayload(text string, payload map[string]any) []Candidate {
	nodes, page := ParseNodes(payload)
	return s.Segment(text, nodes, page)
}

// Segment returns the page's candidates in reading order.
//
// A usable layout tree is segmented structurally. Otherwise the text is split
// by the best scoring numbering strategy; when nodes exist the text view of
// their non-visual nodes is used in place of the raw OCR text. Empty input
// yields no candidates.
func (s *Segmenter) Segment(text string, nodes []Node, page bbox.Size) []Candidate {
	if cands := s.structural(nodes, page); len(cands) > 0 {
		return cands
	}
	view := ""
	if len(nodes) > 0 {
		view = s.types.TextView(nodes)
	}
	if view == "" {
		view = text
	}
	return s.byPattern(view)
}

func (s *Segmenter) byPattern(text string) []Candidate {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	best, ok := BestStrategy(s.strategies, text)
	if ok {
		if cands := splitByScore(text, best); len(cands) > 0 {
			return cands
		}
	}
	return []Candidate{{
		CandidateNo:   1,
		StatementText: text,
		SplitStrategy: StrategyFullPageFallback,
	}}
}

// region is a root column node with its collected statement.
type region struct {
	text    string
	box     bbox.BBox
	hasBox  bool
	no      int
	column  int
	choices int
}

func (s *Segmenter) structural(nodes []Node, page bbox.Size) []Candidate {
	if len(nodes) < 3 {
		return nil
	}
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if _, dup := byID[n.ID]; !dup {
			byID[n.ID] = n
		}
	}

	var regions []region
	for _, n := range nodes {
		if n.Type != "column" || len(n.Children) == 0 {
			continue
		}
		if r, ok := s.collectRegion(n, byID); ok {
			regions = append(regions, r)
		}
	}
	if len(regions) == 0 {
		return nil
	}

	width := page.Width
	if width <= 0 {
		for _, n := range nodes {
			if n.HasBBox {
				width = max(width, n.BBox.X2)
			}
		}
	}
	mode := assignColumns(regions, width)
	sortRegions(regions, mode)

	out := make([]Candidate, 0, len(regions))
	for i, r := range regions {
		c := Candidate{
			CandidateNo:   r.no,
			StatementText: r.text,
			SplitStrategy: StrategyStructural,
			LayoutMode:    mode,
		}
		if c.CandidateNo <= 0 {
			c.CandidateNo = i + 1
		}
		if r.hasBox {
			box := r.box
			if page.Valid() && box.SourceWidth == 0 {
				box.SourceWidth, box.SourceHeight = page.Width, page.Height
			}
			c.BBox = &box
			col := r.column
			c.LayoutColumn = &col
		}
		out = append(out, c)
	}
	return out
}

// collectRegion walks root's descendants breadth-first and joins the text of
// its non-visual nodes in reading order. A region needs text or at least one
// choice block to be usable.
func (s *Segmenter) collectRegion(root Node, byID map[string]Node) (region, bool) {
	visited := map[string]bool{root.ID: true}
	queue := append([]string(nil), root.Children...)
	var textNodes []Node
	r := region{box: root.BBox, hasBox: root.HasBBox}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		n, ok := byID[id]
		if !ok {
			continue
		}
		queue = append(queue, n.Children...)

		if !root.HasBBox && n.HasBBox {
			r.box = bbox.Union(r.box, n.BBox)
			r.hasBox = r.box.Valid()
		}
		if isChoiceBlock(n) {
			r.choices++
		}
		if n.Text == "" || s.types.IsVisual(n) {
			continue
		}
		textNodes = append(textNodes, n)
	}

	readingOrder(textNodes)
	rows := make([]string, 0, len(textNodes))
	for _, n := range textNodes {
		rows = append(rows, n.Text)
	}
	r.text = strings.TrimSpace(strings.Join(rows, "\n"))
	if r.text == "" && r.choices == 0 {
		return region{}, false
	}
	r.no = s.rowNumber(rows)
	return r, true
}

// isChoiceBlock reports whether n holds a question's answer choices, such as
// Mathpix "multiple_choice_block" nodes.
func isChoiceBlock(n Node) bool {
	return strings.Contains(n.Type, "choice") || strings.Contains(n.Subtype, "choice")
}

// rowNumber reads the problem number off the first rows, or returns 0.
func (s *Segmenter) rowNumber(rows []string) int {
	for i, row := range rows {
		if i >= numberRows {
			break
		}
		for _, p := range s.rowPatterns {
			m := p.FindStringSubmatch(row)
			if len(m) < 2 {
				continue
			}
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

// assignColumns clusters region centers into one or two columns and returns
// the layout mode. Columns are numbered from 1.
func assignColumns(regions []region, pageWidth float64) string {
	var centers []float64
	for _, r := range regions {
		if r.hasBox {
			cx, _ := r.box.Center()
			centers = append(centers, cx)
		}
	}
	split, two := columnSplit(centers, pageWidth)
	for i := range regions {
		if !regions[i].hasBox {
			continue
		}
		regions[i].column = 1
		if cx, _ := regions[i].box.Center(); two && cx > split {
			regions[i].column = 2
		}
	}
	if two {
		return LayoutTwoColumn
	}
	return LayoutSingleColumn
}

// columnSplit finds the largest gap between sorted centers. It reports a two
// column layout when that gap is at least columnGapRatio of the page width.
func columnSplit(centers []float64, pageWidth float64) (float64, bool) {
	if len(centers) < 2 || pageWidth <= 0 {
		return 0, false
	}
	sorted := append([]float64(nil), centers...)
	sort.Float64s(sorted)
	gap, split := 0.0, 0.0
	for i := 1; i < len(sorted); i++ {
		if d := sorted[i] - sorted[i-1]; d > gap {
			gap, split = d, (sorted[i]+sorted[i-1])/2
		}
	}
	return split, gap >= columnGapRatio*pageWidth
}

func sortRegions(regions []region, mode string) {
	sort.SliceStable(regions, func(i, j int) bool {
		a, b := regions[i], regions[j]
		if a.hasBox != b.hasBox {
			return a.hasBox
		}
		if !a.hasBox {
			return false
		}
		if mode == LayoutTwoColumn && a.column != b.column {
			return a.column < b.column
		}
		if a.box.Y1 != b.box.Y1 {
			return a.box.Y1 < b.box.Y1
		}
		return a.box.X1 < b.box.X1
	})
}
