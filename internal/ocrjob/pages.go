package ocrjob

import (
	"sort"
	"strings"

	"github.com/mathhub/mathhub/internal/jsonx"
)

// StatusPageKey holds the status-endpoint payload inside a merged page.
const StatusPageKey = "_mathpix_status_page"

// Page is the OCR text of one PDF page.
type Page struct {
	PageNo int            `json:"page_no"`
	Text   string         `json:"extracted_text,omitempty"`
	Latex  string         `json:"extracted_latex,omitempty"`
	Raw    map[string]any `json:"raw_payload"`
}

var (
	textKeys  = []string{"text", "markdown", "md", "content", "html", "latex_styled", "latex"}
	latexKeys = []string{"latex_styled", "latex"}
)

// ExtractPages reads the page list of a status payload. It prefers `pages`,
// then `line_data`, then a top-level `text`.
func ExtractPages(status map[string]any) []Page {
	if items, ok := status["pages"].([]any); ok {
		var pages []Page
		for idx, v := range items {
			item, ok := v.(map[string]any)
			if !ok {
				continue
			}
			pages = append(pages, Page{
				PageNo: pageNumber(item, idx),
				Text:   jsonx.FirstString(item, textKeys...),
				Latex:  jsonx.FirstString(item, latexKeys...),
				Raw:    item,
			})
		}
		return pages
	}

	if lineData, ok := status["line_data"].([]any); ok {
		return []Page{{
			PageNo: 1,
			Text:   joinLineText(lineData),
			Raw:    map[string]any{"line_data": lineData},
		}}
	}

	if text, ok := status["text"].(string); ok && strings.TrimSpace(text) != "" {
		return []Page{{
			PageNo: 1,
			Text:   strings.TrimSpace(text),
			Raw:    map[string]any{"text": text},
		}}
	}
	return nil
}

// ExtractLinePages reads a `.lines.json` payload. Each page keeps its full
// line list, with geometry, as the raw payload.
func ExtractLinePages(lines map[string]any) []Page {
	items, _ := lines["pages"].([]any)
	var pages []Page
	for idx, v := range items {
		item, ok := v.(map[string]any)
		if !ok {
			continue
		}
		lineList, _ := item["lines"].([]any)
		pages = append(pages, Page{
			PageNo: pageNumber(item, idx),
			Text:   joinLineText(lineList),
			Raw:    item,
		})
	}
	return pages
}

func pageNumber(item map[string]any, idx int) int {
	for _, k := range []string{"page", "page_no", "number"} {
		if jsonx.Truthy(item[k]) {
			if n, ok := jsonx.Int(item[k]); ok {
				return n
			}
			return idx + 1
		}
	}
	return idx + 1
}

func joinLineText(lines []any) string {
	var parts []string
	for _, v := range lines {
		line, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := line["text"].(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// MergePages combines status-endpoint pages with line-endpoint pages by
// page number. The line payload is the base; status fields it lacks are
// copied in and the whole status payload is kept under StatusPageKey. Text
// and latex come from the line page unless it has none. With no line pages
// the status pages are returned as is.
func MergePages(statusPages, linePages []Page) []Page {
	if len(linePages) == 0 {
		return statusPages
	}

	byNo := make(map[int]Page, len(statusPages)+len(linePages))
	for _, p := range statusPages {
		byNo[p.PageNo] = p
	}
	for _, line := range linePages {
		status, ok := byNo[line.PageNo]
		if !ok {
			byNo[line.PageNo] = line
			continue
		}
		byNo[line.PageNo] = mergePage(status, line)
	}

	out := make([]Page, 0, len(byNo))
	for _, p := range byNo {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNo < out[j].PageNo })
	return out
}

func mergePage(status, line Page) Page {
	raw := jsonx.Clone(line.Raw)
	for k, v := range status.Raw {
		if _, ok := raw[k]; !ok {
			raw[k] = v
		}
	}
	if status.Raw != nil {
		raw[StatusPageKey] = status.Raw
	}

	merged := Page{PageNo: line.PageNo, Text: line.Text, Latex: line.Latex, Raw: raw}
	if merged.Text == "" {
		merged.Text = status.Text
	}
	if merged.Latex == "" {
		merged.Latex = status.Latex
	}
	return merged
}
