package ocrjob

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		name     string
		raw      map[string]any
		status   JobStatus
		progress float64
		errMsg   string
	}{
		{"completed flag", map[string]any{"completed": true, "status": "error"}, StatusCompleted, 100, ""},
		{"completed string", map[string]any{"status": "Done", "percent_done": 10}, StatusCompleted, 100, ""},
		{"fraction", map[string]any{"percent_done": 0.42}, StatusProcessing, 42, ""},
		{"percent", map[string]any{"status": "split", "progress_pct": "63.5"}, StatusProcessing, 63.5, ""},
		{"clamped", map[string]any{"progress": 250}, StatusProcessing, 100, ""},
		{"zero field skipped", map[string]any{"percent_done": 0, "progress": 55}, StatusProcessing, 55, ""},
		{"failed with error", map[string]any{"status": "failed", "error": "x"}, StatusFailed, 0, "x"},
		{"failed default message", map[string]any{"state": "FAILURE", "percent": 30}, StatusFailed, 30, DefaultFailureMessage},
		{"error object", map[string]any{"error": map[string]any{"message": "bad pdf"}}, StatusFailed, 0, "bad pdf"},
		{"error object without message", map[string]any{"error": map[string]any{"id": "e1"}}, StatusFailed, 0, `{"id":"e1"}`},
		{"cancelled", map[string]any{"status": "canceled"}, StatusCancelled, 0, "Mathpix job was cancelled"},
		{"queued", map[string]any{"status": "queued"}, StatusUploading, 0, ""},
		{"unknown", map[string]any{"status": "who-knows"}, StatusProcessing, 0, ""},
		{"empty", map[string]any{}, StatusProcessing, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, progress, msg := MapStatus(tt.raw)
			if status != tt.status || progress != tt.progress || msg != tt.errMsg {
				t.Errorf("MapStatus() = (%s, %v, %q), want (%s, %v, %q)", status, progress, msg, tt.status, tt.progress, tt.errMsg)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{StatusUploading, StatusProcessing, true},
		{StatusUploading, StatusFailed, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusUploading, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusCompleted, false},
		{StatusCancelled, StatusCancelled, true},
		{StatusProcessing, JobStatus("queued"), false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestExtractPages(t *testing.T) {
	t.Run("pages", func(t *testing.T) {
		pages := ExtractPages(map[string]any{"pages": []any{
			map[string]any{"page": 3, "markdown": " 1. 문제 ", "latex_styled": "x"},
			"noise",
			map[string]any{"html": "<p>b</p>"},
		}})
		if len(pages) != 2 {
			t.Fatalf("got %d pages", len(pages))
		}
		if pages[0].PageNo != 3 || pages[0].Text != "1. 문제" || pages[0].Latex != "x" {
			t.Errorf("page 0 = %+v", pages[0])
		}
		if pages[1].PageNo != 3 || pages[1].Text != "<p>b</p>" {
			t.Errorf("page 1 = %+v", pages[1])
		}
	})

	t.Run("line data", func(t *testing.T) {
		pages := ExtractPages(map[string]any{"line_data": []any{
			map[string]any{"text": "a"}, map[string]any{"type": "diagram"}, map[string]any{"text": "b"},
		}})
		if len(pages) != 1 || pages[0].Text != "a\nb" || pages[0].Raw["line_data"] == nil {
			t.Errorf("pages = %+v", pages)
		}
	})

	t.Run("text", func(t *testing.T) {
		pages := ExtractPages(map[string]any{"text": " whole doc "})
		if len(pages) != 1 || pages[0].PageNo != 1 || pages[0].Text != "whole doc" {
			t.Errorf("pages = %+v", pages)
		}
	})

	t.Run("nothing", func(t *testing.T) {
		if pages := ExtractPages(map[string]any{"status": "split"}); len(pages) != 0 {
			t.Errorf("pages = %+v", pages)
		}
	})
}

func TestExtractLinePages(t *testing.T) {
	pages := ExtractLinePages(map[string]any{"pages": []any{
		map[string]any{"page": 1, "page_width": 1000, "lines": []any{
			map[string]any{"text": "1. 함수"}, map[string]any{"text": "f(x)"},
		}},
		map[string]any{"page": 2, "lines": []any{}},
	}})
	if len(pages) != 2 {
		t.Fatalf("got %d pages", len(pages))
	}
	if pages[0].Text != "1. 함수\nf(x)" || pages[0].Raw["page_width"] != 1000 {
		t.Errorf("page 1 = %+v", pages[0])
	}
	if pages[1].Text != "" {
		t.Errorf("page 2 = %+v", pages[1])
	}
}

func TestMergePages(t *testing.T) {
	status := []Page{
		{PageNo: 2, Text: "status two", Latex: "s2", Raw: map[string]any{"page": 2, "status_only": true}},
		{PageNo: 1, Text: "status one", Raw: map[string]any{"page": 1}},
	}

	t.Run("no line pages", func(t *testing.T) {
		got := MergePages(status, nil)
		if len(got) != 2 || got[0].PageNo != 2 || got[0].Text != "status two" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("line text wins", func(t *testing.T) {
		lines := []Page{
			{PageNo: 2, Text: "line two", Raw: map[string]any{"page": 2, "lines": []any{}}},
			{PageNo: 1, Text: "", Raw: map[string]any{"page": 1}},
			{PageNo: 5, Text: "line five", Raw: map[string]any{"page": 5}},
		}
		got := MergePages(status, lines)
		if len(got) != 3 || got[0].PageNo != 1 || got[1].PageNo != 2 || got[2].PageNo != 5 {
			t.Fatalf("got %+v", got)
		}
		if got[0].Text != "status one" {
			t.Errorf("empty line text should fall back: %+v", got[0])
		}
		two := got[1]
		if two.Text != "line two" || two.Latex != "s2" {
			t.Errorf("page 2 = %+v", two)
		}
		if two.Raw["status_only"] != true || two.Raw["lines"] == nil {
			t.Errorf("raw not merged: %v", two.Raw)
		}
		audit, ok := two.Raw[StatusPageKey].(map[string]any)
		if !ok || audit["status_only"] != true {
			t.Errorf("status payload not preserved: %v", two.Raw[StatusPageKey])
		}
		if _, leaked := lines[0].Raw["status_only"]; leaked {
			t.Error("line page raw payload was mutated")
		}
	})
}

type fakeSource struct {
	statuses  []map[string]any
	lines     map[string]any
	linesErr  error
	statusErr error
	calls     int
}

func (f *fakeSource) FetchStatus(_ context.Context, _ string) (map[string]any, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	i := f.calls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.calls++
	return f.statuses[i], nil
}

func (f *fakeSource) FetchLines(_ context.Context, _ string) (map[string]any, error) {
	return f.lines, f.linesErr
}

func recordSleeps(sleeps *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
}

func TestPollUntilCompleted(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		var sleeps []time.Duration
		src := &fakeSource{statuses: []map[string]any{{"status": "split", "percent_done": 0.5}}}
		p := NewPoller(src, PollerConfig{MaxPolls: 3, Interval: time.Millisecond, Sleep: recordSleeps(&sleeps)})

		res, err := p.PollUntilCompleted(context.Background(), "pdf-1")
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != StatusFailed || res.Progress != 0 || !strings.Contains(res.Error, "timeout after 3 polls") {
			t.Errorf("result = %+v", res)
		}
		if src.calls != 3 {
			t.Errorf("polled %d times", src.calls)
		}
		for _, d := range sleeps {
			if d != MinPollInterval {
				t.Errorf("slept %v, want the %v floor", d, MinPollInterval)
			}
		}
	})

	t.Run("completed merges lines", func(t *testing.T) {
		src := &fakeSource{
			statuses: []map[string]any{
				{"status": "loaded"},
				{"status": "completed", "pages": []any{map[string]any{"page": 1, "text": "status"}}},
			},
			lines: map[string]any{"pages": []any{map[string]any{"page": 1, "lines": []any{map[string]any{"text": "line"}}}}},
		}
		var sleeps []time.Duration
		res, err := NewPoller(src, PollerConfig{MaxPolls: 5, Sleep: recordSleeps(&sleeps)}).PollUntilCompleted(context.Background(), "pdf-1")
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != StatusCompleted || res.Progress != 100 {
			t.Fatalf("result = %+v", res)
		}
		if len(res.Pages) != 1 || res.Pages[0].Text != "line" || res.Pages[0].Raw[StatusPageKey] == nil {
			t.Errorf("pages = %+v", res.Pages)
		}
		if len(sleeps) != 1 || sleeps[0] != DefaultPollInterval {
			t.Errorf("sleeps = %v", sleeps)
		}
	})

	t.Run("lines failure is swallowed", func(t *testing.T) {
		src := &fakeSource{
			statuses: []map[string]any{{"completed": true, "text": "doc"}},
			linesErr: errors.New("404"),
		}
		res, err := NewPoller(src, PollerConfig{MaxPolls: 2}).PollUntilCompleted(context.Background(), "pdf-1")
		if err != nil || res.Status != StatusCompleted || len(res.Pages) != 1 || res.Pages[0].Text != "doc" {
			t.Errorf("result = %+v, %v", res, err)
		}
	})

	t.Run("failed returns immediately", func(t *testing.T) {
		src := &fakeSource{statuses: []map[string]any{{"status": "error", "error": "bad", "percent_done": 40}}}
		res, err := NewPoller(src, PollerConfig{MaxPolls: 5}).PollUntilCompleted(context.Background(), "pdf-1")
		if err != nil || res.Status != StatusFailed || res.Error != "bad" || res.Progress != 40 || src.calls != 1 {
			t.Errorf("result = %+v, %v (calls %d)", res, err, src.calls)
		}
	})

	t.Run("status error", func(t *testing.T) {
		src := &fakeSource{statusErr: errors.New("connection refused")}
		_, err := NewPoller(src, PollerConfig{MaxPolls: 2}).PollUntilCompleted(context.Background(), "pdf-1")
		if err == nil || !strings.Contains(err.Error(), "connection refused") {
			t.Errorf("err = %v", err)
		}
	})
}
