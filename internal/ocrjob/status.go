// Package ocrjob maps Mathpix job payloads onto a small status machine and
// merges the page text of its two result endpoints.
package ocrjob

import (
	"encoding/json"
	"strings"

	"github.com/mathhub/mathhub/internal/jsonx"
)

// JobStatus is the normalized lifecycle state of an OCR job.
type JobStatus string

const (
	StatusUploading  JobStatus = "uploading"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// DefaultFailureMessage is used when the provider reports failure without
// saying why.
const DefaultFailureMessage = "Mathpix returned failure status"

// Terminal reports whether s is absorbing.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusUploading, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from one status to another.
// Terminal states only transition to themselves.
func CanTransition(from, to JobStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.Terminal() {
		return from == to
	}
	if from == StatusProcessing && to == StatusUploading {
		return false
	}
	return true
}

var (
	completedWords = toSet("completed", "complete", "done", "success", "succeeded")
	failedWords    = toSet("failed", "failure", "error")
	cancelledWords = toSet("cancelled", "canceled")
	uploadingWords = toSet("queued", "uploaded", "uploading")
)

// MapStatus normalizes a raw provider status payload. Completion flags win
// over everything, then failure, then the status string. Anything ambiguous
// is processing, never completed.
func MapStatus(raw map[string]any) (JobStatus, float64, string) {
	state := strings.ToLower(jsonx.FirstString(raw, "status", "state"))
	errMsg := errorMessage(raw["error"])
	progress := progressPercent(raw)

	switch {
	case jsonx.Truthy(raw["completed"]) || completedWords[state]:
		return StatusCompleted, 100, ""
	case cancelledWords[state]:
		if errMsg == "" {
			errMsg = "Mathpix job was cancelled"
		}
		return StatusCancelled, progress, errMsg
	case errMsg != "" || failedWords[state]:
		if errMsg == "" {
			errMsg = DefaultFailureMessage
		}
		return StatusFailed, progress, errMsg
	case uploadingWords[state]:
		return StatusUploading, progress, ""
	}
	return StatusProcessing, progress, ""
}

func errorMessage(v any) string {
	if m, ok := v.(map[string]any); ok {
		if msg := jsonx.FirstString(m, "message"); msg != "" {
			return msg
		}
		raw, _ := json.Marshal(m)
		return string(raw)
	}
	if !jsonx.Truthy(v) {
		return ""
	}
	return jsonx.String(v)
}

// progressPercent reads the first truthy progress field. Values at or below
// 1 are fractions and are scaled to percent.
func progressPercent(raw map[string]any) float64 {
	var value any
	for _, k := range []string{"percent_done", "progress_pct", "progress", "percent"} {
		if jsonx.Truthy(raw[k]) {
			value = raw[k]
			break
		}
	}
	p, ok := jsonx.Float(value)
	if !ok {
		return 0
	}
	if p <= 1 {
		p *= 100
	}
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func toSet(words ...string) map[string]bool {
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[w] = true
	}
	return out
}
