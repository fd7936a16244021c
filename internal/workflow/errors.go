package workflow

import (
	"errors"
	"fmt"
)

// Error codes recorded on a job that the workflow failed.
const (
	CodeInputError           = "WORKFLOW_INPUT_ERROR"
	CodeSourceReadError      = "WORKFLOW_SOURCE_READ_ERROR"
	CodeSubmitError          = "WORKFLOW_MATHPIX_SUBMIT_ERROR"
	CodePollError            = "WORKFLOW_MATHPIX_POLL_ERROR"
	CodeOCRFailed            = "WORKFLOW_MATHPIX_FAILED"
	CodePreprocessError      = "WORKFLOW_AI_PREPROCESS_ERROR"
	CodeExtractorUnavailable = "WORKFLOW_EXTRACTOR_UNAVAILABLE"
	CodeRunError             = "WORKFLOW_RUN_ERROR"
)

var (
	// ErrInvalidOptions is returned before any job state changes.
	ErrInvalidOptions = errors.New("invalid workflow options")
	// ErrUnsupportedProvider is returned for jobs not created for Mathpix.
	ErrUnsupportedProvider = errors.New("unsupported OCR provider")
	// ErrExtractorUnavailable wraps the reason crops cannot be rendered.
	ErrExtractorUnavailable = errors.New("problem OCR extractor is unavailable")
)

// Error is a workflow failure that was recorded on the job.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// ErrorCode returns the recorded code of err, or "" when err is not a
// workflow failure.
func ErrorCode(err error) string {
	var wfErr *Error
	if errors.As(err, &wfErr) {
		return wfErr.Code
	}
	return ""
}
