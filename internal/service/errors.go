package service

import (
	"strings"
)

// Diagnostic prefixes recorded as a failed job's reason.
const (
	ReasonEngineExhausted = "engine_exhausted"
	ReasonInsightsFailed  = "insights_failed"
	ReasonStorageError    = "storage_error"
	ReasonStoreError      = "store_error"
)

// ValidationError is a rejected admission. Its message is safe to show.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}

// stageError tags a pipeline failure with its diagnostic prefix.
type stageError struct {
	prefix string
	err    error
}

func (e *stageError) Error() string {
	msg := e.err.Error()
	if strings.HasPrefix(msg, e.prefix+":") {
		return msg
	}
	return e.prefix + ": " + msg
}

func (e *stageError) Unwrap() error {
	return e.err
}

func stage(prefix string, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{prefix: prefix, err: err}
}

var publicReasons = map[string]string{
	ReasonEngineExhausted: "This format pair is unavailable right now. Please try a different target format.",
	ReasonInsightsFailed:  "Document insights could not be generated.",
	ReasonStorageError:    "The converted file could not be saved.",
	ReasonStoreError:      "The job could not be completed.",
}

const genericPublicReason = "Conversion failed. Please try again."

// PublicFailureReason maps an internal diagnostic onto the fixed message
// clients are allowed to see.
func PublicFailureReason(diagnostic string) string {
	if diagnostic == "" {
		return ""
	}
	prefix, _, _ := strings.Cut(diagnostic, ":")
	if msg, ok := publicReasons[prefix]; ok {
		return msg
	}
	return genericPublicReason
}
