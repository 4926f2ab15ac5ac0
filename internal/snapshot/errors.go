package snapshot

import (
	"errors"
	"fmt"
)

const (
	CodeEmptyTitle         = "EmptyTitle"
	CodeInvalidURL         = "InvalidUrl"
	CodeMissingContentBody = "MissingContentBody"
	CodeDuplicateID        = "DuplicateId"
	CodeFieldTooLong       = "FieldTooLong"
	CodeInvalidContentType = "InvalidContentType"
	CodeCommentRequired    = "CommentRequired"
)

// Issue is a single schema violation, addressed by a JSON-ish path such as
// "modules[1].lessons[0].title".
type Issue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError is returned by both validation modes before anything is
// persisted. Code is the code of the first issue.
type ValidationError struct {
	Code   string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Issues) == 0 {
		return fmt.Sprintf("validation failed: %s", e.Code)
	}
	first := e.Issues[0]
	if len(e.Issues) == 1 {
		return fmt.Sprintf("validation failed: %s at %s: %s", first.Code, first.Path, first.Message)
	}
	return fmt.Sprintf("validation failed: %s at %s: %s (and %d more)", first.Code, first.Path, first.Message, len(e.Issues)-1)
}

func NewValidationError(code, path, message string) *ValidationError {
	return &ValidationError{Code: code, Issues: []Issue{{Path: path, Code: code, Message: message}}}
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

type issueList []Issue

func (l *issueList) add(path, code, message string) {
	*l = append(*l, Issue{Path: path, Code: code, Message: message})
}

func (l issueList) err() error {
	if len(l) == 0 {
		return nil
	}
	return &ValidationError{Code: l[0].Code, Issues: l}
}
