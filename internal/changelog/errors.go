package changelog

import (
	"errors"
	"fmt"
)

// Parse error codes.
const (
	ErrCodeHeader         = "E201" // Missing or malformed "formatted" header
	ErrCodeChangesetLine  = "E202" // Malformed changeset declaration
	ErrCodeAttribute      = "E203" // Unknown or malformed changeset attribute
	ErrCodeMissingForward = "E204" // Changeset without a forward operation
	ErrCodeDuplicate      = "E205" // Duplicate (author, id)
	ErrCodeStray          = "E206" // Content outside any changeset
	ErrCodeMissingField   = "E207" // Missing author or id
	ErrCodeFormat         = "E208" // Unsupported source format
	ErrCodeRead           = "E209" // Source could not be read
	ErrCodeSyntax         = "E210" // YAML/CUE syntax or decode error
	ErrCodeEmptyRollback  = "E211" // Rollback directive without text
)

// ParseError reports a malformed changelog. Parsing is all-or-nothing, so a
// ParseError always means no changeset may be applied.
type ParseError struct {
	Code    string
	Message string
	File    string
	Line    int // 0 when unknown
}

func (e *ParseError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d: %s: %s", e.File, e.Line, e.Code, e.Message)
	case e.File != "":
		return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

func newParseError(code, file string, line int, format string, args ...any) *ParseError {
	return &ParseError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		File:    file,
		Line:    line,
	}
}
