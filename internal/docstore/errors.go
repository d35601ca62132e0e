package docstore

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for docstore failures.
const (
	ErrCodeSyntax            = "E301" // statement could not be parsed
	ErrCodeUnknownCollection = "E302" // collection does not exist
	ErrCodeCollectionExists  = "E303" // createCollection on an existing name
	ErrCodeDuplicateKey      = "E304" // _id already present in collection
	ErrCodeValidation        = "E305" // document rejected by $jsonSchema
	ErrCodeUnsupported       = "E306" // method, operator or kind not supported
	ErrCodeArgument          = "E307" // wrong argument shape
	ErrCodeStorage           = "E308" // underlying SQLite failure
)

// Error is a docstore failure tied to one statement.
type Error struct {
	Code      string
	Line      int    // 1-based line within the operation body, 0 if unknown
	Statement string // e.g. "db.Orgs.insertMany"
	Message   string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", e.Line)
	}
	if e.Statement != "" {
		b.WriteString(e.Statement)
		b.WriteString(": ")
	}
	b.WriteString(e.Code)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is or wraps a docstore *Error with code.
func HasCode(err error, code string) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}

func errorf(st Statement, code, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Line:      st.Line,
		Statement: st.Target(),
		Message:   fmt.Sprintf(format, args...),
	}
}

func storageError(st Statement, err error) *Error {
	return &Error{
		Code:      ErrCodeStorage,
		Line:      st.Line,
		Statement: st.Target(),
		Message:   "storage failure",
		Err:       err,
	}
}
