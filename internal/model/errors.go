package model

import "fmt"

// ErrorKind categorizes ingest failures.
type ErrorKind string

// Ingest error kinds.
const (
	ErrFileAccess    ErrorKind = "FILE_ACCESS"    // missing or unreadable file/directory
	ErrMalformedJSON ErrorKind = "MALFORMED_JSON" // one unparseable line
	ErrInvalidData   ErrorKind = "INVALID_DATA"   // valid JSON, structurally wrong
	ErrMissingField  ErrorKind = "MISSING_FIELD"  // required field absent
)

// IngestError is a collected (never thrown) per-line or per-file parse error.
type IngestError struct {
	Kind    ErrorKind
	File    string
	Line    int // 1-based, 0 when the error covers the whole file
	Message string
}

func (e IngestError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s:%d: %s", e.Kind, e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.File, e.Message)
}

// InsertError is a collected per-session insertion failure.
type InsertError struct {
	SessionID string
	Message   string
}

func (e InsertError) Error() string {
	return fmt.Sprintf("insert %s: %s", e.SessionID, e.Message)
}
