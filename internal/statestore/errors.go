package statestore

import "fmt"

// RecordKind names which record a file holds.
type RecordKind string

const (
	KindState  RecordKind = "workflow state"
	KindMarker RecordKind = "restart marker"
)

// CorruptRecordError reports a record file that exists but is not a
// well-formed record. It is fatal to the current pass.
type CorruptRecordError struct {
	Path string
	Kind RecordKind
	Err  error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt %s %s: %v", e.Kind, e.Path, e.Err)
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}
