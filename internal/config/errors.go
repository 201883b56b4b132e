package config

import "fmt"

// ValidationError reports a candidate configuration that failed structural
// or semantic checks, or a document that could not be read at all.
type ValidationError struct {
	Path string
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration %s: %v", e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ReloadError wraps any failure of a mutating reload or rollback. Receiving
// one means manager state was not changed.
type ReloadError struct {
	Op  string
	Err error
}

func (e *ReloadError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ReloadError) Unwrap() error {
	return e.Err
}
