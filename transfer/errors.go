package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized indicates a failed capability or forgery-token check.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the target record does not exist.
	ErrNotFound = errors.New("post not found")

	// ErrParse indicates the import payload is not a JSON object.
	ErrParse = errors.New("invalid JSON file")

	// ErrSchema indicates the import payload lacks a mandatory field.
	ErrSchema = errors.New("invalid import data")

	// ErrUpload indicates the import file could not be received.
	ErrUpload = errors.New("file upload failed")

	// ErrFetch indicates a referenced image could not be downloaded.
	ErrFetch = errors.New("image fetch failed")

	// ErrWrite indicates a store rejected a write.
	ErrWrite = errors.New("write failed")
)

// Write steps reported by WriteError.
const (
	StepFields   = "fields"
	StepMetadata = "metadata"
	StepTaxonomy = "taxonomy"
)

// WriteError reports which content-writer step failed. Steps that ran
// before it are not rolled back.
type WriteError struct {
	Step string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Step, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrWrite) hold for every WriteError.
func (e *WriteError) Is(target error) bool {
	return target == ErrWrite
}
