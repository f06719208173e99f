package record

import "errors"

// Typed failures surfaced by the pipeline. Callers branch on these with
// errors.Is; everything else is an internal error.
var (
	// ErrValidation means the input was rejected before any external call
	ErrValidation = errors.New("validation failed")

	// ErrTranscriber means the transcription call failed; no record was created
	ErrTranscriber = errors.New("transcription failed")

	// ErrTranscriberTimeout means the transcription call exceeded its bound;
	// treated the same as ErrTranscriber (no record created)
	ErrTranscriberTimeout = errors.New("transcription timed out")

	// ErrStoreUnavailable means the record store rejected a write; the
	// transcription result was staged for durable retry
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrNotFound means the referenced user or record does not exist
	ErrNotFound = errors.New("not found")
)
