// Package blob provides object storage for audio/transcription pairs.
package blob

import "context"

// Store is the object-storage contract used by the pipeline and sweeper.
// Put is at-least-once: a duplicate put to the same key is an overwrite
// with identical bytes and therefore harmless. Get must observe a
// completed Put.
type Store interface {
	// Put stores bytes under the given key
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Exists reports whether an object exists under the given key
	Exists(ctx context.Context, key string) (bool, error)

	// Get retrieves the object stored under the given key
	Get(ctx context.Context, key string) ([]byte, error)
}
