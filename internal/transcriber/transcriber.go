// Package transcriber adapts external speech-to-text services behind a
// single narrow interface. Backends are pure functions of the audio bytes:
// no state is carried between calls and every call honors its context, so
// the pipeline can bound and cancel transcription uniformly.
package transcriber

import (
	"context"
	"fmt"

	"github.com/speechloop/speechloop/internal/config"
	"github.com/speechloop/speechloop/pkg/logger"
)

// Transcriber converts raw audio (wav, 16 kHz mono expected) to plain text
type Transcriber interface {
	// Transcribe returns the transcription of the given audio bytes.
	// Cancellation and deadline are taken from ctx.
	Transcribe(ctx context.Context, audio []byte) (string, error)

	// Name returns the backend name (e.g., "whisper", "openai", "gemini")
	Name() string
}

// New creates the transcriber backend selected by configuration
func New(cfg config.TranscriberConfig, log *logger.Logger) (Transcriber, error) {
	switch cfg.Backend {
	case "whisper":
		return NewWhisperClient(cfg, log), nil
	case "openai":
		return NewOpenAIClient(cfg, log), nil
	case "gemini":
		return NewGeminiClient(cfg, log), nil
	default:
		return nil, fmt.Errorf("unsupported transcriber backend: %s", cfg.Backend)
	}
}
