package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/speechloop/speechloop/internal/config"
	"github.com/speechloop/speechloop/pkg/logger"
)

// WhisperClient calls a self-hosted whisper HTTP service. The service
// accepts a multipart POST with a single "file" field and responds with
// {"prediction": "<text>"}.
type WhisperClient struct {
	url            string
	maxRetries     int
	initialBackoff time.Duration
	httpClient     *http.Client
	logger         *logger.Logger
}

type whisperResponse struct {
	Prediction string `json:"prediction"`
}

// NewWhisperClient creates a new whisper service client
func NewWhisperClient(cfg config.TranscriberConfig, log *logger.Logger) *WhisperClient {
	return &WhisperClient{
		url:            cfg.WhisperURL,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: time.Duration(cfg.RetryInitialBackoffMs) * time.Millisecond,
		// Per-call deadlines come from the context; the client itself
		// carries no timeout so retries share the caller's budget.
		httpClient: &http.Client{},
		logger:     log.Named("whisper"),
	}
}

// Name returns the backend name
func (c *WhisperClient) Name() string {
	return "whisper"
}

// Transcribe posts the audio to the whisper service with bounded retries
func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.initialBackoff * (1 << uint(attempt-1))
			c.logger.Info("Retrying transcription request",
				logger.Int("attempt", attempt),
				logger.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		text, err := c.transcribeOnce(ctx, audio)
		if err == nil {
			return text, nil
		}
		lastErr = err

		// The caller's deadline is the hard bound; don't burn retries on it
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		c.logger.Warn("Transcription request failed",
			logger.Int("attempt", attempt),
			logger.Error(err))
	}

	return "", fmt.Errorf("transcription failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *WhisperClient) transcribeOnce(ctx context.Context, audio []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio to form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Prediction == "" {
		return "", fmt.Errorf("whisper service returned empty prediction")
	}

	return result.Prediction, nil
}
