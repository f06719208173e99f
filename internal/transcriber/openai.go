package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/speechloop/speechloop/internal/config"
	"github.com/speechloop/speechloop/pkg/logger"
)

// OpenAIClient transcribes audio via the OpenAI Whisper API
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *logger.Logger
}

// NewOpenAIClient creates a new OpenAI transcription client
func NewOpenAIClient(cfg config.TranscriberConfig, log *logger.Logger) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(cfg.OpenAIAPIKey),
		model:  cfg.OpenAIModel,
		logger: log.Named("openai"),
	}
}

// Name returns the backend name
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Transcribe sends the audio bytes to the Whisper API
func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		Reader:   bytes.NewReader(audio),
		FilePath: "audio.wav",
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("openai returned empty transcription")
	}

	c.logger.Debug("Transcription completed",
		logger.Int("audio_bytes", len(audio)),
		logger.Int("text_chars", len(text)))

	return text, nil
}
