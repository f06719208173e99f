package transcriber

import (
	"context"
	"fmt"
	"strings"

	"github.com/speechloop/speechloop/internal/config"
	"github.com/speechloop/speechloop/pkg/logger"
	"google.golang.org/genai"
)

const geminiTranscriptionPrompt = "Transcribe this audio verbatim. Return only the spoken text, with no commentary."

// GeminiClient transcribes audio by sending it inline to a Gemini
// generation model
type GeminiClient struct {
	apiKey string
	model  string
	logger *logger.Logger
}

// NewGeminiClient creates a new Gemini transcription client
func NewGeminiClient(cfg config.TranscriberConfig, log *logger.Logger) *GeminiClient {
	return &GeminiClient{
		apiKey: cfg.GeminiAPIKey,
		model:  cfg.GeminiModel,
		logger: log.Named("gemini"),
	}
}

// Name returns the backend name
func (c *GeminiClient) Name() string {
	return "gemini"
}

// Transcribe sends the audio as an inline part alongside a transcription prompt
func (c *GeminiClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts(
			[]*genai.Part{
				genai.NewPartFromText(geminiTranscriptionPrompt),
				genai.NewPartFromBytes(audio, "audio/wav"),
			},
			genai.RoleUser,
		),
	}

	resp, err := client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{})
	if err != nil {
		return "", fmt.Errorf("gemini transcription failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini returned empty transcription")
	}

	c.logger.Debug("Transcription completed",
		logger.Int("audio_bytes", len(audio)),
		logger.Int("text_chars", len(text)))

	return text, nil
}
