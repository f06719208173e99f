package transcriber

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/speechloop/speechloop/internal/config"
	"github.com/speechloop/speechloop/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whisperTestConfig(url string) config.TranscriberConfig {
	return config.TranscriberConfig{
		Backend:               "whisper",
		WhisperURL:            url,
		MaxRetries:            2,
		RetryInitialBackoffMs: 1,
	}
}

func TestWhisperTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		audio, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, []byte("RIFFdata"), audio)

		json.NewEncoder(w).Encode(map[string]string{"prediction": "hello world"})
	}))
	defer server.Close()

	client := NewWhisperClient(whisperTestConfig(server.URL), logger.NewNop())
	text, err := client.Transcribe(context.Background(), []byte("RIFFdata"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestWhisperRetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"prediction": "recovered"})
	}))
	defer server.Close()

	client := NewWhisperClient(whisperTestConfig(server.URL), logger.NewNop())
	text, err := client.Transcribe(context.Background(), []byte("RIFFdata"))
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWhisperGivesUpAfterRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewWhisperClient(whisperTestConfig(server.URL), logger.NewNop())
	_, err := client.Transcribe(context.Background(), []byte("RIFFdata"))
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWhisperEmptyPrediction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"prediction": ""})
	}))
	defer server.Close()

	cfg := whisperTestConfig(server.URL)
	cfg.MaxRetries = 0
	client := NewWhisperClient(cfg, logger.NewNop())
	_, err := client.Transcribe(context.Background(), []byte("RIFFdata"))
	assert.Error(t, err)
}

func TestWhisperHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewWhisperClient(whisperTestConfig(server.URL), logger.NewNop())
	_, err := client.Transcribe(ctx, []byte("RIFFdata"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFactorySelectsBackend(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TranscriberConfig
		want string
	}{
		{"whisper", config.TranscriberConfig{Backend: "whisper", WhisperURL: "http://nn:8000/predict"}, "whisper"},
		{"openai", config.TranscriberConfig{Backend: "openai", OpenAIAPIKey: "sk-test"}, "openai"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			trans, err := New(tc.cfg, logger.NewNop())
			require.NoError(t, err)
			assert.Equal(t, tc.want, trans.Name())
		})
	}

	_, err := New(config.TranscriberConfig{Backend: "sphinx"}, logger.NewNop())
	assert.Error(t, err)
}
