// Package api exposes the HTTP control plane: user registration, the
// two-phase submission flow, scoring, and record listing.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/speechloop/speechloop/internal/config"
	"github.com/speechloop/speechloop/internal/pipeline"
	"github.com/speechloop/speechloop/internal/record"
	"github.com/speechloop/speechloop/internal/websocket"
	"github.com/speechloop/speechloop/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	pipeline *pipeline.Service
	pending  *PendingCache
	wsServer *websocket.Server
	config   *config.Config
	logger   *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(pipelineService *pipeline.Service, pending *PendingCache, wsServer *websocket.Server, config *config.Config, logger *logger.Logger) *Handler {
	return &Handler{
		pipeline: pipelineService,
		pending:  pending,
		wsServer: wsServer,
		config:   config,
		logger:   logger.Named("api-handler"),
	}
}

// RegisterUser creates a user, or returns the existing one for the same
// external id.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExternalID string `json:"external_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	user, err := h.pipeline.Register(r.Context(), req.ExternalID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, user)
}

// GetBalance returns a user's current balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")
	if externalID == "" {
		http.Error(w, "Missing user ID", http.StatusBadRequest)
		return
	}

	user, err := h.pipeline.User(r.Context(), externalID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"external_id": user.ExternalID,
		"balance":     user.Balance,
	})
}

// GetTranscriptions lists a user's transcription records, newest first
func (h *Handler) GetTranscriptions(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")
	if externalID == "" {
		http.Error(w, "Missing user ID", http.StatusBadRequest)
		return
	}

	records, err := h.pipeline.Records(r.Context(), externalID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transcriptions": records,
		"count":          len(records),
	})
}

// CreateSubmission accepts an audio upload and parks it for confirmation.
// The response carries a short pending id; nothing is transcribed or
// persisted until the confirm call arrives.
func (h *Handler) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(h.config.Pipeline.MaxAudioBytes)
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+4096)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		http.Error(w, "Upload too large or malformed", http.StatusBadRequest)
		return
	}

	externalID := r.FormValue("external_id")
	if externalID == "" {
		http.Error(w, "Missing external_id", http.StatusBadRequest)
		return
	}

	durationSeconds, err := strconv.Atoi(r.FormValue("duration_seconds"))
	if err != nil || durationSeconds <= 0 {
		http.Error(w, "Invalid duration_seconds", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "Missing audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read audio file", http.StatusBadRequest)
		return
	}
	if len(audio) == 0 {
		http.Error(w, "Audio file is empty", http.StatusBadRequest)
		return
	}

	user, err := h.pipeline.User(r.Context(), externalID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// Client-supplied tokens make retried uploads idempotent end to end
	token := r.FormValue("token")
	if token == "" {
		token = uuid.NewString()
	}

	pendingID := h.pending.Put(&pendingSubmission{
		OwnerID:         user.ID,
		Token:           token,
		DurationSeconds: durationSeconds,
		Audio:           audio,
	})

	h.logger.Debug("Submission parked for confirmation",
		logger.String("pending_id", pendingID),
		logger.Int64("owner_id", user.ID),
		logger.Int("audio_bytes", len(audio)))

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"pending_id":         pendingID,
		"token":              token,
		"expires_in_seconds": h.config.Pipeline.PendingTTLSeconds,
	})
}

// ConfirmSubmission runs a parked upload through the pipeline
func (h *Handler) ConfirmSubmission(w http.ResponseWriter, r *http.Request) {
	pendingID := chi.URLParam(r, "pendingID")
	if pendingID == "" {
		http.Error(w, "Missing pending ID", http.StatusBadRequest)
		return
	}

	sub, ok := h.pending.Take(pendingID)
	if !ok {
		http.Error(w, "Unknown or expired submission", http.StatusNotFound)
		return
	}

	result, err := h.pipeline.Submit(r.Context(), pipeline.Submission{
		OwnerID:         sub.OwnerID,
		Token:           sub.Token,
		DurationSeconds: sub.DurationSeconds,
		Audio:           sub.Audio,
	})
	if err != nil {
		// Put the clip back so the client can retry the confirm; replays
		// of an already-transcribed token skip the transcriber.
		h.pending.Put(sub)
		h.writeError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"record_id": result.RecordID,
		"text":      result.Text,
		"replayed":  result.Replayed,
	})
}

// ScoreRecord applies a reviewer verdict to a record
func (h *Handler) ScoreRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid record ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Score string `json:"score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	score, err := record.ParseScore(req.Score)
	if err != nil {
		http.Error(w, "Invalid score: must be rejected, acceptable or excellent", http.StatusBadRequest)
		return
	}

	result, err := h.pipeline.Score(r.Context(), recordID, score)
	if err != nil {
		h.writeError(w, err)
		return
	}

	switch result.Outcome {
	case record.ScoreNotFound:
		http.Error(w, "Record not found", http.StatusNotFound)
	case record.ScoreAlreadyScored:
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"outcome": result.Outcome.String(),
		})
	default:
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"outcome": result.Outcome.String(),
			"reward":  result.Reward,
		})
	}
}

// GetHealth reports liveness
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// writeError maps pipeline error types to HTTP statuses
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, record.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, record.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, record.ErrTranscriberTimeout):
		http.Error(w, "Transcription timed out, try again", http.StatusGatewayTimeout)
	case errors.Is(err, record.ErrTranscriber):
		http.Error(w, "Transcription failed, try again", http.StatusBadGateway)
	case errors.Is(err, record.ErrStoreUnavailable):
		http.Error(w, "Storage unavailable, try again", http.StatusServiceUnavailable)
	default:
		h.logger.Error("Unhandled API error", logger.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
