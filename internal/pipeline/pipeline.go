// Package pipeline implements the submission and scoring flows: audio in,
// transcription out, exactly one record per token, at most one payout per
// record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/speechloop/speechloop/internal/config"
	"github.com/speechloop/speechloop/internal/pipeline/staging"
	"github.com/speechloop/speechloop/internal/record"
	"github.com/speechloop/speechloop/internal/transcriber"
	"github.com/speechloop/speechloop/pkg/logger"
)

// RecordStore is the persistence surface the pipeline needs
type RecordStore interface {
	RegisterUser(ctx context.Context, externalID string, role int) (*record.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*record.User, error)
	CreateRecord(ctx context.Context, rec *record.Record) (int64, error)
	GetRecord(ctx context.Context, id int64) (*record.Record, error)
	GetRecordByToken(ctx context.Context, token string) (*record.Record, error)
	SetScore(ctx context.Context, id int64, score record.Score) (bool, error)
	CreditBalance(ctx context.Context, userID int64, amount float64) error
	ListRecordsByOwner(ctx context.Context, ownerID int64) ([]*record.Record, error)
}

// Stager is the durable staging area keyed by submission token
type Stager interface {
	Stage(token string, audio []byte, text string) error
	Lookup(token string) (*staging.Entry, bool)
	Remove(token string) error
}

// EventPublisher pushes record lifecycle events to connected clients
type EventPublisher interface {
	Publish(eventType string, data map[string]interface{})
}

// Submission is one audio clip offered for transcription. Token identifies
// the submission across retries; resubmitting the same token never pays the
// transcriber or creates a record twice.
type Submission struct {
	OwnerID         int64
	Token           string
	DurationSeconds int
	Audio           []byte
}

// SubmitResult reports the persisted record for a submission
type SubmitResult struct {
	RecordID int64
	Text     string
	Replayed bool
}

// Service runs the ingestion pipeline
type Service struct {
	store       RecordStore
	staging     Stager
	transcriber transcriber.Transcriber
	events      EventPublisher
	cfg         config.PipelineConfig
	timeout     time.Duration
	logger      *logger.Logger
}

// NewService creates the pipeline service
func NewService(
	store RecordStore,
	stager Stager,
	trans transcriber.Transcriber,
	events EventPublisher,
	cfg config.PipelineConfig,
	transcriberCfg config.TranscriberConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		store:       store,
		staging:     stager,
		transcriber: trans,
		events:      events,
		cfg:         cfg,
		timeout:     time.Duration(transcriberCfg.TimeoutSeconds) * time.Second,
		logger:      log.Named("pipeline"),
	}
}

// Register creates a user if the external ID is new, otherwise returns the
// existing user unchanged.
func (s *Service) Register(ctx context.Context, externalID string) (*record.User, error) {
	if externalID == "" {
		return nil, fmt.Errorf("%w: external ID is required", record.ErrValidation)
	}
	user, err := s.store.RegisterUser(ctx, externalID, record.RoleUser)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	return user, nil
}

// User resolves a user by external ID
func (s *Service) User(ctx context.Context, externalID string) (*record.User, error) {
	user, err := s.store.GetUserByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	return user, nil
}

// Records lists a user's transcriptions, newest first
func (s *Service) Records(ctx context.Context, externalID string) ([]*record.Record, error) {
	user, err := s.User(ctx, externalID)
	if err != nil {
		return nil, err
	}
	recs, err := s.store.ListRecordsByOwner(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	return recs, nil
}

// Submit runs one clip through the pipeline. On a transcriber failure
// nothing is persisted and the caller may retry with the same token; on a
// record-store failure the transcription is already staged, so the retry
// skips the transcriber and only repeats the insert.
func (s *Service) Submit(ctx context.Context, sub Submission) (*SubmitResult, error) {
	if err := s.validate(sub); err != nil {
		return nil, err
	}

	// A token that already reached the record store is settled: return the
	// committed record instead of paying the transcriber again. Once the
	// sweeper has archived it the staging entry is stale, so drop it here
	// rather than respool audio no sweep will ever collect.
	if existing, err := s.store.GetRecordByToken(ctx, sub.Token); err == nil {
		if existing.Archived {
			if rmErr := s.staging.Remove(sub.Token); rmErr != nil {
				s.logger.Warn("Failed to drop stale staging entry",
					logger.String("token", sub.Token),
					logger.Error(rmErr))
			}
		}
		s.logger.Debug("Replaying settled submission",
			logger.Int64("record_id", existing.ID),
			logger.String("token", sub.Token))
		return &SubmitResult{RecordID: existing.ID, Text: existing.Text, Replayed: true}, nil
	} else if !errors.Is(err, record.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}

	text, replayed, err := s.transcription(ctx, sub)
	if err != nil {
		return nil, err
	}

	if !replayed {
		if err := s.staging.Stage(sub.Token, sub.Audio, text); err != nil {
			return nil, fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
		}
	}

	id, err := s.store.CreateRecord(ctx, &record.Record{
		OwnerID:         sub.OwnerID,
		Token:           sub.Token,
		CreatedAt:       time.Now().UTC(),
		DurationSeconds: sub.DurationSeconds,
		Text:            text,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}

	s.logger.Info("Submission persisted",
		logger.Int64("record_id", id),
		logger.Int64("owner_id", sub.OwnerID),
		logger.Int("duration_seconds", sub.DurationSeconds),
		logger.Bool("replayed", replayed))

	if s.events != nil {
		s.events.Publish("record_created", map[string]interface{}{
			"record_id": id,
			"owner_id":  sub.OwnerID,
		})
	}

	return &SubmitResult{RecordID: id, Text: text, Replayed: replayed}, nil
}

// ScoreResult reports the outcome of a scoring attempt
type ScoreResult struct {
	Outcome record.ScoreOutcome
	Reward  float64
}

// Score applies a reviewer verdict to a record. The score transition and
// the payout happen at most once no matter how many reviewers race on the
// same record.
func (s *Service) Score(ctx context.Context, recordID int64, score record.Score) (*ScoreResult, error) {
	if score < record.Rejected || score > record.Excellent {
		return nil, fmt.Errorf("%w: invalid score %d", record.ErrValidation, score)
	}

	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return &ScoreResult{Outcome: record.ScoreNotFound}, nil
		}
		return nil, fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}

	applied, err := s.store.SetScore(ctx, recordID, score)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	if !applied {
		return &ScoreResult{Outcome: record.ScoreAlreadyScored}, nil
	}

	reward := Reward(rec.DurationSeconds, score)
	if err := s.store.CreditBalance(ctx, rec.OwnerID, reward); err != nil {
		// The score stuck but the credit did not. Surface the error
		// rather than retry: a blind retry could double-pay.
		s.logger.Error("Failed to credit reward",
			logger.Int64("record_id", recordID),
			logger.Int64("owner_id", rec.OwnerID),
			logger.Float64("reward", reward),
			logger.Error(err))
		return nil, fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}

	s.logger.Info("Record scored",
		logger.Int64("record_id", recordID),
		logger.String("score", score.String()),
		logger.Float64("reward", reward))

	if s.events != nil {
		s.events.Publish("record_scored", map[string]interface{}{
			"record_id": recordID,
			"score":     score.String(),
			"reward":    reward,
		})
	}

	return &ScoreResult{Outcome: record.ScoreApplied, Reward: reward}, nil
}

func (s *Service) validate(sub Submission) error {
	switch {
	case sub.Token == "":
		return fmt.Errorf("%w: token is required", record.ErrValidation)
	case len(sub.Audio) == 0:
		return fmt.Errorf("%w: audio is empty", record.ErrValidation)
	case sub.DurationSeconds <= 0:
		return fmt.Errorf("%w: duration must be positive", record.ErrValidation)
	case int64(len(sub.Audio)) > s.cfg.MaxAudioBytes:
		return fmt.Errorf("%w: audio exceeds %d bytes", record.ErrValidation, s.cfg.MaxAudioBytes)
	}
	return nil
}

// transcription returns the text for the submission, replaying a staged
// result when one exists so the transcriber is never paid twice for the
// same token.
func (s *Service) transcription(ctx context.Context, sub Submission) (string, bool, error) {
	if entry, ok := s.staging.Lookup(sub.Token); ok {
		s.logger.Debug("Replaying staged transcription", logger.String("token", sub.Token))
		return entry.Text, true, nil
	}

	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.transcriber.Transcribe(tctx, sub.Audio)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", false, fmt.Errorf("%w after %s: %v", record.ErrTranscriberTimeout, s.timeout, err)
		}
		return "", false, fmt.Errorf("%w: %v", record.ErrTranscriber, err)
	}
	return text, false, nil
}
