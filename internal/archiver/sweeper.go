// Package archiver reconciles persisted transcription records with the blob
// store. A periodic sweep uploads the audio/text pair for every unarchived
// record and flips the record's archived flag only after both blobs are
// confirmed present, so a crash mid-sweep is healed by the next pass.
package archiver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/speechloop/speechloop/internal/blob"
	"github.com/speechloop/speechloop/internal/config"
	"github.com/speechloop/speechloop/internal/pipeline/staging"
	"github.com/speechloop/speechloop/internal/record"
	"github.com/speechloop/speechloop/pkg/logger"
)

// RecordStore is the persistence surface the sweeper needs
type RecordStore interface {
	ListUnarchived(ctx context.Context) ([]*record.Record, error)
	MarkArchived(ctx context.Context, id int64) (bool, error)
}

// Stager gives the sweeper access to staged audio and lets it release an
// entry once the record's blobs are durable.
type Stager interface {
	Lookup(token string) (*staging.Entry, bool)
	Remove(token string) error
}

// EventPublisher pushes record lifecycle events to connected clients
type EventPublisher interface {
	Publish(eventType string, data map[string]interface{})
}

// Sweeper runs the periodic archival pass
type Sweeper struct {
	ctx     context.Context
	cancel  context.CancelFunc
	store   RecordStore
	blobs   blob.Store
	staging Stager
	events  EventPublisher
	config  config.ArchiverConfig
	logger  *logger.Logger
	wg      sync.WaitGroup
}

// NewSweeper creates the archival sweeper
func NewSweeper(
	ctx context.Context,
	store RecordStore,
	blobs blob.Store,
	stager Stager,
	events EventPublisher,
	cfg config.ArchiverConfig,
	log *logger.Logger,
) *Sweeper {
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	return &Sweeper{
		ctx:     sweepCtx,
		cancel:  sweepCancel,
		store:   store,
		blobs:   blobs,
		staging: stager,
		events:  events,
		config:  cfg,
		logger:  log.Named("archiver"),
	}
}

// Start starts the sweep loop
func (s *Sweeper) Start() error {
	interval := time.Duration(s.config.IntervalHours) * time.Hour
	s.logger.Info("Starting archival sweep loop",
		logger.Int("interval_hours", s.config.IntervalHours),
		logger.Bool("sweep_on_start", s.config.SweepOnStart))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if s.config.SweepOnStart {
			s.runSweep()
		}

		for {
			select {
			case <-s.ctx.Done():
				s.logger.Info("Sweep loop stopped due to context cancellation")
				return
			case <-ticker.C:
				s.runSweep()
			}
		}
	}()

	return nil
}

// Stop stops the sweep loop and waits for an in-flight sweep to finish
func (s *Sweeper) Stop() {
	s.logger.Info("Stopping archival sweeper")
	s.cancel()
	s.wg.Wait()
}

// runSweep logs and swallows sweep-level errors so the loop keeps running
func (s *Sweeper) runSweep() {
	archived, failed, err := s.Sweep(s.ctx)
	if err != nil {
		s.logger.Error("Sweep failed", logger.Error(err))
		return
	}
	if archived > 0 || failed > 0 {
		s.logger.Info("Sweep completed",
			logger.Int("archived", archived),
			logger.Int("failed", failed))
	}
}

// Sweep runs one archival pass over all unarchived records. A failure on
// one record is logged and does not stop the pass; the record stays
// unarchived and is retried on the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) (archived, failed int, err error) {
	records, err := s.store.ListUnarchived(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list unarchived records: %w", err)
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return archived, failed, ctx.Err()
		}
		if err := s.archive(ctx, rec); err != nil {
			failed++
			s.logger.Error("Failed to archive record",
				logger.Int64("record_id", rec.ID),
				logger.Error(err))
			continue
		}
		archived++
	}

	return archived, failed, nil
}

// archive uploads any missing blob for the record, then marks it archived.
// Uploads are keyed deterministically by record id, so repeating the pass
// after a partial failure overwrites with identical content.
func (s *Sweeper) archive(ctx context.Context, rec *record.Record) error {
	if err := s.ensureAudio(ctx, rec); err != nil {
		return err
	}
	if err := s.ensureText(ctx, rec); err != nil {
		return err
	}

	changed, err := s.store.MarkArchived(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to mark record archived: %w", err)
	}

	// Blobs are durable, so the staged copy is no longer needed
	if rec.Token != "" {
		if err := s.staging.Remove(rec.Token); err != nil {
			s.logger.Warn("Failed to remove staged entry",
				logger.String("token", rec.Token),
				logger.Error(err))
		}
	}

	if changed {
		s.logger.Debug("Record archived", logger.Int64("record_id", rec.ID))
		if s.events != nil {
			s.events.Publish("record_archived", map[string]interface{}{
				"record_id": rec.ID,
			})
		}
	}
	return nil
}

func (s *Sweeper) ensureAudio(ctx context.Context, rec *record.Record) error {
	key := record.AudioKey(rec.ID)
	exists, err := s.blobs.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to probe %s: %w", key, err)
	}
	if exists {
		return nil
	}

	entry, ok := s.staging.Lookup(rec.Token)
	if !ok {
		return fmt.Errorf("no staged audio for record %d (token %q)", rec.ID, rec.Token)
	}
	if err := s.blobs.Put(ctx, key, entry.Audio, "audio/wav"); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func (s *Sweeper) ensureText(ctx context.Context, rec *record.Record) error {
	key := record.TextKey(rec.ID)
	exists, err := s.blobs.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to probe %s: %w", key, err)
	}
	if exists {
		return nil
	}

	// The record row is the authoritative copy of the text
	if err := s.blobs.Put(ctx, key, []byte(rec.Text), "text/plain; charset=utf-8"); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}
