// Package staging is the durable hand-off between a paid transcription and
// its persisted record/blob pair. An entry is written after the transcriber
// succeeds and removed only once the sweeper has confirmed both blobs, so a
// record-store or blob-store outage never loses a transcription and a
// replayed submission never pays for the transcriber twice.
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/speechloop/speechloop/pkg/logger"
)

const (
	audioFile = "audio.wav"
	textFile  = "transcription.txt"
)

// Tokens come from uuids or short hashes; anything else is rejected before
// it can touch the filesystem.
var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Entry is a staged audio/text pair keyed by submission token
type Entry struct {
	Token string
	Audio []byte
	Text  string
}

// Store is a file-backed staging area, one directory per token
type Store struct {
	dir    string
	mu     sync.Mutex
	logger *logger.Logger
}

// New creates the staging directory if needed
func New(dir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: log.Named("staging"),
	}, nil
}

// Stage durably writes the audio/text pair for the given token. The text
// file is written last and acts as the completeness marker for Lookup.
func (s *Store) Stage(token string, audio []byte, text string) error {
	if err := validateToken(token); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entryDir := filepath.Join(s.dir, token)
	if err := os.MkdirAll(entryDir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging entry: %w", err)
	}

	if err := os.WriteFile(filepath.Join(entryDir, audioFile), audio, 0o644); err != nil {
		return fmt.Errorf("failed to stage audio: %w", err)
	}
	if err := os.WriteFile(filepath.Join(entryDir, textFile), []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to stage transcription: %w", err)
	}

	s.logger.Debug("Staged submission",
		logger.String("token", token),
		logger.Int("audio_bytes", len(audio)))
	return nil
}

// Lookup returns the staged entry for the token, if complete
func (s *Store) Lookup(token string) (*Entry, bool) {
	if err := validateToken(token); err != nil {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entryDir := filepath.Join(s.dir, token)
	text, err := os.ReadFile(filepath.Join(entryDir, textFile))
	if err != nil {
		return nil, false
	}
	audio, err := os.ReadFile(filepath.Join(entryDir, audioFile))
	if err != nil {
		return nil, false
	}

	return &Entry{Token: token, Audio: audio, Text: string(text)}, true
}

// Remove deletes the staged entry for the token. Removing an absent entry
// is a no-op.
func (s *Store) Remove(token string) error {
	if err := validateToken(token); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(s.dir, token)); err != nil {
		return fmt.Errorf("failed to remove staging entry: %w", err)
	}
	return nil
}

func validateToken(token string) error {
	if !tokenPattern.MatchString(token) {
		return fmt.Errorf("invalid staging token: %q", token)
	}
	return nil
}
