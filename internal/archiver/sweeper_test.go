package archiver

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/speechloop/speechloop/internal/config"
	"github.com/speechloop/speechloop/internal/pipeline/staging"
	"github.com/speechloop/speechloop/internal/record"
	"github.com/speechloop/speechloop/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweepStore struct {
	mu      sync.Mutex
	records map[int64]*record.Record
}

func newFakeSweepStore(recs ...*record.Record) *fakeSweepStore {
	s := &fakeSweepStore{records: make(map[int64]*record.Record)}
	for _, r := range recs {
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeSweepStore) ListUnarchived(_ context.Context) ([]*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*record.Record
	for _, r := range s.records {
		if !r.Archived {
			copied := *r
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeSweepStore) MarkArchived(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok || r.Archived {
		return false, nil
	}
	r.Archived = true
	return true, nil
}

func (s *fakeSweepStore) archived(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Archived
}

type fakeBlob struct {
	mu       sync.Mutex
	objects  map[string][]byte
	puts     map[string]int
	failKeys map[string]bool
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{
		objects:  make(map[string][]byte),
		puts:     make(map[string]int),
		failKeys: make(map[string]bool),
	}
}

func (b *fakeBlob) Put(_ context.Context, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failKeys[key] {
		return fmt.Errorf("put %s: connection refused", key)
	}
	b.puts[key]++
	b.objects[key] = data
	return nil
}

func (b *fakeBlob) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *fakeBlob) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key: %s", key)
	}
	return data, nil
}

type fakeStager struct {
	mu      sync.Mutex
	entries map[string]*staging.Entry
}

func newFakeStager() *fakeStager {
	return &fakeStager{entries: make(map[string]*staging.Entry)}
}

func (f *fakeStager) add(token string, audio []byte, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[token] = &staging.Entry{Token: token, Audio: audio, Text: text}
}

func (f *fakeStager) Lookup(token string) (*staging.Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[token]
	return e, ok
}

func (f *fakeStager) Remove(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, token)
	return nil
}

func newTestSweeper(store RecordStore, blobs *fakeBlob, stager *fakeStager) *Sweeper {
	return NewSweeper(
		context.Background(),
		store,
		blobs,
		stager,
		nil,
		config.ArchiverConfig{IntervalHours: 3},
		logger.NewNop(),
	)
}

func unarchivedRecord(id int64, token, text string) *record.Record {
	return &record.Record{
		ID:              id,
		OwnerID:         1,
		Token:           token,
		DurationSeconds: 10,
		Text:            text,
	}
}

func TestSweepArchivesRecord(t *testing.T) {
	rec := unarchivedRecord(1, "tok-1", "hello")
	store := newFakeSweepStore(rec)
	blobs := newFakeBlob()
	stager := newFakeStager()
	stager.add("tok-1", []byte("RIFFdata"), "hello")

	sweeper := newTestSweeper(store, blobs, stager)
	archived, failed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, archived)
	assert.Equal(t, 0, failed)

	assert.True(t, store.archived(1))
	assert.Equal(t, []byte("RIFFdata"), blobs.objects[record.AudioKey(1)])
	assert.Equal(t, []byte("hello"), blobs.objects[record.TextKey(1)])

	// Blobs durable, staged entry released
	_, ok := stager.Lookup("tok-1")
	assert.False(t, ok)
}

func TestSweepIdempotent(t *testing.T) {
	rec := unarchivedRecord(1, "tok-1", "hello")
	store := newFakeSweepStore(rec)
	blobs := newFakeBlob()
	stager := newFakeStager()
	stager.add("tok-1", []byte("RIFFdata"), "hello")

	sweeper := newTestSweeper(store, blobs, stager)

	_, _, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	archived, failed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, archived)
	assert.Equal(t, 0, failed)

	assert.True(t, store.archived(1))
	assert.Equal(t, 1, blobs.puts[record.AudioKey(1)])
	assert.Equal(t, 1, blobs.puts[record.TextKey(1)])
}

func TestSweepPartialFailureIsolation(t *testing.T) {
	recA := unarchivedRecord(1, "tok-a", "alpha")
	recB := unarchivedRecord(2, "tok-b", "bravo")
	store := newFakeSweepStore(recA, recB)
	blobs := newFakeBlob()
	blobs.failKeys[record.AudioKey(1)] = true
	stager := newFakeStager()
	stager.add("tok-a", []byte("audio-a"), "alpha")
	stager.add("tok-b", []byte("audio-b"), "bravo")

	sweeper := newTestSweeper(store, blobs, stager)
	archived, failed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, archived)
	assert.Equal(t, 1, failed)

	assert.False(t, store.archived(1))
	assert.True(t, store.archived(2))

	// The failed record is retried once the blob store recovers
	delete(blobs.failKeys, record.AudioKey(1))
	archived, failed, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, archived)
	assert.Equal(t, 0, failed)
	assert.True(t, store.archived(1))
}

func TestSweepResumesAfterPartialUpload(t *testing.T) {
	// Audio made it to the blob store on a previous pass, then the process
	// died. The next sweep uploads only the missing text blob.
	rec := unarchivedRecord(1, "tok-1", "hello")
	store := newFakeSweepStore(rec)
	blobs := newFakeBlob()
	require.NoError(t, blobs.Put(context.Background(), record.AudioKey(1), []byte("RIFFdata"), "audio/wav"))
	stager := newFakeStager()
	stager.add("tok-1", []byte("RIFFdata"), "hello")

	sweeper := newTestSweeper(store, blobs, stager)
	archived, failed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, archived)
	assert.Equal(t, 0, failed)

	assert.Equal(t, 1, blobs.puts[record.AudioKey(1)])
	assert.Equal(t, 1, blobs.puts[record.TextKey(1)])
}

func TestSweepMissingStagedAudio(t *testing.T) {
	rec := unarchivedRecord(1, "tok-1", "hello")
	store := newFakeSweepStore(rec)

	sweeper := newTestSweeper(store, newFakeBlob(), newFakeStager())
	archived, failed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, archived)
	assert.Equal(t, 1, failed)
	assert.False(t, store.archived(1))
}
