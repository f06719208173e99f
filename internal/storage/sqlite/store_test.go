package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/speechloop/speechloop/internal/record"
	"github.com/speechloop/speechloop/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestRecord(ownerID int64, token string) *record.Record {
	return &record.Record{
		OwnerID:         ownerID,
		Token:           token,
		CreatedAt:       time.Now().UTC(),
		DurationSeconds: 10,
		Text:            "some transcription",
	}
}

func TestRegisterUserIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.RegisterUser(ctx, "ext-1", record.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "ext-1", first.ExternalID)
	assert.Equal(t, 0.0, first.Balance)

	second, err := store.RegisterUser(ctx, "ext-1", record.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetUserByExternalIDNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetUserByExternalID(context.Background(), "nobody")
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestCreditBalanceAccumulates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.RegisterUser(ctx, "ext-1", record.RoleUser)
	require.NoError(t, err)

	require.NoError(t, store.CreditBalance(ctx, user.ID, 0.40))
	require.NoError(t, store.CreditBalance(ctx, user.ID, 3.00))

	got, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3.40, got.Balance)
}

func TestCreditBalanceUnknownUser(t *testing.T) {
	store := newTestStore(t)

	err := store.CreditBalance(context.Background(), 999, 1.0)
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestCreateRecordIdempotentByToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.RegisterUser(ctx, "ext-1", record.RoleUser)
	require.NoError(t, err)

	first, err := store.CreateRecord(ctx, newTestRecord(user.ID, "tok-1"))
	require.NoError(t, err)

	second, err := store.CreateRecord(ctx, newTestRecord(user.ID, "tok-1"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	records, err := store.ListRecordsByOwner(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSetScoreSingleTransition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.RegisterUser(ctx, "ext-1", record.RoleUser)
	require.NoError(t, err)
	id, err := store.CreateRecord(ctx, newTestRecord(user.ID, "tok-1"))
	require.NoError(t, err)

	applied, err := store.SetScore(ctx, id, record.Acceptable)
	require.NoError(t, err)
	assert.True(t, applied)

	// Second transition must lose, regardless of tier
	applied, err = store.SetScore(ctx, id, record.Excellent)
	require.NoError(t, err)
	assert.False(t, applied)

	rec, err := store.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, record.Acceptable, rec.Score)
}

func TestSetScoreRejectsOutOfRangeTiers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.RegisterUser(ctx, "ext-1", record.RoleUser)
	require.NoError(t, err)
	id, err := store.CreateRecord(ctx, newTestRecord(user.ID, "tok-1"))
	require.NoError(t, err)

	// Writing the unscored sentinel would match the unscored guard and
	// report a transition that never happened.
	for _, score := range []record.Score{record.Unscored, record.Score(-1), record.Score(7)} {
		applied, err := store.SetScore(ctx, id, score)
		assert.Error(t, err)
		assert.False(t, applied)
	}

	// The record is untouched and still scorable
	rec, err := store.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, record.Unscored, rec.Score)

	applied, err := store.SetScore(ctx, id, record.Excellent)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestSetScoreUnknownRecord(t *testing.T) {
	store := newTestStore(t)

	applied, err := store.SetScore(context.Background(), 999, record.Acceptable)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMarkArchivedOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.RegisterUser(ctx, "ext-1", record.RoleUser)
	require.NoError(t, err)
	id, err := store.CreateRecord(ctx, newTestRecord(user.ID, "tok-1"))
	require.NoError(t, err)

	changed, err := store.MarkArchived(ctx, id)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.MarkArchived(ctx, id)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestListUnarchived(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.RegisterUser(ctx, "ext-1", record.RoleUser)
	require.NoError(t, err)

	first, err := store.CreateRecord(ctx, newTestRecord(user.ID, "tok-1"))
	require.NoError(t, err)
	second, err := store.CreateRecord(ctx, newTestRecord(user.ID, "tok-2"))
	require.NoError(t, err)

	unarchived, err := store.ListUnarchived(ctx)
	require.NoError(t, err)
	assert.Len(t, unarchived, 2)

	_, err = store.MarkArchived(ctx, first)
	require.NoError(t, err)

	unarchived, err = store.ListUnarchived(ctx)
	require.NoError(t, err)
	require.Len(t, unarchived, 1)
	assert.Equal(t, second, unarchived[0].ID)
}

func TestGetRecordNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRecord(context.Background(), 999)
	assert.ErrorIs(t, err, record.ErrNotFound)
}
