package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybook-app/daybook-sync/internal/journal"
	"github.com/daybook-app/daybook-sync/internal/status"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(":memory:", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func testEntry(owner, date string) *journal.Entry {
	return &journal.Entry{
		OwnerID:        owner,
		EntryDate:      date,
		Transcript:     "walked the dog, finished the report",
		SentimentScore: 0.7,
		Keywords:       []string{"dog", "report"},
		Wins:           []string{"finished the report"},
		Tasks:          []string{"call dentist"},
	}
}

func TestSave_AssignsLocalIDAndPendingState(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, testEntry("u1", "2026-03-14"), false)
	require.NoError(t, err)

	assert.NotEmpty(t, saved.LocalID)
	assert.Empty(t, saved.RemoteID)
	assert.Equal(t, journal.SyncStatePending, saved.SyncState)
	assert.False(t, saved.CreatedOffline)
	assert.Zero(t, saved.AttemptCount)
	assert.NotZero(t, saved.CreatedAt)

	got, err := s.Get(ctx, saved.LocalID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved.LocalID, got.LocalID)
	assert.Equal(t, "walked the dog, finished the report", got.Transcript)
	assert.Equal(t, []string{"dog", "report"}, got.Keywords)
}

func TestSave_RecordsOfflineFlag(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, testEntry("u1", "2026-03-14"), true)
	require.NoError(t, err)

	got, err := s.Get(ctx, saved.LocalID)
	require.NoError(t, err)
	assert.True(t, got.CreatedOffline)
}

func TestSave_LocalIDsAreUnique(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	seen := make(map[string]bool)

	for i := 0; i < 20; i++ {
		saved, err := s.Save(ctx, testEntry("u1", fmt.Sprintf("2026-03-%02d", i+1)), false)
		require.NoError(t, err)
		require.False(t, seen[saved.LocalID], "duplicate local id %s", saved.LocalID)
		seen[saved.LocalID] = true
	}
}

func TestGet_MissingEntryReturnsNilNil(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	got, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdate_PatchesOnlyProvidedFields(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, testEntry("u1", "2026-03-14"), false)
	require.NoError(t, err)

	transcript := "edited transcript"
	require.NoError(t, s.Update(ctx, saved.LocalID, Patch{
		Transcript: &transcript,
		Tasks:      []string{"call dentist", "buy milk"},
	}))

	got, err := s.Get(ctx, saved.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "edited transcript", got.Transcript)
	assert.Equal(t, []string{"call dentist", "buy milk"}, got.Tasks)
	// Unpatched fields retain stored values.
	assert.Equal(t, 0.7, got.SentimentScore)
	assert.Equal(t, []string{"dog", "report"}, got.Keywords)
}

func TestUpdate_MissingEntryFails(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	transcript := "x"
	err := s.Update(context.Background(), "nope", Patch{Transcript: &transcript})
	assert.Error(t, err)
}

func TestMarkSynced_SetsRemoteIDAndClearsError(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, testEntry("u1", "2026-03-14"), false)
	require.NoError(t, err)

	require.NoError(t, s.MarkFailed(ctx, saved.LocalID, errors.New("server error")))
	require.NoError(t, s.MarkSynced(ctx, saved.LocalID, "doc-1"))

	got, err := s.Get(ctx, saved.LocalID)
	require.NoError(t, err)
	assert.Equal(t, journal.SyncStateSynced, got.SyncState)
	assert.Equal(t, "doc-1", got.RemoteID)
	assert.Empty(t, got.LastError)
}

func TestMarkFailed_IncrementsAttemptCount(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, testEntry("u1", "2026-03-14"), false)
	require.NoError(t, err)

	require.NoError(t, s.MarkFailed(ctx, saved.LocalID, errors.New("first")))
	require.NoError(t, s.MarkFailed(ctx, saved.LocalID, errors.New("second")))

	got, err := s.Get(ctx, saved.LocalID)
	require.NoError(t, err)
	assert.Equal(t, journal.SyncStateFailed, got.SyncState)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, "second", got.LastError)
	assert.NotZero(t, got.LastAttemptAt)
}

func TestRetry_RequeuesPreservingAttemptCountAndRemoteID(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, testEntry("u1", "2026-03-14"), false)
	require.NoError(t, err)

	require.NoError(t, s.MarkSynced(ctx, saved.LocalID, "doc-1"))
	require.NoError(t, s.MarkFailed(ctx, saved.LocalID, errors.New("later failure")))
	require.NoError(t, s.Retry(ctx, saved.LocalID))

	got, err := s.Get(ctx, saved.LocalID)
	require.NoError(t, err)
	assert.Equal(t, journal.SyncStatePending, got.SyncState)
	assert.Empty(t, got.LastError)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "doc-1", got.RemoteID)
}

func TestListPendingAndFailed_FilterByOwnerAndState(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Save(ctx, testEntry("u1", "2026-03-14"), false)
	require.NoError(t, err)

	b, err := s.Save(ctx, testEntry("u1", "2026-03-15"), false)
	require.NoError(t, err)

	_, err = s.Save(ctx, testEntry("u2", "2026-03-14"), false)
	require.NoError(t, err)

	require.NoError(t, s.MarkFailed(ctx, b.LocalID, errors.New("boom")))

	pending, err := s.ListPending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.LocalID, pending[0].LocalID)

	failed, err := s.ListFailed(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, b.LocalID, failed[0].LocalID)
}

func TestListPending_InsertionOrder(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	// Deterministic increasing clock so created_at ordering is stable.
	var tick int64 = 1000

	s.nowFunc = func() int64 {
		tick += 10
		return tick
	}

	var ids []string

	for i := 0; i < 5; i++ {
		saved, err := s.Save(ctx, testEntry("u1", fmt.Sprintf("2026-04-%02d", i+1)), false)
		require.NoError(t, err)
		ids = append(ids, saved.LocalID)
	}

	pending, err := s.ListPending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 5)

	for i, e := range pending {
		assert.Equal(t, ids[i], e.LocalID)
	}
}

func TestGetByDate(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, testEntry("u1", "2026-03-14"), false)
	require.NoError(t, err)

	got, err := s.GetByDate(ctx, "u1", "2026-03-14")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved.LocalID, got.LocalID)

	missing, err := s.GetByDate(ctx, "u1", "2026-03-15")
	require.NoError(t, err)
	assert.Nil(t, missing)

	otherOwner, err := s.GetByDate(ctx, "u2", "2026-03-14")
	require.NoError(t, err)
	assert.Nil(t, otherOwner)
}

func TestDelete_RemovesEntryAndStatusRows(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, testEntry("u1", "2026-03-14"), false)
	require.NoError(t, err)

	require.NoError(t, s.UpsertServiceStatus(ctx, saved.LocalID, &status.Info{
		Service:   "notion",
		Status:    status.StateSynced,
		UpdatedAt: journal.NowNano(),
	}))

	require.NoError(t, s.Delete(ctx, saved.LocalID))

	got, err := s.Get(ctx, saved.LocalID)
	require.NoError(t, err)
	assert.Nil(t, got)

	statuses, err := s.ListServiceStatuses(ctx, saved.LocalID)
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestPurgeSynced_RespectsRetentionAndState(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC).UnixNano()
	now := base

	s.nowFunc = func() int64 { return now }

	oldSynced, err := s.Save(ctx, testEntry("u1", "2026-03-01"), false)
	require.NoError(t, err)
	require.NoError(t, s.MarkSynced(ctx, oldSynced.LocalID, "doc-1"))

	oldFailed, err := s.Save(ctx, testEntry("u1", "2026-03-02"), false)
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, oldFailed.LocalID, errors.New("boom")))

	oldPending, err := s.Save(ctx, testEntry("u1", "2026-03-03"), false)
	require.NoError(t, err)

	// Advance past the retention window, then add a fresh synced entry.
	now = base + (10 * 24 * time.Hour).Nanoseconds()

	freshSynced, err := s.Save(ctx, testEntry("u1", "2026-03-13"), false)
	require.NoError(t, err)
	require.NoError(t, s.MarkSynced(ctx, freshSynced.LocalID, "doc-2"))

	purged, err := s.PurgeSynced(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	// Only the old synced entry is gone.
	gone, err := s.Get(ctx, oldSynced.LocalID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	for _, id := range []string{oldFailed.LocalID, oldPending.LocalID, freshSynced.LocalID} {
		kept, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, kept, "entry %s should survive purge", id)
	}
}

func TestOwnerStats(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Save(ctx, testEntry("u1", "2026-03-14"), false)
	require.NoError(t, err)

	b, err := s.Save(ctx, testEntry("u1", "2026-03-15"), false)
	require.NoError(t, err)

	_, err = s.Save(ctx, testEntry("u1", "2026-03-16"), false)
	require.NoError(t, err)

	require.NoError(t, s.MarkSynced(ctx, a.LocalID, "doc-1"))
	require.NoError(t, s.MarkFailed(ctx, b.LocalID, errors.New("boom")))

	stats, err := s.OwnerStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Synced)
	assert.Equal(t, 1, stats.Failed)
}

func TestUpsertServiceStatus_UpdatesInPlace(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, testEntry("u1", "2026-03-14"), false)
	require.NoError(t, err)

	require.NoError(t, s.UpsertServiceStatus(ctx, saved.LocalID, &status.Info{
		Service:    "notion",
		Status:     status.StateSynced,
		LastSyncAt: 100,
		UpdatedAt:  100,
	}))

	// A later failed write keeps the recorded last_sync_at.
	require.NoError(t, s.UpsertServiceStatus(ctx, saved.LocalID, &status.Info{
		Service:     "notion",
		Status:      status.StateFailed,
		LastError:   "throttled",
		RetryCount:  1,
		NextRetryAt: 500,
		UpdatedAt:   200,
	}))

	statuses, err := s.ListServiceStatuses(ctx, saved.LocalID)
	require.NoError(t, err)
	require.Len(t, statuses, 1)

	got := statuses[0]
	assert.Equal(t, status.StateFailed, got.Status)
	assert.Equal(t, int64(100), got.LastSyncAt)
	assert.Equal(t, "throttled", got.LastError)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, int64(500), got.NextRetryAt)
}
