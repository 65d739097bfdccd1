package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybook-app/daybook-sync/internal/conflict"
	"github.com/daybook-app/daybook-sync/internal/journal"
	"github.com/daybook-app/daybook-sync/internal/queue"
	"github.com/daybook-app/daybook-sync/internal/remote"
	"github.com/daybook-app/daybook-sync/internal/retry"
)

// scriptedStore is a remote.Store whose documents and failure script are set
// up per test. Unlike fakeStore it supports owner+date queries, so the real
// conflict detector can run against it.
type scriptedStore struct {
	mu       sync.Mutex
	docs     map[string]map[string]any
	nextID   int
	failures int // Create errors to return before succeeding
	failWith error
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{docs: make(map[string]map[string]any)}
}

func (s *scriptedStore) put(id string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[id] = fields
}

func (s *scriptedStore) Create(_ context.Context, _ string, fields map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return "", s.failWith
	}

	s.nextID++
	id := "srv-" + fields[journal.FieldEntryDate].(string)
	s.docs[id] = fields

	return id, nil
}

func (s *scriptedStore) Get(_ context.Context, _ string, id string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.docs[id], nil
}

func (s *scriptedStore) Update(_ context.Context, _ string, id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[id] = patch

	return nil
}

func (s *scriptedStore) Delete(_ context.Context, _ string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, id)

	return nil
}

func (s *scriptedStore) Query(_ context.Context, _ string, filters map[string]any) ([]remote.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []remote.Document

	for id, fields := range s.docs {
		match := true

		for k, v := range filters {
			if fields[k] != v {
				match = false
				break
			}
		}

		if match {
			out = append(out, remote.Document{ID: id, Fields: fields})
		}
	}

	return out, nil
}

// newIntegrationEngine wires the real queue and detector against a scripted
// remote store.
func newIntegrationEngine(t *testing.T, store *scriptedStore) (*Engine, *queue.Store) {
	t.Helper()

	q, err := queue.NewStore(":memory:", discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	policy := retry.NewPolicy(retry.Options{MaxRetries: 5, InitialDelay: 1, MaxDelay: 2}, discardLogger())

	e, engineErr := New(Config{
		Queue:      q,
		Detector:   conflict.NewDetector(store, "journal_entries", discardLogger()),
		Remote:     store,
		Collection: "journal_entries",
		Policy:     policy,
		Identity:   fakeIdentity{userID: "u1"},
		Probe:      newFakeProbe(true),
		Logger:     discardLogger(),
	})
	require.NoError(t, engineErr)

	return e, q
}

func TestIntegration_OfflineEntrySyncsCleanly(t *testing.T) {
	t.Parallel()

	store := newScriptedStore()
	e, q := newIntegrationEngine(t, store)
	ctx := context.Background()

	saved, err := q.Save(ctx, &journal.Entry{
		OwnerID:    "u1",
		EntryDate:  "2024-01-15",
		Transcript: "A",
	}, true)
	require.NoError(t, err)
	assert.True(t, saved.CreatedOffline)
	assert.Equal(t, journal.SyncStatePending, saved.SyncState)

	report, err := e.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)

	got, err := q.Get(ctx, saved.LocalID)
	require.NoError(t, err)
	assert.Equal(t, journal.SyncStateSynced, got.SyncState)
	assert.NotEmpty(t, got.RemoteID)
	assert.Equal(t, "A", store.docs[got.RemoteID][journal.FieldTranscript])
}

func TestIntegration_ConflictSurfacedThenUseServer(t *testing.T) {
	t.Parallel()

	store := newScriptedStore()
	store.put("srv-existing", map[string]any{
		journal.FieldOwnerID:    "u1",
		journal.FieldEntryDate:  "2024-01-15",
		journal.FieldTranscript: "B",
	})

	e, q := newIntegrationEngine(t, store)
	ctx := context.Background()

	saved, err := q.Save(ctx, &journal.Entry{
		OwnerID:    "u1",
		EntryDate:  "2024-01-15",
		Transcript: "A",
	}, true)
	require.NoError(t, err)

	report, err := e.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Conflicts)

	conflicts := e.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, conflict.TypeModified, conflicts[0].Type)

	// The record stays pending until resolved.
	got, err := q.Get(ctx, saved.LocalID)
	require.NoError(t, err)
	assert.Equal(t, journal.SyncStatePending, got.SyncState)

	// Resolve keeping the server's version.
	resolver := conflict.NewResolver(q, store, "journal_entries",
		retry.NewPolicy(retry.Options{MaxRetries: 1, InitialDelay: 1}, discardLogger()), discardLogger())

	require.NoError(t, resolver.Resolve(ctx, conflicts[0], conflict.StrategyUseServer))

	got, err = q.Get(ctx, saved.LocalID)
	require.NoError(t, err)
	assert.Equal(t, journal.SyncStateSynced, got.SyncState)
	assert.Equal(t, "srv-existing", got.RemoteID)
	// The server record's transcript is untouched.
	assert.Equal(t, "B", store.docs["srv-existing"][journal.FieldTranscript])

	// The next pass finds nothing pending and no conflicts.
	report, err = e.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Empty(t, e.Conflicts())
}

func TestIntegration_TransientFailuresRetryWithinOneAttempt(t *testing.T) {
	t.Parallel()

	store := newScriptedStore()
	store.failures = 3
	store.failWith = remote.NewStatusError(503, "maintenance")

	e, q := newIntegrationEngine(t, store)
	ctx := context.Background()

	saved, err := q.Save(ctx, &journal.Entry{
		OwnerID:    "u1",
		EntryDate:  "2024-01-15",
		Transcript: "A",
	}, false)
	require.NoError(t, err)

	report, err := e.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)

	// In-call retries are invisible to the record: the attempt count only
	// moves on a failed sync attempt, and this one ultimately succeeded.
	got, err := q.Get(ctx, saved.LocalID)
	require.NoError(t, err)
	assert.Equal(t, journal.SyncStateSynced, got.SyncState)
	assert.Zero(t, got.AttemptCount)
	assert.Empty(t, got.LastError)
}

func TestIntegration_RetryFailedRoundTrip(t *testing.T) {
	t.Parallel()

	store := newScriptedStore()
	store.failures = 100 // exhaust the in-call budget
	store.failWith = remote.NewStatusError(503, "down")

	e, q := newIntegrationEngine(t, store)
	ctx := context.Background()

	saved, err := q.Save(ctx, &journal.Entry{
		OwnerID:    "u1",
		EntryDate:  "2024-01-15",
		Transcript: "A",
	}, false)
	require.NoError(t, err)

	report, err := e.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, StateError, e.State())

	got, err := q.Get(ctx, saved.LocalID)
	require.NoError(t, err)
	assert.Equal(t, journal.SyncStateFailed, got.SyncState)
	assert.Equal(t, 1, got.AttemptCount)
	assert.NotEmpty(t, got.LastError)

	// Failed entries are excluded from ordinary passes.
	report, err = e.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Total)

	// The service recovers; an explicit retry re-queues and syncs.
	store.mu.Lock()
	store.failures = 0
	store.mu.Unlock()

	requeued, err := e.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	report, err = e.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)

	got, err = q.Get(ctx, saved.LocalID)
	require.NoError(t, err)
	assert.Equal(t, journal.SyncStateSynced, got.SyncState)
}
