// Package queue implements the local durable queue: the SQLite-backed store
// of journal entries pending sync, keyed by a locally-generated id that is
// independent of any server-assigned id. It is the system's source of truth
// until an entry is accepted remotely, and it survives process restart.
//
// Concurrency discipline: one orchestrator instance mutates the queue;
// UI/status code reads concurrently. SQLite in WAL mode plus a single
// write connection gives single-writer/multiple-reader semantics without
// additional locking in this package.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/daybook-app/daybook-sync/internal/journal"
)

// walJournalSizeLimit bounds WAL growth (64 MiB).
const walJournalSizeLimit = 67108864

// localIDSuffixLen is the length of the random suffix appended to the
// time-based component of generated local ids.
const localIDSuffixLen = 8

// Store is the durable queue. Open with NewStore; use ":memory:" for tests.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// nowFunc and newSuffix are injectable for deterministic tests.
	nowFunc   func() int64
	newSuffix func() string

	entryStmts  entryStatements
	statusStmts statusStatements
}

// Statement groups, one per table.
type entryStatements struct {
	get, insert, updateContent, delete *sql.Stmt
	listByState, getByDate             *sql.Stmt
	markSynced, markFailed, retry      *sql.Stmt
}

type statusStatements struct {
	upsert, list, deleteForEntry *sql.Stmt
}

// NewStore opens (creating if needed) the queue database at dbPath, applies
// migrations, and prepares all repeated statements.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening queue database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("queue: open sqlite: %w", err)
	}

	// Single write connection; WAL readers are unaffected.
	db.SetMaxOpenConns(1)

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:        db,
		logger:    logger,
		nowFunc:   journal.NowNano,
		newSuffix: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:localIDSuffixLen] },
	}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: prepare statements: %w", err)
	}

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("queue: set pragma %q: %w", p, err)
		}
	}

	return nil
}

// --- SQL statement constants ---

const sqlEntryColumns = `local_id, remote_id, owner_id, entry_date, transcript,
	sentiment_score, keywords, wins, regrets, tasks,
	created_at, updated_at, sync_state, created_offline,
	attempt_count, last_error, last_attempt_at`

const (
	sqlGetEntry = `SELECT ` + sqlEntryColumns + ` FROM entries WHERE local_id = ?`

	sqlInsertEntry = `INSERT INTO entries (` + sqlEntryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateContent = `UPDATE entries SET
		transcript = ?, sentiment_score = ?, keywords = ?, wins = ?,
		regrets = ?, tasks = ?, updated_at = ?
		WHERE local_id = ?`

	sqlDeleteEntry = `DELETE FROM entries WHERE local_id = ?`

	sqlListByState = `SELECT ` + sqlEntryColumns + ` FROM entries
		WHERE owner_id = ? AND sync_state = ? ORDER BY created_at, local_id`

	sqlGetByDate = `SELECT ` + sqlEntryColumns + ` FROM entries
		WHERE owner_id = ? AND entry_date = ? ORDER BY created_at LIMIT 1`

	sqlMarkSynced = `UPDATE entries SET
		sync_state = ?, remote_id = ?, last_error = '', updated_at = ?
		WHERE local_id = ?`

	sqlMarkFailed = `UPDATE entries SET
		sync_state = ?, attempt_count = attempt_count + 1,
		last_error = ?, last_attempt_at = ?, updated_at = ?
		WHERE local_id = ?`

	sqlRetryEntry = `UPDATE entries SET
		sync_state = ?, last_error = '', updated_at = ?
		WHERE local_id = ?`
)

const (
	sqlUpsertStatus = `INSERT INTO sync_status
		(local_id, service, status, last_sync_at, last_error, retry_count, next_retry_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id, service) DO UPDATE SET
			status        = excluded.status,
			last_sync_at  = CASE WHEN excluded.last_sync_at != 0
				THEN excluded.last_sync_at ELSE sync_status.last_sync_at END,
			last_error    = excluded.last_error,
			retry_count   = excluded.retry_count,
			next_retry_at = excluded.next_retry_at,
			updated_at    = excluded.updated_at`

	sqlListStatuses = `SELECT service, status, last_sync_at, last_error,
		retry_count, next_retry_at, updated_at
		FROM sync_status WHERE local_id = ? ORDER BY service`

	sqlDeleteStatuses = `DELETE FROM sync_status WHERE local_id = ?`
)

// stmtDef maps a SQL string to the prepared statement pointer it populates.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

func (s *Store) prepareStatements(ctx context.Context) error {
	defs := []stmtDef{
		{&s.entryStmts.get, sqlGetEntry, "getEntry"},
		{&s.entryStmts.insert, sqlInsertEntry, "insertEntry"},
		{&s.entryStmts.updateContent, sqlUpdateContent, "updateContent"},
		{&s.entryStmts.delete, sqlDeleteEntry, "deleteEntry"},
		{&s.entryStmts.listByState, sqlListByState, "listByState"},
		{&s.entryStmts.getByDate, sqlGetByDate, "getByDate"},
		{&s.entryStmts.markSynced, sqlMarkSynced, "markSynced"},
		{&s.entryStmts.markFailed, sqlMarkFailed, "markFailed"},
		{&s.entryStmts.retry, sqlRetryEntry, "retryEntry"},
		{&s.statusStmts.upsert, sqlUpsertStatus, "upsertStatus"},
		{&s.statusStmts.list, sqlListStatuses, "listStatuses"},
		{&s.statusStmts.deleteForEntry, sqlDeleteStatuses, "deleteStatuses"},
	}

	for i := range defs {
		stmt, err := s.db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

// --- Entry operations ---

// Save assigns a fresh local id, stamps timestamps if absent, and stores the
// entry as pending. offline records whether connectivity was down at call
// time. The queue is the single write path: entries are always created here,
// even when online.
func (s *Store) Save(ctx context.Context, e *journal.Entry, offline bool) (*journal.Entry, error) {
	now := s.nowFunc()

	stored := *e
	stored.LocalID = fmt.Sprintf("%d-%s", now, s.newSuffix())
	stored.SyncState = journal.SyncStatePending
	stored.CreatedOffline = offline
	stored.AttemptCount = 0
	stored.LastError = ""
	stored.LastAttemptAt = 0

	if stored.CreatedAt == 0 {
		stored.CreatedAt = now
	}

	if stored.UpdatedAt == 0 {
		stored.UpdatedAt = now
	}

	args, err := insertArgs(&stored)
	if err != nil {
		return nil, err
	}

	if _, err := s.entryStmts.insert.ExecContext(ctx, args...); err != nil {
		return nil, fmt.Errorf("queue: save entry: %w", err)
	}

	s.logger.Info("entry queued",
		slog.String("local_id", stored.LocalID),
		slog.String("owner_id", stored.OwnerID),
		slog.String("date", stored.EntryDate),
		slog.Bool("created_offline", offline),
	)

	return &stored, nil
}

// Get retrieves an entry by local id. Returns (nil, nil) if no entry
// exists — callers use the nil entry to distinguish missing from error.
func (s *Store) Get(ctx context.Context, localID string) (*journal.Entry, error) {
	e, err := scanEntry(s.entryStmts.get.QueryRowContext(ctx, localID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("queue: get entry %s: %w", localID, err)
	}

	return e, nil
}

// Patch holds optional content changes for Update. Nil fields are left
// unchanged; non-nil list fields replace the stored lists wholesale.
type Patch struct {
	Transcript     *string
	SentimentScore *float64
	Keywords       []string
	Wins           []string
	Regrets        []string
	Tasks          []string
}

// Update applies a content patch to an entry and bumps updated_at. Sync
// bookkeeping is never patched here; use MarkSynced/MarkFailed/Retry.
func (s *Store) Update(ctx context.Context, localID string, patch Patch) error {
	e, err := s.Get(ctx, localID)
	if err != nil {
		return err
	}

	if e == nil {
		return fmt.Errorf("queue: update %s: entry not found", localID)
	}

	if patch.Transcript != nil {
		e.Transcript = *patch.Transcript
	}

	if patch.SentimentScore != nil {
		e.SentimentScore = *patch.SentimentScore
	}

	if patch.Keywords != nil {
		e.Keywords = patch.Keywords
	}

	if patch.Wins != nil {
		e.Wins = patch.Wins
	}

	if patch.Regrets != nil {
		e.Regrets = patch.Regrets
	}

	if patch.Tasks != nil {
		e.Tasks = patch.Tasks
	}

	lists, err := encodeLists(e)
	if err != nil {
		return err
	}

	_, err = s.entryStmts.updateContent.ExecContext(ctx,
		e.Transcript, e.SentimentScore,
		lists.keywords, lists.wins, lists.regrets, lists.tasks,
		s.nowFunc(), localID,
	)
	if err != nil {
		return fmt.Errorf("queue: update entry %s: %w", localID, err)
	}

	return nil
}

// Delete removes an entry and its per-service status rows. Deletion is an
// explicit user operation, never something the sync engine does on its own.
func (s *Store) Delete(ctx context.Context, localID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: begin delete tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.StmtContext(ctx, s.statusStmts.deleteForEntry).ExecContext(ctx, localID); err != nil {
		return fmt.Errorf("queue: delete statuses for %s: %w", localID, err)
	}

	if _, err := tx.StmtContext(ctx, s.entryStmts.delete).ExecContext(ctx, localID); err != nil {
		return fmt.Errorf("queue: delete entry %s: %w", localID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("queue: commit delete: %w", err)
	}

	s.logger.Info("entry deleted", slog.String("local_id", localID))

	return nil
}

// ListPending returns an owner's pending entries in insertion order.
func (s *Store) ListPending(ctx context.Context, ownerID string) ([]*journal.Entry, error) {
	return s.listByState(ctx, ownerID, journal.SyncStatePending)
}

// ListFailed returns an owner's failed entries in insertion order.
func (s *Store) ListFailed(ctx context.Context, ownerID string) ([]*journal.Entry, error) {
	return s.listByState(ctx, ownerID, journal.SyncStateFailed)
}

// ListSynced returns an owner's synced entries in insertion order. Used by
// the export integrations, which only ever see server-accepted entries.
func (s *Store) ListSynced(ctx context.Context, ownerID string) ([]*journal.Entry, error) {
	return s.listByState(ctx, ownerID, journal.SyncStateSynced)
}

func (s *Store) listByState(ctx context.Context, ownerID string, state journal.SyncState) ([]*journal.Entry, error) {
	rows, err := s.entryStmts.listByState.QueryContext(ctx, ownerID, string(state))
	if err != nil {
		return nil, fmt.Errorf("queue: list %s entries: %w", state, err)
	}
	defer rows.Close()

	return scanEntryRows(rows)
}

// GetByDate returns the owner's entry for a calendar date, or (nil, nil) if
// none exists. Backed by the (owner_id, entry_date) index.
func (s *Store) GetByDate(ctx context.Context, ownerID, date string) (*journal.Entry, error) {
	e, err := scanEntry(s.entryStmts.getByDate.QueryRowContext(ctx, ownerID, date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("queue: get entry by date %s/%s: %w", ownerID, date, err)
	}

	return e, nil
}

// MarkSynced records a successful upsert: sets the remote id, transitions to
// synced, and clears the last error.
func (s *Store) MarkSynced(ctx context.Context, localID, remoteID string) error {
	_, err := s.entryStmts.markSynced.ExecContext(ctx,
		string(journal.SyncStateSynced), remoteID, s.nowFunc(), localID)
	if err != nil {
		return fmt.Errorf("queue: mark synced %s: %w", localID, err)
	}

	s.logger.Info("entry synced",
		slog.String("local_id", localID),
		slog.String("remote_id", remoteID),
	)

	return nil
}

// MarkFailed records a failed upsert: transitions to failed, increments the
// attempt count, and stores the error.
func (s *Store) MarkFailed(ctx context.Context, localID string, cause error) error {
	now := s.nowFunc()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	_, err := s.entryStmts.markFailed.ExecContext(ctx,
		string(journal.SyncStateFailed), msg, now, now, localID)
	if err != nil {
		return fmt.Errorf("queue: mark failed %s: %w", localID, err)
	}

	s.logger.Warn("entry sync failed",
		slog.String("local_id", localID),
		slog.String("error", msg),
	)

	return nil
}

// Retry re-queues an entry as pending and clears the last error. The
// attempt count is preserved for backoff-ladder lookups elsewhere, and a
// previously-assigned remote id is retained so conflict detection can
// short-circuit on id match.
func (s *Store) Retry(ctx context.Context, localID string) error {
	_, err := s.entryStmts.retry.ExecContext(ctx,
		string(journal.SyncStatePending), s.nowFunc(), localID)
	if err != nil {
		return fmt.Errorf("queue: retry %s: %w", localID, err)
	}

	return nil
}

// PurgeSynced removes synced entries older than the retention window to
// bound storage growth. Pending and failed entries are never purged
// regardless of age. Returns the number of entries removed.
func (s *Store) PurgeSynced(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.nowFunc() - retention.Nanoseconds()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE sync_state = ? AND updated_at < ?`,
		string(journal.SyncStateSynced), cutoff)
	if err != nil {
		return 0, fmt.Errorf("queue: purge synced: %w", err)
	}

	affected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		s.logger.Warn("could not read rows affected", slog.String("error", rowsErr.Error()))
	}

	if affected > 0 {
		s.logger.Info("purged synced entries",
			slog.Int64("count", affected),
			slog.Duration("retention", retention),
		)
	}

	return affected, nil
}

// Stats summarizes an owner's queue by sync state.
type Stats struct {
	Total   int
	Pending int
	Synced  int
	Failed  int
}

// OwnerStats counts an owner's entries per sync state.
func (s *Store) OwnerStats(ctx context.Context, ownerID string) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sync_state, COUNT(*) FROM entries WHERE owner_id = ? GROUP BY sync_state`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("queue: owner stats %s: %w", ownerID, err)
	}
	defer rows.Close()

	stats := &Stats{}

	for rows.Next() {
		var (
			state string
			count int
		)

		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("queue: scan stats row: %w", err)
		}

		stats.Total += count

		switch journal.SyncState(state) {
		case journal.SyncStatePending:
			stats.Pending = count
		case journal.SyncStateSynced:
			stats.Synced = count
		case journal.SyncStateFailed:
			stats.Failed = count
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: iterate stats rows: %w", err)
	}

	return stats, nil
}

// Checkpoint forces a WAL checkpoint to consolidate the WAL into the main
// database file.
func (s *Store) Checkpoint() error {
	if _, err := s.db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("queue: wal checkpoint: %w", err)
	}

	return nil
}

// Close closes all prepared statements and the database connection.
func (s *Store) Close() error {
	s.logger.Info("closing queue database")

	stmts := []*sql.Stmt{
		s.entryStmts.get, s.entryStmts.insert, s.entryStmts.updateContent,
		s.entryStmts.delete, s.entryStmts.listByState, s.entryStmts.getByDate,
		s.entryStmts.markSynced, s.entryStmts.markFailed, s.entryStmts.retry,
		s.statusStmts.upsert, s.statusStmts.list, s.statusStmts.deleteForEntry,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if err := s.db.Close(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("queue: close: %s", strings.Join(errs, "; "))
	}

	return nil
}

// --- Scan/encode helpers ---

type encodedLists struct {
	keywords, wins, regrets, tasks string
}

func encodeLists(e *journal.Entry) (*encodedLists, error) {
	out := &encodedLists{}

	for _, pair := range []struct {
		dest *string
		src  []string
		name string
	}{
		{&out.keywords, e.Keywords, "keywords"},
		{&out.wins, e.Wins, "wins"},
		{&out.regrets, e.Regrets, "regrets"},
		{&out.tasks, e.Tasks, "tasks"},
	} {
		if pair.src == nil {
			*pair.dest = "[]"
			continue
		}

		b, err := json.Marshal(pair.src)
		if err != nil {
			return nil, fmt.Errorf("queue: encoding %s: %w", pair.name, err)
		}

		*pair.dest = string(b)
	}

	return out, nil
}

func decodeList(raw, name string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}

	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("queue: decoding %s: %w", name, err)
	}

	return out, nil
}

func insertArgs(e *journal.Entry) ([]any, error) {
	lists, err := encodeLists(e)
	if err != nil {
		return nil, err
	}

	offline := 0
	if e.CreatedOffline {
		offline = 1
	}

	return []any{
		e.LocalID, e.RemoteID, e.OwnerID, e.EntryDate, e.Transcript,
		e.SentimentScore, lists.keywords, lists.wins, lists.regrets, lists.tasks,
		e.CreatedAt, e.UpdatedAt, string(e.SyncState), offline,
		e.AttemptCount, e.LastError, e.LastAttemptAt,
	}, nil
}

// scanEntry scans a full entry row into a journal.Entry.
func scanEntry(row interface{ Scan(...any) error }) (*journal.Entry, error) {
	e := &journal.Entry{}

	var (
		state                          string
		offline                        int
		keywords, wins, regrets, tasks string
	)

	err := row.Scan(
		&e.LocalID, &e.RemoteID, &e.OwnerID, &e.EntryDate, &e.Transcript,
		&e.SentimentScore, &keywords, &wins, &regrets, &tasks,
		&e.CreatedAt, &e.UpdatedAt, &state, &offline,
		&e.AttemptCount, &e.LastError, &e.LastAttemptAt,
	)
	if err != nil {
		return nil, err
	}

	e.SyncState = journal.SyncState(state)
	e.CreatedOffline = offline != 0

	for _, pair := range []struct {
		dest *[]string
		raw  string
		name string
	}{
		{&e.Keywords, keywords, "keywords"},
		{&e.Wins, wins, "wins"},
		{&e.Regrets, regrets, "regrets"},
		{&e.Tasks, tasks, "tasks"},
	} {
		list, decodeErr := decodeList(pair.raw, pair.name)
		if decodeErr != nil {
			return nil, decodeErr
		}

		*pair.dest = list
	}

	return e, nil
}

func scanEntryRows(rows *sql.Rows) ([]*journal.Entry, error) {
	var entries []*journal.Entry

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("queue: scan entry row: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: iterate entry rows: %w", err)
	}

	return entries, nil
}
