// Package journal defines the journal entry data model shared by the
// queue, conflict detection, engine, and export packages, plus the field
// codec used when entries cross the remote document-store boundary.
package journal

import "time"

// SyncState tracks an entry's relationship to the primary remote store.
type SyncState string

// Sync states as stored in the entries sync_state column.
const (
	SyncStatePending SyncState = "pending"
	SyncStateSynced  SyncState = "synced"
	SyncStateFailed  SyncState = "failed"
)

// Entry is a journal entry as tracked by the local durable queue.
//
// Exactly one of {pending with no RemoteID} or {synced with a RemoteID}
// holds at any time; a failed entry keeps its last-known RemoteID so
// conflict detection can short-circuit when the entry is re-queued.
type Entry struct {
	// Identity
	LocalID  string // client-generated, stable, never reused
	RemoteID string // assigned once the server accepts the entry
	OwnerID  string

	// Content
	EntryDate      string // calendar date (2006-01-02), the natural conflict key
	Transcript     string
	SentimentScore float64
	Keywords       []string
	Wins           []string
	Regrets        []string
	Tasks          []string

	// Client-clock timestamps (Unix nanoseconds)
	CreatedAt int64
	UpdatedAt int64

	// Sync bookkeeping
	SyncState      SyncState
	CreatedOffline bool
	AttemptCount   int    // failed upsert attempts (not in-call retries)
	LastError      string
	LastAttemptAt  int64 // Unix nanoseconds, zero if never attempted
}

// NowNano returns the current time as Unix nanoseconds.
func NowNano() int64 {
	return time.Now().UnixNano()
}

// DateLayout is the wire and storage format for EntryDate.
const DateLayout = "2006-01-02"
