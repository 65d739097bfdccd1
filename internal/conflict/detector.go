// Package conflict implements detection and resolution of sync conflicts.
// A conflict exists when a locally-queued entry and a remote entry occupy
// the same logical slot: same owner, same calendar date. Date collision is
// the cheapest meaningful conflict signal in a domain with at most one
// canonical entry per day per user; content hashing alone would miss the
// "same day, different content" case that most needs user attention.
package conflict

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/daybook-app/daybook-sync/internal/journal"
	"github.com/daybook-app/daybook-sync/internal/remote"
)

// Type classifies a detected conflict.
type Type string

// Conflict types: duplicate when transcript content is byte-identical,
// modified otherwise.
const (
	TypeDuplicate Type = "duplicate"
	TypeModified  Type = "modified"
)

// Conflict pairs a locally-queued entry with the remote entry occupying the
// same owner+date slot. Ephemeral: produced during a sync pass and held only
// until the user picks a resolution strategy, never persisted.
type Conflict struct {
	Local  *journal.Entry
	Remote *journal.Entry
	Type   Type
}

// Detector checks the remote store for entries occupying a local entry's
// owner+date slot.
type Detector struct {
	store      remote.Store
	collection string
	logger     *slog.Logger
}

// NewDetector creates a Detector querying the given remote collection.
func NewDetector(store remote.Store, collection string, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}

	return &Detector{
		store:      store,
		collection: collection,
		logger:     logger,
	}
}

// Detect queries the remote store for an entry with the local entry's owner
// and date. Returns nil when no remote entry exists, or when the remote
// entry is the local entry itself being re-synced (remote id match).
func (d *Detector) Detect(ctx context.Context, local *journal.Entry) (*Conflict, error) {
	docs, err := d.store.Query(ctx, d.collection, map[string]any{
		journal.FieldOwnerID:   local.OwnerID,
		journal.FieldEntryDate: local.EntryDate,
	})
	if err != nil {
		return nil, fmt.Errorf("conflict: querying %s for %s/%s: %w",
			d.collection, local.OwnerID, local.EntryDate, err)
	}

	if len(docs) == 0 {
		return nil, nil
	}

	doc := docs[0]

	// Same record being re-synced: not a conflict.
	if local.RemoteID != "" && doc.ID == local.RemoteID {
		return nil, nil
	}

	remoteEntry := journal.FromFields(doc.ID, doc.Fields)

	conflictType := TypeModified
	if remoteEntry.Transcript == local.Transcript {
		conflictType = TypeDuplicate
	}

	d.logger.Info("conflict detected",
		slog.String("local_id", local.LocalID),
		slog.String("remote_id", doc.ID),
		slog.String("date", local.EntryDate),
		slog.String("type", string(conflictType)),
	)

	return &Conflict{
		Local:  local,
		Remote: remoteEntry,
		Type:   conflictType,
	}, nil
}
