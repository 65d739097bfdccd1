// Package export implements the third-party export integrations: each
// connected service receives a copy of synced journal entries, with its own
// per-entry sync status tracked independently of the primary store's sync
// state. Every outbound call runs through the shared retry policy with a
// service-specific retry condition.
package export

import (
	"context"
	"time"

	"github.com/daybook-app/daybook-sync/internal/journal"
)

// ConnStatus describes an integration's connection state.
type ConnStatus struct {
	Connected        bool
	RemoteCollection string // provider-side container (database, calendar)
	LastSyncAt       time.Time
}

// Service is one export integration. Implementations perform the provider
// HTTP calls but no retrying of their own — the Manager wraps every call in
// the retry policy using the service's RetryCondition.
type Service interface {
	// Name identifies the service in sync_status rows and logs.
	Name() string

	Status(ctx context.Context) (*ConnStatus, error)
	Upsert(ctx context.Context, entry *journal.Entry) error
	Disconnect(ctx context.Context) error

	// RetryCondition classifies this provider's errors: token loss is
	// never retried, provider rate limits always are.
	RetryCondition() func(error) bool
}
