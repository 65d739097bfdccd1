package remote

import "context"

// Document is one record in a remote collection: the server-assigned id
// plus the field map.
type Document struct {
	ID     string
	Fields map[string]any
}

// Store is the remote document-store collaborator. The sync engine uses it
// for both the primary sync target and conflict lookups. Implementations
// must classify failures via NewStatusError (or otherwise return errors
// implementing Temporary()) so the retry policy can tell transient from
// permanent without string matching.
type Store interface {
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)
	Get(ctx context.Context, collection, id string) (map[string]any, error)
	Update(ctx context.Context, collection, id string, patch map[string]any) error
	Delete(ctx context.Context, collection, id string) error

	// Query returns documents whose fields equal every filter value.
	Query(ctx context.Context, collection string, filters map[string]any) ([]Document, error)
}
