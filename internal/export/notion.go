package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/daybook-app/daybook-sync/internal/journal"
	"github.com/daybook-app/daybook-sync/internal/remote"
	"github.com/daybook-app/daybook-sync/internal/retry"
)

const (
	notionServiceName = "notion"
	notionBaseURL     = "https://api.notion.com/v1"
	notionVersion     = "2022-06-28"
)

// Notion exports entries as pages of a Notion database. Tokens come from
// the OAuth token exchange (out of scope here) via an oauth2.TokenSource.
type Notion struct {
	httpClient *http.Client
	tokens     oauth2.TokenSource
	databaseID string
	logger     *slog.Logger
	baseURL    string

	lastSyncAt time.Time
}

// NewNotion creates the Notion integration for one workspace database.
func NewNotion(httpClient *http.Client, tokens oauth2.TokenSource, databaseID string, logger *slog.Logger) *Notion {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Notion{
		httpClient: httpClient,
		tokens:     tokens,
		databaseID: databaseID,
		logger:     logger,
		baseURL:    notionBaseURL,
	}
}

// Name implements Service.
func (n *Notion) Name() string { return notionServiceName }

// Status reports connection state by probing the configured database.
func (n *Notion) Status(ctx context.Context) (*ConnStatus, error) {
	if n.databaseID == "" {
		return &ConnStatus{}, nil
	}

	if err := n.do(ctx, http.MethodGet, "/databases/"+n.databaseID, nil); err != nil {
		if errors.Is(err, remote.ErrUnauthorized) || errors.Is(err, remote.ErrNotFound) {
			return &ConnStatus{}, nil
		}

		return nil, err
	}

	return &ConnStatus{
		Connected:        true,
		RemoteCollection: n.databaseID,
		LastSyncAt:       n.lastSyncAt,
	}, nil
}

// notionPage is the page-creation payload. Entry content maps to a title
// property plus a date property; list fields become multi-select options.
type notionPage struct {
	Parent     map[string]string `json:"parent"`
	Properties map[string]any    `json:"properties"`
}

// Upsert writes one entry as a database page.
func (n *Notion) Upsert(ctx context.Context, entry *journal.Entry) error {
	page := notionPage{
		Parent: map[string]string{"database_id": n.databaseID},
		Properties: map[string]any{
			"Date": map[string]any{"date": map[string]string{"start": entry.EntryDate}},
			"Entry": map[string]any{"title": []map[string]any{
				{"text": map[string]string{"content": entry.Transcript}},
			}},
			"Keywords": multiSelect(entry.Keywords),
			"Tasks":    multiSelect(entry.Tasks),
		},
	}

	if err := n.do(ctx, http.MethodPost, "/pages", page); err != nil {
		return fmt.Errorf("export: notion upsert %s: %w", entry.LocalID, err)
	}

	n.lastSyncAt = time.Now()

	n.logger.Debug("entry exported to notion",
		slog.String("local_id", entry.LocalID),
		slog.String("date", entry.EntryDate),
	)

	return nil
}

// Disconnect drops the integration's local linkage. Notion has no token
// revocation endpoint for integrations; forgetting the token is enough.
func (n *Notion) Disconnect(_ context.Context) error {
	n.databaseID = ""
	n.tokens = nil

	return nil
}

// RetryCondition never retries OAuth token loss (invalid_grant and friends
// surface as *oauth2.RetrieveError) and otherwise defers to the boundary
// classification: Notion signals rate limiting with HTTP 429, which is
// already transient.
func (n *Notion) RetryCondition() func(error) bool {
	return func(err error) bool {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return false
		}

		return retry.DefaultCondition(err)
	}
}

// do executes one Notion API call, classifying non-2xx responses at the
// boundary.
func (n *Notion) do(ctx context.Context, method, path string, body any) error {
	if n.tokens == nil {
		return fmt.Errorf("export: notion: %w", remote.ErrUnauthorized)
	}

	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding notion payload: %w", err)
		}

		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, n.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating notion request: %w", err)
	}

	tok, err := n.tokens.Token()
	if err != nil {
		return fmt.Errorf("obtaining notion token: %w", err)
	}

	tok.SetAuthHeader(req)
	req.Header.Set("Notion-Version", notionVersion)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		return remote.NewStatusError(resp.StatusCode, string(errBody))
	}

	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse

	return nil
}

// multiSelect builds a Notion multi-select property value. Option names may
// not contain commas; they are replaced to keep the payload valid.
func multiSelect(values []string) map[string]any {
	options := make([]map[string]string, 0, len(values))

	for _, v := range values {
		options = append(options, map[string]string{
			"name": strings.ReplaceAll(v, ",", " "),
		})
	}

	return map[string]any{"multi_select": options}
}

// Compile-time interface check.
var _ Service = (*Notion)(nil)
