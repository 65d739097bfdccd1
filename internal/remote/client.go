package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

const userAgent = "daybook-sync/0.1"

// TokenSource provides bearer tokens for the remote store. Defined at the
// consumer per Go convention "accept interfaces, return structs"; the auth
// provider supplies the real implementation.
type TokenSource interface {
	Token() (string, error)
}

// Client is an HTTP JSON implementation of Store. It performs single-shot
// requests and classifies every non-2xx response at this boundary; retry
// budgets are the caller's retry policy's responsibility, never the
// client's.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
}

// NewClient creates a remote store client. baseURL points at the document
// API root, e.g. "https://api.daybook.example/v1".
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
	}
}

// createResponse is the body returned by document creation.
type createResponse struct {
	ID string `json:"id"`
}

// Create inserts a document and returns the server-assigned id.
func (c *Client) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	var resp createResponse

	err := c.do(ctx, http.MethodPost, c.collectionPath(collection), fields, &resp)
	if err != nil {
		return "", fmt.Errorf("remote: create in %s: %w", collection, err)
	}

	c.logger.Debug("document created",
		slog.String("collection", collection),
		slog.String("id", resp.ID),
	)

	return resp.ID, nil
}

// Get fetches a document's fields by id.
func (c *Client) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	var fields map[string]any

	err := c.do(ctx, http.MethodGet, c.documentPath(collection, id), nil, &fields)
	if err != nil {
		return nil, fmt.Errorf("remote: get %s/%s: %w", collection, id, err)
	}

	return fields, nil
}

// Update applies a partial field patch to a document.
func (c *Client) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	err := c.do(ctx, http.MethodPatch, c.documentPath(collection, id), patch, nil)
	if err != nil {
		return fmt.Errorf("remote: update %s/%s: %w", collection, id, err)
	}

	return nil
}

// Delete removes a document by id.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	err := c.do(ctx, http.MethodDelete, c.documentPath(collection, id), nil, nil)
	if err != nil {
		return fmt.Errorf("remote: delete %s/%s: %w", collection, id, err)
	}

	return nil
}

// queryRequest is the body for field-equality queries.
type queryRequest struct {
	Filters map[string]any `json:"filters"`
}

// Query returns documents matching all filter values.
func (c *Client) Query(ctx context.Context, collection string, filters map[string]any) ([]Document, error) {
	var docs []Document

	err := c.do(ctx, http.MethodPost, c.collectionPath(collection)+"/query", queryRequest{Filters: filters}, &docs)
	if err != nil {
		return nil, fmt.Errorf("remote: query %s: %w", collection, err)
	}

	return docs, nil
}

// do executes a single HTTP request, encoding body as JSON when non-nil and
// decoding the response into out when non-nil. Non-2xx responses become
// classified *Error values.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}

		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		return NewStatusError(resp.StatusCode, string(errBody))
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

func (c *Client) collectionPath(collection string) string {
	return "/collections/" + url.PathEscape(collection)
}

func (c *Client) documentPath(collection, id string) string {
	return c.collectionPath(collection) + "/documents/" + url.PathEscape(id)
}

// Compile-time interface check.
var _ Store = (*Client)(nil)
