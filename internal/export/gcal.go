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
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/daybook-app/daybook-sync/internal/journal"
	"github.com/daybook-app/daybook-sync/internal/remote"
	"github.com/daybook-app/daybook-sync/internal/retry"
)

const (
	gcalServiceName = "google_calendar"
	gcalBaseURL     = "https://www.googleapis.com/calendar/v3"
)

// GoogleCalendar exports each entry as an all-day "journal summary" event
// on a dedicated calendar.
type GoogleCalendar struct {
	httpClient *http.Client
	tokens     oauth2.TokenSource
	calendarID string
	logger     *slog.Logger
	baseURL    string

	lastSyncAt time.Time
}

// NewGoogleCalendar creates the calendar integration for one calendar.
func NewGoogleCalendar(httpClient *http.Client, tokens oauth2.TokenSource, calendarID string, logger *slog.Logger) *GoogleCalendar {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &GoogleCalendar{
		httpClient: httpClient,
		tokens:     tokens,
		calendarID: calendarID,
		logger:     logger,
		baseURL:    gcalBaseURL,
	}
}

// Name implements Service.
func (g *GoogleCalendar) Name() string { return gcalServiceName }

// Status probes the configured calendar.
func (g *GoogleCalendar) Status(ctx context.Context) (*ConnStatus, error) {
	if g.calendarID == "" {
		return &ConnStatus{}, nil
	}

	err := g.do(ctx, http.MethodGet, "/calendars/"+url.PathEscape(g.calendarID), nil)
	if err != nil {
		if errors.Is(err, remote.ErrUnauthorized) || errors.Is(err, remote.ErrNotFound) {
			return &ConnStatus{}, nil
		}

		return nil, err
	}

	return &ConnStatus{
		Connected:        true,
		RemoteCollection: g.calendarID,
		LastSyncAt:       g.lastSyncAt,
	}, nil
}

// gcalEvent is the all-day event payload.
type gcalEvent struct {
	Summary     string            `json:"summary"`
	Description string            `json:"description"`
	Start       map[string]string `json:"start"`
	End         map[string]string `json:"end"`
}

// Upsert writes one entry as an all-day event on the entry's date.
func (g *GoogleCalendar) Upsert(ctx context.Context, entry *journal.Entry) error {
	event := gcalEvent{
		Summary:     "Journal: " + entry.EntryDate,
		Description: summarize(entry),
		Start:       map[string]string{"date": entry.EntryDate},
		End:         map[string]string{"date": entry.EntryDate},
	}

	path := "/calendars/" + url.PathEscape(g.calendarID) + "/events"
	if err := g.do(ctx, http.MethodPost, path, event); err != nil {
		return fmt.Errorf("export: calendar upsert %s: %w", entry.LocalID, err)
	}

	g.lastSyncAt = time.Now()

	g.logger.Debug("entry exported to calendar",
		slog.String("local_id", entry.LocalID),
		slog.String("date", entry.EntryDate),
	)

	return nil
}

// Disconnect forgets the calendar linkage and token source.
func (g *GoogleCalendar) Disconnect(_ context.Context) error {
	g.calendarID = ""
	g.tokens = nil

	return nil
}

// RetryCondition treats OAuth token loss as permanent and provider rate
// limits as retryable. Google signals rate limiting with HTTP 403 plus a
// rateLimitExceeded reason, which the boundary classifier maps to a
// transient throttle before any retry decision is made.
func (g *GoogleCalendar) RetryCondition() func(error) bool {
	return func(err error) bool {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return false
		}

		return retry.DefaultCondition(err)
	}
}

// gcalErrorBody is the subset of Google's error envelope needed for
// boundary classification.
type gcalErrorBody struct {
	Error struct {
		Errors []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// rateLimitReasons are 403 reasons that actually mean "throttled".
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
}

// classify maps a non-2xx calendar response to a remote.Error, upgrading
// 403 rate-limit reasons to a transient throttle. The provider's structured
// reason codes are decoded here, once, at the boundary.
func classify(statusCode int, body []byte) error {
	if statusCode == http.StatusForbidden {
		var envelope gcalErrorBody

		if err := json.Unmarshal(body, &envelope); err == nil {
			for _, e := range envelope.Error.Errors {
				if rateLimitReasons[e.Reason] {
					return &remote.Error{
						StatusCode: statusCode,
						Kind:       remote.KindTransient,
						Message:    string(body),
						Err:        remote.ErrThrottled,
					}
				}
			}
		}
	}

	return remote.NewStatusError(statusCode, string(body))
}

// do executes one Calendar API call.
func (g *GoogleCalendar) do(ctx context.Context, method, path string, body any) error {
	if g.tokens == nil {
		return fmt.Errorf("export: calendar: %w", remote.ErrUnauthorized)
	}

	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding calendar payload: %w", err)
		}

		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating calendar request: %w", err)
	}

	tok, err := g.tokens.Token()
	if err != nil {
		return fmt.Errorf("obtaining calendar token: %w", err)
	}

	tok.SetAuthHeader(req)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		return classify(resp.StatusCode, errBody)
	}

	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse

	return nil
}

// summarize renders the entry's lists into the event description.
func summarize(entry *journal.Entry) string {
	var b strings.Builder

	b.WriteString(entry.Transcript)

	for _, section := range []struct {
		label string
		items []string
	}{
		{"Wins", entry.Wins},
		{"Regrets", entry.Regrets},
		{"Tasks", entry.Tasks},
	} {
		if len(section.items) == 0 {
			continue
		}

		b.WriteString("\n\n")
		b.WriteString(section.label)
		b.WriteString(": ")
		b.WriteString(strings.Join(section.items, ", "))
	}

	return b.String()
}

// Compile-time interface check.
var _ Service = (*GoogleCalendar)(nil)
