package export

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybook-app/daybook-sync/internal/remote"
)

func TestNotion_UpsertBuildsDatabasePage(t *testing.T) {
	t.Parallel()

	var got notionPage

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/pages", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, notionVersion, r.Header.Get("Notion-Version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	n := NewNotion(srv.Client(), staticTokens(), "db-1", discardLogger())
	n.baseURL = srv.URL

	entry := syncedEntry("e1")
	entry.Keywords = []string{"dog", "report"}

	require.NoError(t, n.Upsert(context.Background(), entry))

	assert.Equal(t, map[string]string{"database_id": "db-1"}, got.Parent)
	require.Contains(t, got.Properties, "Date")
	require.Contains(t, got.Properties, "Entry")
	require.Contains(t, got.Properties, "Keywords")
}

func TestNotion_UpsertClassifiesThrottling(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	n := NewNotion(srv.Client(), staticTokens(), "db-1", discardLogger())
	n.baseURL = srv.URL

	err := n.Upsert(context.Background(), syncedEntry("e1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrThrottled)

	var re *remote.Error
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Temporary())
}

func TestNotion_StatusDisconnectedWhenDatabaseMissing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	n := NewNotion(srv.Client(), staticTokens(), "db-1", discardLogger())
	n.baseURL = srv.URL

	st, err := n.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Connected)
}

func TestNotion_DisconnectForgetsLinkage(t *testing.T) {
	t.Parallel()

	n := NewNotion(nil, staticTokens(), "db-1", discardLogger())

	require.NoError(t, n.Disconnect(context.Background()))

	// With no token the next call fails closed as unauthorized.
	err := n.Upsert(context.Background(), syncedEntry("e1"))
	assert.ErrorIs(t, err, remote.ErrUnauthorized)
}

func TestMultiSelect_SanitizesCommas(t *testing.T) {
	t.Parallel()

	prop := multiSelect([]string{"a,b", "plain"})

	options := prop["multi_select"].([]map[string]string)
	require.Len(t, options, 2)
	assert.Equal(t, "a b", options[0]["name"])
	assert.Equal(t, "plain", options[1]["name"])
}
