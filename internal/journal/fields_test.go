package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromFields_CoercesJSONDecodedValues(t *testing.T) {
	t.Parallel()

	// A JSON-decoded document carries float64 numbers and []any lists.
	e := FromFields("doc-1", map[string]any{
		FieldOwnerID:        "u1",
		FieldEntryDate:      "2026-03-14",
		FieldTranscript:     "walked the dog",
		FieldSentimentScore: 0.7,
		FieldKeywords:       []any{"dog", "walk"},
		FieldCreatedAt:      float64(1234567890),
	})

	assert.Equal(t, "doc-1", e.RemoteID)
	assert.Equal(t, "u1", e.OwnerID)
	assert.Equal(t, 0.7, e.SentimentScore)
	assert.Equal(t, []string{"dog", "walk"}, e.Keywords)
	assert.Equal(t, int64(1234567890), e.CreatedAt)

	// Absent fields stay zero-valued, never panic.
	assert.Nil(t, e.Wins)
	assert.Zero(t, e.UpdatedAt)
}

func TestToFields_OmitsSyncBookkeeping(t *testing.T) {
	t.Parallel()

	fields := ToFields(&Entry{
		LocalID:    "local-1",
		OwnerID:    "u1",
		EntryDate:  "2026-03-14",
		Transcript: "words",
		SyncState:  SyncStateFailed,
		LastError:  "boom",
	})

	assert.NotContains(t, fields, "local_id")
	assert.NotContains(t, fields, "sync_state")
	assert.NotContains(t, fields, "last_error")
	assert.Equal(t, "u1", fields[FieldOwnerID])
}
