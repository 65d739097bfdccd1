package journal

// Document field names used in the remote entries collection.
const (
	FieldOwnerID        = "owner_id"
	FieldEntryDate      = "entry_date"
	FieldTranscript     = "transcript"
	FieldSentimentScore = "sentiment_score"
	FieldKeywords       = "keywords"
	FieldWins           = "wins"
	FieldRegrets        = "regrets"
	FieldTasks          = "tasks"
	FieldCreatedAt      = "created_at"
	FieldUpdatedAt      = "updated_at"
)

// ToFields converts an entry's content to the remote document representation.
// Sync bookkeeping (sync state, attempt counts, local id) never leaves the
// client.
func ToFields(e *Entry) map[string]any {
	return map[string]any{
		FieldOwnerID:        e.OwnerID,
		FieldEntryDate:      e.EntryDate,
		FieldTranscript:     e.Transcript,
		FieldSentimentScore: e.SentimentScore,
		FieldKeywords:       stringsToAny(e.Keywords),
		FieldWins:           stringsToAny(e.Wins),
		FieldRegrets:        stringsToAny(e.Regrets),
		FieldTasks:          stringsToAny(e.Tasks),
		FieldCreatedAt:      e.CreatedAt,
		FieldUpdatedAt:      e.UpdatedAt,
	}
}

// FromFields builds an entry from a remote document. The returned entry
// carries only remote identity and content; local bookkeeping fields are
// zero-valued.
func FromFields(remoteID string, fields map[string]any) *Entry {
	return &Entry{
		RemoteID:       remoteID,
		OwnerID:        asString(fields[FieldOwnerID]),
		EntryDate:      asString(fields[FieldEntryDate]),
		Transcript:     asString(fields[FieldTranscript]),
		SentimentScore: asFloat(fields[FieldSentimentScore]),
		Keywords:       asStrings(fields[FieldKeywords]),
		Wins:           asStrings(fields[FieldWins]),
		Regrets:        asStrings(fields[FieldRegrets]),
		Tasks:          asStrings(fields[FieldTasks]),
		CreatedAt:      asInt64(fields[FieldCreatedAt]),
		UpdatedAt:      asInt64(fields[FieldUpdatedAt]),
	}
}

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}

	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asFloat handles both float64 (JSON numbers) and int64 (in-process fakes).
func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

// asInt64 handles JSON-decoded float64 timestamps as well as native int64.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

// asStrings converts a JSON-decoded []any or a native []string to []string.
func asStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))

		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}
