package conflict

import (
	"slices"

	"github.com/daybook-app/daybook-sync/internal/journal"
)

// Merge combines a local and a remote entry into a single resolution:
// the transcript prefers the local version (assumed to be the more recent
// edit), the sentiment score takes the max of the two, and every
// list-valued field is the sorted union of both sides with duplicates
// removed. Sorting makes the union independent of argument order, so
// Merge(a, b) and Merge(b, a) produce identical list fields.
func Merge(local, remote *journal.Entry) *journal.Entry {
	merged := *local
	merged.RemoteID = remote.RemoteID

	if remote.SentimentScore > merged.SentimentScore {
		merged.SentimentScore = remote.SentimentScore
	}

	merged.Keywords = unionSorted(local.Keywords, remote.Keywords)
	merged.Wins = unionSorted(local.Wins, remote.Wins)
	merged.Regrets = unionSorted(local.Regrets, remote.Regrets)
	merged.Tasks = unionSorted(local.Tasks, remote.Tasks)

	return &merged
}

// unionSorted returns the deduplicated, sorted union of two string slices.
// Returns nil when both inputs are empty.
func unionSorted(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))

	for _, v := range a {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}

	for _, v := range b {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}

	slices.Sort(out)

	return out
}
