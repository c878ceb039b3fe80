// Package ranking orders queued entries.
//
// Rank is a pure function of the entries it is given: descending vote count,
// then ascending creation time, then ascending id. The final key makes the
// order total, so replicas ranking the same rows always agree.
package ranking

import (
	"slices"
	"strings"

	"github.com/voyagen/crowdqueue/internal/models"
)

// Rank returns the inactive entries of entries in queue order.
// The input slice is not modified.
func Rank(entries []models.QueueEntry) []models.QueueEntry {
	queued := make([]models.QueueEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Active {
			queued = append(queued, e)
		}
	}
	slices.SortFunc(queued, Compare)
	return queued
}

// Compare reports whether a ranks before (-1) or after (1) b.
func Compare(a, b models.QueueEntry) int {
	if a.VoteCount != b.VoteCount {
		if a.VoteCount > b.VoteCount {
			return -1
		}
		return 1
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Head returns the first ranked entry, or nil when nothing is queued.
func Head(entries []models.QueueEntry) *models.QueueEntry {
	ranked := Rank(entries)
	if len(ranked) == 0 {
		return nil
	}
	return &ranked[0]
}

// Active returns the entry flagged active, or nil.
func Active(entries []models.QueueEntry) *models.QueueEntry {
	for i := range entries {
		if entries[i].Active {
			e := entries[i]
			return &e
		}
	}
	return nil
}
