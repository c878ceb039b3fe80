// Package reconcile keeps a client's view of the queue converged with
// server snapshots while showing the participant's own votes immediately.
package reconcile

import (
	"slices"
	"sync"

	"github.com/voyagen/crowdqueue/internal/models"
	"github.com/voyagen/crowdqueue/internal/ranking"
)

// Changes reports which parts of a View a Merge replaced.
type Changes struct {
	Active bool
	Queue  bool
}

// Any reports whether anything changed.
func (c Changes) Any() bool {
	return c.Active || c.Queue
}

// View is one client's state container: the last accepted snapshot plus
// optimistic vote toggles not yet confirmed. Safe for concurrent use.
type View struct {
	mu      sync.Mutex
	active  *models.QueueEntry
	queue   []models.QueueEntry
	pending map[string]bool // entry id -> optimistic voted state
}

// NewView returns an empty view.
func NewView() *View {
	return &View{pending: make(map[string]bool)}
}

// Merge applies snap. The active entry is replaced only when its id
// changes (including to or from none); the queue only when the ordered
// ids or any count differ. Every optimistic overlay is dropped: entries
// the snapshot reports carry the authoritative tally, and the rest are
// gone.
func (v *View) Merge(snap *models.Snapshot) Changes {
	if snap == nil {
		return Changes{}
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	var ch Changes
	if activeID(v.active) != snap.ActiveID() {
		ch.Active = true
	}
	if snap.Active == nil {
		v.active = nil
	} else {
		a := *snap.Active
		v.active = &a
	}

	if !sameQueue(v.queue, snap.Queue) {
		ch.Queue = true
	}
	v.queue = slices.Clone(snap.Queue)
	clear(v.pending)
	return ch
}

// ToggleVote applies the participant's vote locally: +1 when voted,
// -1 when not, then re-ranks. It reports false when the entry is unknown
// or already in the requested state.
func (v *View) ToggleVote(entryID string, voted bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	delta := -1
	if voted {
		delta = 1
	}
	if v.active != nil && v.active.ID == entryID {
		if v.active.VotedByMe == voted {
			return false
		}
		v.active.VotedByMe = voted
		v.active.VoteCount = max(0, v.active.VoteCount+delta)
		v.pending[entryID] = voted
		return true
	}
	i := slices.IndexFunc(v.queue, func(e models.QueueEntry) bool { return e.ID == entryID })
	if i < 0 || v.queue[i].VotedByMe == voted {
		return false
	}
	v.queue[i].VotedByMe = voted
	v.queue[i].VoteCount = max(0, v.queue[i].VoteCount+delta)
	v.pending[entryID] = voted
	v.queue = ranking.Rank(v.queue)
	return true
}

// Pending reports the optimistic state for entryID, if any.
func (v *View) Pending(entryID string) (voted, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	voted, ok = v.pending[entryID]
	return voted, ok
}

// Active returns a copy of the active entry, or nil.
func (v *View) Active() *models.QueueEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active == nil {
		return nil
	}
	a := *v.active
	return &a
}

// Queue returns a copy of the displayed queue.
func (v *View) Queue() []models.QueueEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.queue)
}

func activeID(e *models.QueueEntry) string {
	if e == nil {
		return ""
	}
	return e.ID
}

func sameQueue(a, b []models.QueueEntry) bool {
	return slices.EqualFunc(a, b, func(x, y models.QueueEntry) bool {
		return x.ID == y.ID && x.VoteCount == y.VoteCount
	})
}
