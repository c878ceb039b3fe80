package server

import (
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"github.com/voyagen/crowdqueue/internal/models"
)

// snapshotETag hashes what a client renders: the active entry and the
// ordered queue with counts, titles, thumbnails and the caller's own
// votes. GeneratedAt is left out so unchanged state keeps its tag.
func snapshotETag(snap *models.Snapshot) string {
	h := sha256.New()
	fmt.Fprintf(h, "active=%s;", snap.ActiveID())
	if snap.Active != nil {
		writeEntryTag(h, snap.Active)
	}
	for i := range snap.Queue {
		h.Write([]byte(snap.Queue[i].ID))
		h.Write([]byte{':'})
		writeEntryTag(h, &snap.Queue[i])
	}
	return fmt.Sprintf(`"%x"`, h.Sum(nil)[:12])
}

// writeEntryTag writes the rendered fields of e. Strings are
// length-prefixed so adjacent fields cannot run together.
func writeEntryTag(w io.Writer, e *models.QueueEntry) {
	fmt.Fprintf(w, "%d,%t,%d:%s,%d:%s;",
		e.VoteCount, e.VotedByMe, len(e.Title), e.Title, len(e.Thumbnail), e.Thumbnail)
}

// etagMatches reports whether an If-None-Match header lists tag.
func etagMatches(header, tag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == "*" || candidate == tag {
			return true
		}
	}
	return false
}
