package links

import (
	"regexp"

	"github.com/voyagen/crowdqueue/internal/models"
)

// Video tokens are exactly 11 characters from [A-Za-z0-9_-].
var (
	reYouTubeWatch = regexp.MustCompile(`^(?:(?i:https?)://)?(?i:(?:www\.|m\.|music\.)?youtube\.com)/watch\?(?:[^#]*&)?v=([A-Za-z0-9_-]{11})(?:[&#].*)?$`)
	reYouTubePath  = regexp.MustCompile(`^(?:(?i:https?)://)?(?i:(?:www\.|m\.|music\.)?youtube\.com)/(?:shorts|embed|live)/([A-Za-z0-9_-]{11})(?:[/?#].*)?$`)
	reYouTubeShort = regexp.MustCompile(`^(?:(?i:https?)://)?(?i:(?:www\.)?youtu\.be)/([A-Za-z0-9_-]{11})(?:[/?#].*)?$`)
)

// YouTube matches youtube.com and youtu.be video links.
type YouTube struct{}

func (YouTube) Name() string { return models.SourceYouTube }

func (YouTube) Match(raw string) (string, bool) {
	for _, re := range []*regexp.Regexp{reYouTubeWatch, reYouTubePath, reYouTubeShort} {
		if m := re.FindStringSubmatch(raw); len(m) == 2 {
			return m[1], true
		}
	}
	return "", false
}

func (YouTube) CanonicalURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

func (YouTube) Thumbnail(id string) string {
	return "https://img.youtube.com/vi/" + id + "/hqdefault.jpg"
}
