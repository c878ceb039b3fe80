// Package links parses submitted media links into canonical media ids.
//
// Extraction is purely syntactic: no network call is made. Each supported
// provider is a Source with its own grammar; Parse tries them in order.
package links

import (
	"errors"
	"strings"
)

// ErrBadFormat is returned when no Source grammar matches the link.
var ErrBadFormat = errors.New("bad-format")

// Link is a parsed submission.
type Link struct {
	Source       string // provider name, e.g. models.SourceYouTube
	MediaID      string // canonical media id, opaque to the queue
	Raw          string // submitted text after trimming
	CanonicalURL string
	Thumbnail    string
}

// Source recognizes links for one media provider.
type Source interface {
	Name() string
	// Match returns the canonical media id when raw belongs to this source.
	Match(raw string) (mediaID string, ok bool)
	CanonicalURL(mediaID string) string
	Thumbnail(mediaID string) string
}

// DefaultSources lists the providers accepted by Parse.
var DefaultSources = []Source{YouTube{}}

// Parse validates raw against DefaultSources.
func Parse(raw string) (Link, error) {
	return ParseWith(raw, DefaultSources)
}

// ParseWith validates raw against the given sources, first match wins.
func ParseWith(raw string, sources []Source) (Link, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Link{}, ErrBadFormat
	}
	for _, src := range sources {
		id, ok := src.Match(trimmed)
		if !ok {
			continue
		}
		return Link{
			Source:       src.Name(),
			MediaID:      id,
			Raw:          trimmed,
			CanonicalURL: src.CanonicalURL(id),
			Thumbnail:    src.Thumbnail(id),
		}, nil
	}
	return Link{}, ErrBadFormat
}
