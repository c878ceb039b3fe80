package links

import (
	"errors"
	"testing"
)

func TestParseAcceptsYouTubeForms(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"watch https www", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"watch http bare host", "http://youtube.com/watch?v=dQw4w9WgXcQ"},
		{"watch no scheme", "www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"watch trailing params", "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s&list=PL1"},
		{"watch v not first", "https://www.youtube.com/watch?feature=share&v=dQw4w9WgXcQ"},
		{"mobile host", "https://m.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"music host", "https://music.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"short link", "https://youtu.be/dQw4w9WgXcQ"},
		{"short link with query", "https://youtu.be/dQw4w9WgXcQ?si=abc"},
		{"shorts", "https://www.youtube.com/shorts/dQw4w9WgXcQ"},
		{"embed", "https://www.youtube.com/embed/dQw4w9WgXcQ"},
		{"live", "https://www.youtube.com/live/dQw4w9WgXcQ?feature=share"},
		{"surrounding whitespace", "  https://youtu.be/dQw4w9WgXcQ \n"},
		{"uppercase host", "HTTPS://WWW.YOUTUBE.COM/watch?v=dQw4w9WgXcQ"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			link, err := Parse(tc.raw)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tc.raw, err)
			}
			if link.MediaID != "dQw4w9WgXcQ" {
				t.Fatalf("MediaID = %q, want dQw4w9WgXcQ", link.MediaID)
			}
			if link.Source != "youtube" {
				t.Fatalf("Source = %q", link.Source)
			}
			if link.CanonicalURL != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
				t.Fatalf("CanonicalURL = %q", link.CanonicalURL)
			}
			if link.Thumbnail != "https://img.youtube.com/vi/dQw4w9WgXcQ/hqdefault.jpg" {
				t.Fatalf("Thumbnail = %q", link.Thumbnail)
			}
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"not a link",
		"https://www.youtube.com/watch?v=short",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQX",
		"https://www.youtube.com/watch?v=dQw4w9WgXc!",
		"https://www.youtube.com/watch?av=dQw4w9WgXcQ",
		"https://www.youtube.com/watch/dQw4w9WgXcQ",
		"https://vimeo.com/123456789",
		"https://youtube.com.evil.example/watch?v=dQw4w9WgXcQ",
		"ftp://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtu.be/",
	}
	for _, raw := range cases {
		if _, err := Parse(raw); !errors.Is(err, ErrBadFormat) {
			t.Errorf("Parse(%q) error = %v, want ErrBadFormat", raw, err)
		}
	}
}

type fakeSource struct{}

func (fakeSource) Name() string { return "fake" }
func (fakeSource) Match(raw string) (string, bool) {
	if raw == "fake:abc" {
		return "abc", true
	}
	return "", false
}
func (fakeSource) CanonicalURL(id string) string { return "fake://" + id }
func (fakeSource) Thumbnail(id string) string    { return "" }

func TestParseWithCustomSource(t *testing.T) {
	link, err := ParseWith("fake:abc", []Source{YouTube{}, fakeSource{}})
	if err != nil {
		t.Fatalf("ParseWith: %v", err)
	}
	if link.Source != "fake" || link.MediaID != "abc" || link.CanonicalURL != "fake://abc" {
		t.Fatalf("unexpected link: %#v", link)
	}
	if _, err := ParseWith("https://youtu.be/dQw4w9WgXcQ", []Source{fakeSource{}}); !errors.Is(err, ErrBadFormat) {
		t.Fatalf("expected ErrBadFormat when source not registered, got %v", err)
	}
}
