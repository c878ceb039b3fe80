// Package metadata resolves display metadata (title, thumbnail) for
// submitted media.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultDataAPIURL  = "https://www.googleapis.com/youtube/v3"
	defaultOEmbedURL   = "https://www.youtube.com/oembed"
	defaultHTTPTimeout = 5 * time.Second
	maxResponseBytes   = 1 << 20
)

// ErrVideoNotFound means the provider has no such video.
var ErrVideoNotFound = errors.New("metadata: video not found")

// Metadata is what a Resolver knows about one media item.
type Metadata struct {
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// Resolver looks up metadata for a canonical media id.
type Resolver interface {
	Resolve(ctx context.Context, mediaID string) (Metadata, error)
}

// Options configure a YouTube client. Zero values select defaults.
type Options struct {
	APIKey     string
	UserAgent  string
	Timeout    time.Duration
	DataAPIURL string
	OEmbedURL  string
	HTTPClient *http.Client
}

// YouTube resolves titles through the Data API when an API key is set and
// through the public oEmbed endpoint otherwise.
type YouTube struct {
	apiKey     string
	userAgent  string
	dataAPIURL string
	oembedURL  string
	httpClient *http.Client
}

// NewYouTube creates a YouTube metadata client.
func NewYouTube(opts Options) *YouTube {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultHTTPTimeout
	}
	if opts.DataAPIURL == "" {
		opts.DataAPIURL = defaultDataAPIURL
	}
	if opts.OEmbedURL == "" {
		opts.OEmbedURL = defaultOEmbedURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &YouTube{
		apiKey:     opts.APIKey,
		userAgent:  opts.UserAgent,
		dataAPIURL: strings.TrimRight(opts.DataAPIURL, "/"),
		oembedURL:  opts.OEmbedURL,
		httpClient: hc,
	}
}

// videosResponse is the subset of the Data API videos.list response we read.
type videosResponse struct {
	Items []struct {
		Snippet struct {
			Title      string `json:"title"`
			Thumbnails map[string]struct {
				URL string `json:"url"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type oembedResponse struct {
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// Resolve fetches the title and thumbnail for a video id.
func (c *YouTube) Resolve(ctx context.Context, mediaID string) (Metadata, error) {
	if mediaID == "" {
		return Metadata{}, errors.New("metadata: empty media id")
	}
	if c.apiKey != "" {
		return c.resolveDataAPI(ctx, mediaID)
	}
	return c.resolveOEmbed(ctx, mediaID)
}

func (c *YouTube) resolveDataAPI(ctx context.Context, mediaID string) (Metadata, error) {
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("id", mediaID)
	q.Set("key", c.apiKey)

	body, status, err := c.get(ctx, c.dataAPIURL+"/videos?"+q.Encode())
	if err != nil {
		return Metadata{}, err
	}
	if status != http.StatusOK {
		var apiErr apiErrorResponse
		_ = json.Unmarshal(body, &apiErr)
		return Metadata{}, fmt.Errorf("youtube data api %d: %s", status, apiErr.Error.Message)
	}

	var resp videosResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Metadata{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(resp.Items) == 0 {
		return Metadata{}, ErrVideoNotFound
	}
	snippet := resp.Items[0].Snippet
	md := Metadata{Title: snippet.Title}
	for _, size := range []string{"high", "medium", "default"} {
		if t, ok := snippet.Thumbnails[size]; ok && t.URL != "" {
			md.Thumbnail = t.URL
			break
		}
	}
	if md.Title == "" {
		return Metadata{}, fmt.Errorf("youtube data api: empty title for %s", mediaID)
	}
	return md, nil
}

func (c *YouTube) resolveOEmbed(ctx context.Context, mediaID string) (Metadata, error) {
	q := url.Values{}
	q.Set("url", "https://www.youtube.com/watch?v="+mediaID)
	q.Set("format", "json")

	body, status, err := c.get(ctx, c.oembedURL+"?"+q.Encode())
	if err != nil {
		return Metadata{}, err
	}
	switch {
	case status == http.StatusNotFound, status == http.StatusBadRequest:
		return Metadata{}, ErrVideoNotFound
	case status != http.StatusOK:
		return Metadata{}, fmt.Errorf("youtube oembed HTTP %d", status)
	}

	var resp oembedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Metadata{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Title == "" {
		return Metadata{}, fmt.Errorf("youtube oembed: empty title for %s", mediaID)
	}
	return Metadata{Title: resp.Title, Thumbnail: resp.ThumbnailURL}, nil
}

func (c *YouTube) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
