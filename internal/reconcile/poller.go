package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/voyagen/crowdqueue/internal/models"
	"go.uber.org/zap"
)

// Fetcher retrieves one snapshot. A nil snapshot with a nil error means
// "unchanged since the last fetch".
type Fetcher interface {
	Fetch(ctx context.Context) (*models.Snapshot, error)
}

// HTTPFetcher reads GET /api/snapshot, using the ETag to skip unchanged
// bodies.
type HTTPFetcher struct {
	baseURL     string
	participant string
	client      *http.Client

	mu   sync.Mutex
	etag string
}

// NewHTTPFetcher returns a fetcher for the server at baseURL. participant
// is sent as the identity header when non-empty.
func NewHTTPFetcher(baseURL, participant string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{
		baseURL:     strings.TrimRight(baseURL, "/"),
		participant: participant,
		client:      &http.Client{Timeout: timeout},
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context) (*models.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/api/snapshot", nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.participant != "" {
		req.Header.Set(models.ParticipantHeader, f.participant)
	}
	f.mu.Lock()
	if f.etag != "" {
		req.Header.Set("If-None-Match", f.etag)
	}
	f.mu.Unlock()

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil, nil
	case http.StatusOK:
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("snapshot HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var snap models.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if tag := resp.Header.Get("ETag"); tag != "" {
		f.mu.Lock()
		f.etag = tag
		f.mu.Unlock()
	}
	return &snap, nil
}

// Poller fetches snapshots on an interval and merges them into a View.
// Each poll takes a sequence number; a response older than the last
// applied one is dropped, so a slow poll never overwrites a newer one.
type Poller struct {
	fetch    Fetcher
	view     *View
	interval time.Duration
	log      *zap.Logger
	onChange func(*View, Changes)

	mu      sync.Mutex
	issued  uint64
	applied uint64
}

// NewPoller returns a poller merging into view. onChange, if set, runs
// after every merge that changed something.
func NewPoller(f Fetcher, view *View, interval time.Duration, log *zap.Logger, onChange func(*View, Changes)) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{fetch: f, view: view, interval: interval, log: log, onChange: onChange}
}

// Begin reserves the next sequence number.
func (p *Poller) Begin() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued++
	return p.issued
}

// Apply merges snap fetched under seq. It reports false when a newer
// poll was already applied.
func (p *Poller) Apply(seq uint64, snap *models.Snapshot) (Changes, bool) {
	p.mu.Lock()
	if seq <= p.applied {
		p.mu.Unlock()
		return Changes{}, false
	}
	p.applied = seq
	ch := p.view.Merge(snap)
	p.mu.Unlock()

	if ch.Any() && p.onChange != nil {
		p.onChange(p.view, ch)
	}
	return ch, true
}

// Poll runs one fetch-and-merge.
func (p *Poller) Poll(ctx context.Context) (Changes, error) {
	seq := p.Begin()
	snap, err := p.fetch.Fetch(ctx)
	if err != nil {
		return Changes{}, err
	}
	if snap == nil {
		return Changes{}, nil
	}
	ch, ok := p.Apply(seq, snap)
	if !ok {
		p.log.Debug("stale snapshot dropped", zap.Uint64("seq", seq))
	}
	return ch, nil
}

// Run polls every interval until ctx is cancelled. Polls are not
// cancelled when the next one starts; late results are dropped by Apply.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	poll := func() {
		defer wg.Done()
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("poll failed", zap.Error(err))
		}
	}
	wg.Add(1)
	go poll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			wg.Add(1)
			go poll()
		}
	}
}
