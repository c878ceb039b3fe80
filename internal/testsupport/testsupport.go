// Package testsupport provides fixtures shared by package tests.
package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/voyagen/crowdqueue/internal/cache"
	"github.com/voyagen/crowdqueue/internal/models"
	"github.com/voyagen/crowdqueue/internal/store"
)

// Environment variables that enable tests against real services.
const (
	EnvPostgresURL = "CROWDQUEUE_TEST_POSTGRES_URL"
	EnvRedisURL    = "CROWDQUEUE_TEST_REDIS_URL"
)

// OpenSQLite migrates and opens a store on a fresh database file in a
// temp dir. The store is closed when the test ends.
func OpenSQLite(t testing.TB) *store.SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	dbURL := store.SchemeSQLite + path
	if err := store.RunMigrations(dbURL); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	s, err := store.NewSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// OpenPostgres migrates and opens the database named by
// CROWDQUEUE_TEST_POSTGRES_URL in a throwaway schema, skipping the test
// when the variable is unset.
func OpenPostgres(t testing.TB) *store.Postgres {
	t.Helper()
	dsn := os.Getenv(EnvPostgresURL)
	if dsn == "" {
		t.Skipf("%s not set", EnvPostgresURL)
	}
	schema := "cq_test_" + uuid.NewString()[:8]
	scoped, err := store.EnsureSchema(dsn, schema)
	if err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := store.RunMigrations(scoped); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	p, err := store.NewPostgres(context.Background(), scoped)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	t.Cleanup(func() {
		_ = store.DropSchema(dsn, schema)
		p.Close()
	})
	return p
}

// OpenRedis connects to CROWDQUEUE_TEST_REDIS_URL, skipping the test
// when the variable is unset.
func OpenRedis(t testing.TB) *cache.Redis {
	t.Helper()
	url := os.Getenv(EnvRedisURL)
	if url == "" {
		t.Skipf("%s not set", EnvRedisURL)
	}
	r, err := cache.New(context.Background(), url)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// Clock hands out strictly increasing timestamps so creation order is
// deterministic within a test.
type Clock struct {
	mu   sync.Mutex
	next time.Time
}

// NewClock starts at a fixed instant.
func NewClock() *Clock {
	return &Clock{next: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current instant and advances by one second.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(time.Second)
	return t
}

// NewEntry builds an inactive entry for mediaID submitted by submitter.
func NewEntry(submitter, mediaID string, createdAt time.Time) *models.QueueEntry {
	return &models.QueueEntry{
		ID:          uuid.NewString(),
		SubmitterID: submitter,
		Source:      models.SourceYouTube,
		MediaID:     mediaID,
		URL:         "https://www.youtube.com/watch?v=" + mediaID,
		Title:       "YouTube video " + mediaID,
		CreatedAt:   createdAt,
	}
}

// MustCreate inserts entries into s.
func MustCreate(t testing.TB, s store.Store, entries ...*models.QueueEntry) {
	t.Helper()
	for _, e := range entries {
		if err := s.CreateEntry(context.Background(), e); err != nil {
			t.Fatalf("CreateEntry(%s): %v", e.MediaID, err)
		}
	}
}

// MustVote records votes for entryID from each participant.
func MustVote(t testing.TB, s store.Store, entryID string, participants ...string) {
	t.Helper()
	for _, p := range participants {
		if err := s.AddVote(context.Background(), models.VoteRecord{ParticipantID: p, EntryID: entryID}); err != nil {
			t.Fatalf("AddVote(%s, %s): %v", p, entryID, err)
		}
	}
}
