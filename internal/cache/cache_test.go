package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/voyagen/crowdqueue/internal/cache"
	"github.com/voyagen/crowdqueue/internal/testsupport"
)

func testKey(name string) string {
	return "crowdqueue:test:" + name + ":" + uuid.NewString()
}

func TestGetSetDel(t *testing.T) {
	r := testsupport.OpenRedis(t)
	ctx := context.Background()
	key := testKey("kv")

	if _, err := cache.Get[map[string]bool](ctx, r, key); !errors.Is(err, redis.Nil) {
		t.Fatalf("Get missing key error = %v, want redis.Nil", err)
	}
	if err := cache.Set(ctx, r, key, map[string]bool{"a": true}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := cache.Get[map[string]bool](ctx, r, key)
	if err != nil || !got["a"] {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if err := cache.Del(ctx, r, key); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := cache.Get[map[string]bool](ctx, r, key); !errors.Is(err, redis.Nil) {
		t.Fatalf("Get after Del error = %v", err)
	}
}

func TestDelPattern(t *testing.T) {
	r := testsupport.OpenRedis(t)
	ctx := context.Background()
	prefix := testKey("pattern")
	for _, k := range []string{prefix + ":1", prefix + ":2"} {
		if err := cache.Set(ctx, r, k, 1, time.Minute); err != nil {
			t.Fatal(err)
		}
	}
	if err := cache.DelPattern(ctx, r, prefix+":*"); err != nil {
		t.Fatalf("DelPattern: %v", err)
	}
	if _, err := cache.Get[int](ctx, r, prefix+":1"); !errors.Is(err, redis.Nil) {
		t.Fatalf("key survived DelPattern: %v", err)
	}
}

func TestTryLock(t *testing.T) {
	r := testsupport.OpenRedis(t)
	ctx := context.Background()
	key := testKey("lock")
	l := cache.NewLocker(r)

	unlock, err := l.TryLock(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if _, err := l.TryLock(ctx, key, time.Minute); !errors.Is(err, cache.ErrLocked) {
		t.Fatalf("second TryLock error = %v, want ErrLocked", err)
	}
	if !cache.IsLocked(ctx, r, key) {
		t.Fatal("IsLocked = false while held")
	}
	unlock()
	if cache.IsLocked(ctx, r, key) {
		t.Fatal("IsLocked = true after unlock")
	}
	unlock2, err := l.TryLock(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}
	unlock2()
}

func TestTryLockExpires(t *testing.T) {
	r := testsupport.OpenRedis(t)
	ctx := context.Background()
	key := testKey("expire")

	stale, err := cache.TryLock(ctx, r, key, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	unlock, err := cache.TryLock(ctx, r, key, time.Minute)
	if err != nil {
		t.Fatalf("TryLock after expiry: %v", err)
	}
	// The expired holder's release must not drop the new holder's lock.
	stale()
	if !cache.IsLocked(ctx, r, key) {
		t.Fatal("stale unlock released a lock it no longer owns")
	}
	unlock()
}

func TestJobQueueFIFO(t *testing.T) {
	r := testsupport.OpenRedis(t)
	ctx := context.Background()
	q := cache.NewJobQueue(r, testKey("jobs"))

	for _, id := range []string{"e1", "e2"} {
		if err := q.Enqueue(ctx, cache.EnrichmentJob{EntryID: id, MediaID: "m-" + id}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	for _, want := range []string{"e1", "e2"} {
		job, err := q.Dequeue(ctx, time.Second)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if job == nil || job.EntryID != want {
			t.Fatalf("Dequeue = %+v, want %s", job, want)
		}
	}
	job, err := q.Dequeue(ctx, time.Second)
	if err != nil || job != nil {
		t.Fatalf("Dequeue on empty = %+v, %v, want nil, nil", job, err)
	}
}
