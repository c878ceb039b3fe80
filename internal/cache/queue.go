package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EnrichmentJob asks the worker to resolve title and thumbnail for an
// entry submitted while the metadata provider was unreachable.
type EnrichmentJob struct {
	EntryID      string `json:"entry_id"`
	MediaID      string `json:"media_id"`
	CanonicalURL string `json:"canonical_url"`
	Thumbnail    string `json:"thumbnail,omitempty"` // derived fallback when the provider has none
	Attempts     int    `json:"attempts"`
}

// EnrichQueue is the Redis list key for enrichment jobs.
const EnrichQueue = "crowdqueue:jobs:enrich"

// Enqueue pushes a job onto the left side of a Redis list.
func Enqueue(ctx context.Context, r *Redis, queue string, job EnrichmentJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue marshal: %w", err)
	}
	return r.client.LPush(ctx, queue, data).Err()
}

// Dequeue blocks until a job is available on the right side of the list
// or the timeout expires. A timeout or a cancelled context yields
// (nil, nil) so the caller can loop and check for shutdown.
func Dequeue(ctx context.Context, r *Redis, queue string, timeout time.Duration) (*EnrichmentJob, error) {
	result, err := r.client.BRPop(ctx, timeout, queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("queue dequeue: %w", err)
	}
	// [key, value]
	if len(result) < 2 {
		return nil, nil
	}
	var job EnrichmentJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("queue unmarshal: %w", err)
	}
	return &job, nil
}

// JobQueue binds Enqueue and Dequeue to one list.
type JobQueue struct {
	r   *Redis
	key string
}

// NewJobQueue returns a queue on key, or EnrichQueue when key is empty.
func NewJobQueue(r *Redis, key string) *JobQueue {
	if key == "" {
		key = EnrichQueue
	}
	return &JobQueue{r: r, key: key}
}

// Enqueue pushes job.
func (q *JobQueue) Enqueue(ctx context.Context, job EnrichmentJob) error {
	return Enqueue(ctx, q.r, q.key, job)
}

// Dequeue pops the oldest job, waiting up to timeout.
func (q *JobQueue) Dequeue(ctx context.Context, timeout time.Duration) (*EnrichmentJob, error) {
	return Dequeue(ctx, q.r, q.key, timeout)
}
