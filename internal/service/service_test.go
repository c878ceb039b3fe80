package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voyagen/crowdqueue/internal/cache"
	"github.com/voyagen/crowdqueue/internal/metadata"
	"github.com/voyagen/crowdqueue/internal/models"
	"github.com/voyagen/crowdqueue/internal/store"
	"github.com/voyagen/crowdqueue/internal/testsupport"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	linkA = "https://www.youtube.com/watch?v=AAAAAAAAAAA"
	linkB = "https://youtu.be/BBBBBBBBBBB"
	linkC = "https://www.youtube.com/shorts/CCCCCCCCCCC"
)

type stubResolver struct {
	mu    sync.Mutex
	md    metadata.Metadata
	err   error
	block bool
	calls int
}

func (r *stubResolver) Resolve(ctx context.Context, mediaID string) (metadata.Metadata, error) {
	r.mu.Lock()
	r.calls++
	md, err, block := r.md, r.err, r.block
	r.mu.Unlock()
	if block {
		<-ctx.Done()
		return metadata.Metadata{}, ctx.Err()
	}
	return md, err
}

type memQueue struct {
	mu   sync.Mutex
	jobs []cache.EnrichmentJob
	err  error
}

func (q *memQueue) Enqueue(ctx context.Context, job cache.EnrichmentJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *memQueue) Dequeue(ctx context.Context, timeout time.Duration) (*cache.EnrichmentJob, error) {
	q.mu.Lock()
	if len(q.jobs) == 0 {
		q.mu.Unlock()
		time.Sleep(time.Millisecond)
		return nil, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.mu.Unlock()
	return &job, nil
}

func (q *memQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type env struct {
	svc   *Service
	store store.Store
	jobs  *memQueue
	res   *stubResolver
	logs  *observer.ObservedLogs
}

func newEnv(t *testing.T, mutate ...func(*Options)) *env {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	e := &env{
		store: testsupport.OpenSQLite(t),
		jobs:  &memQueue{},
		res:   &stubResolver{md: metadata.Metadata{Title: "Resolved", Thumbnail: "https://img/resolved.jpg"}},
		logs:  logs,
	}
	opts := Options{
		Store:    e.store,
		Resolver: e.res,
		Jobs:     e.jobs,
		Logger:   zap.New(core),
		Now:      testsupport.NewClock().Now,
	}
	for _, m := range mutate {
		m(&opts)
	}
	e.store = opts.Store
	e.svc = New(opts)
	return e
}

func (e *env) submit(t *testing.T, link, who string) *models.QueueEntry {
	t.Helper()
	entry, err := e.svc.Submit(context.Background(), link, who)
	if err != nil {
		t.Fatalf("Submit(%s): %v", link, err)
	}
	return entry
}

func (e *env) upvote(t *testing.T, id string, who ...string) {
	t.Helper()
	for _, p := range who {
		if _, err := e.svc.Upvote(context.Background(), id, p); err != nil {
			t.Fatalf("Upvote(%s, %s): %v", id, p, err)
		}
	}
}

func (e *env) snapshot(t *testing.T) *models.Snapshot {
	t.Helper()
	snap, err := e.svc.Snapshot(context.Background(), "")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap
}

func queueIDs(snap *models.Snapshot) []string {
	ids := make([]string, len(snap.Queue))
	for i, q := range snap.Queue {
		ids[i] = q.ID
	}
	return ids
}

func countActive(t *testing.T, s store.Store) int {
	t.Helper()
	entries, err := s.ListEntries(context.Background())
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	n := 0
	for _, e := range entries {
		if e.Active {
			n++
		}
	}
	return n
}

func TestSubmitThenSelect(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.submit(t, linkA, "alice")

	entries, _ := e.store.ListEntries(ctx)
	if len(entries) != 1 || entries[0].Active {
		t.Fatalf("after submit: %+v, want one inactive entry", entries)
	}
	if a.MediaID != "AAAAAAAAAAA" || a.Title != "Resolved" || a.Thumbnail != "https://img/resolved.jpg" {
		t.Fatalf("submitted entry = %+v", a)
	}

	tr, err := e.svc.EnsureActive(ctx)
	if err != nil {
		t.Fatalf("EnsureActive: %v", err)
	}
	if tr.To != a.ID || tr.NoOp {
		t.Fatalf("EnsureActive = %+v, want activation of %s", tr, a.ID)
	}
	snap := e.snapshot(t)
	if snap.ActiveID() != a.ID || len(snap.Queue) != 0 {
		t.Fatalf("snapshot active=%q queue=%v", snap.ActiveID(), queueIDs(snap))
	}
	if snap.NowPlaying == nil || *snap.NowPlaying != a.ID {
		t.Fatalf("NowPlaying = %v", snap.NowPlaying)
	}

	again, err := e.svc.EnsureActive(ctx)
	if err != nil || !again.NoOp || again.To != a.ID {
		t.Fatalf("second EnsureActive = %+v, %v", again, err)
	}
}

func TestRankingAndAdvancement(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a := e.submit(t, linkA, "alice")
	e.snapshot(t) // selects A
	b := e.submit(t, linkB, "bob")
	c := e.submit(t, linkC, "carol")
	e.upvote(t, c.ID, "p1", "p2")
	e.upvote(t, b.ID, "p1")
	e.upvote(t, a.ID, "p3")

	snap := e.snapshot(t)
	if snap.ActiveID() != a.ID {
		t.Fatalf("active = %q, want A", snap.ActiveID())
	}
	got := queueIDs(snap)
	if len(got) != 2 || got[0] != c.ID || got[1] != b.ID {
		t.Fatalf("queue = %v, want [C B]", got)
	}
	if snap.Queue[0].VoteCount != 2 || snap.Queue[1].VoteCount != 1 {
		t.Fatalf("counts = %d,%d", snap.Queue[0].VoteCount, snap.Queue[1].VoteCount)
	}

	tr, err := e.svc.Finished(ctx, a.ID)
	if err != nil {
		t.Fatalf("Finished(A): %v", err)
	}
	if tr.Retired != a.ID || tr.From != a.ID || tr.To != c.ID || tr.NoOp {
		t.Fatalf("transition = %+v", tr)
	}
	if _, err := e.store.GetEntry(ctx, a.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("A should be deleted, got %v", err)
	}
	voted, _ := e.store.VotedEntries(ctx, "p3")
	if len(voted) != 0 {
		t.Fatalf("A's votes should be deleted, p3 still has %v", voted)
	}

	snap = e.snapshot(t)
	if snap.ActiveID() != c.ID {
		t.Fatalf("active = %q, want C", snap.ActiveID())
	}
	if got := queueIDs(snap); len(got) != 1 || got[0] != b.ID {
		t.Fatalf("queue = %v, want [B]", got)
	}
}

func TestFinishedReplayIsNoOp(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.submit(t, linkA, "alice")
	b := e.submit(t, linkB, "bob")
	e.snapshot(t)

	if _, err := e.svc.Finished(ctx, a.ID); err != nil {
		t.Fatalf("Finished(A): %v", err)
	}
	tr, err := e.svc.Finished(ctx, a.ID)
	if err != nil {
		t.Fatalf("replayed Finished(A): %v", err)
	}
	if !tr.NoOp {
		t.Fatalf("replay transition = %+v, want NoOp", tr)
	}
	if snap := e.snapshot(t); snap.ActiveID() != b.ID {
		t.Fatalf("active after replay = %q, want B", snap.ActiveID())
	}
}

func TestFinishedOnQueuedEntryConflicts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.submit(t, linkA, "alice")
	b := e.submit(t, linkB, "bob")
	e.snapshot(t)

	_, err := e.svc.Finished(ctx, b.ID)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Finished(queued) = %v, want ErrConflict", err)
	}
	if _, err := e.store.GetEntry(ctx, b.ID); err != nil {
		t.Fatalf("queued entry must not be deleted: %v", err)
	}
}

func TestFinishedLastEntryGoesIdle(t *testing.T) {
	e := newEnv(t)
	a := e.submit(t, linkA, "alice")
	e.snapshot(t)

	tr, err := e.svc.Finished(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Finished: %v", err)
	}
	if tr.To != "" {
		t.Fatalf("To = %q, want idle", tr.To)
	}
	snap := e.snapshot(t)
	if snap.Active != nil || len(snap.Queue) != 0 || snap.NowPlaying != nil {
		t.Fatalf("snapshot = %+v, want idle and empty", snap)
	}
}

func TestConcurrentFinishedAdvancesOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.submit(t, linkA, "alice")
	e.submit(t, linkB, "bob")
	e.submit(t, linkC, "carol")
	e.snapshot(t)

	const n = 6
	var wg sync.WaitGroup
	results := make([]Transition, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr, err := e.svc.Finished(ctx, a.ID)
			if err != nil {
				t.Errorf("Finished: %v", err)
			}
			results[i] = tr
		}(i)
	}
	wg.Wait()

	advanced := 0
	for _, tr := range results {
		if tr.Retired == a.ID {
			advanced++
		}
	}
	if advanced != 1 {
		t.Fatalf("advancements = %d, want 1", advanced)
	}
	if n := countActive(t, e.store); n != 1 {
		t.Fatalf("active entries = %d, want 1", n)
	}
	entries, _ := e.store.ListEntries(ctx)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 (only A retired)", len(entries))
	}
}

func TestRemove(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.submit(t, linkA, "alice")
	b := e.submit(t, linkB, "bob")
	c := e.submit(t, linkC, "carol")
	e.snapshot(t)

	tr, err := e.svc.Remove(ctx, c.ID)
	if err != nil {
		t.Fatalf("Remove(queued): %v", err)
	}
	if tr.Retired != c.ID || tr.From != "" {
		t.Fatalf("transition = %+v", tr)
	}
	if snap := e.snapshot(t); snap.ActiveID() != a.ID {
		t.Fatalf("removing a queued entry changed active to %q", snap.ActiveID())
	}

	tr, err = e.svc.Remove(ctx, a.ID)
	if err != nil {
		t.Fatalf("Remove(active): %v", err)
	}
	if tr.To != b.ID {
		t.Fatalf("Remove(active) advanced to %q, want B", tr.To)
	}

	if _, err := e.svc.Remove(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove(missing) = %v, want ErrNotFound", err)
	}
}

func TestVotes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	x := e.submit(t, linkA, "alice")

	resp, err := e.svc.Upvote(ctx, x.ID, "p")
	if err != nil {
		t.Fatalf("Upvote: %v", err)
	}
	if resp.VoteCount != 1 || !resp.Voted {
		t.Fatalf("Upvote response = %+v", resp)
	}
	if _, err := e.svc.Upvote(ctx, x.ID, "p"); !errors.Is(err, ErrConflict) {
		t.Fatalf("second Upvote = %v, want ErrConflict", err)
	}
	got, _ := e.store.GetEntry(ctx, x.ID)
	if got.VoteCount != 1 {
		t.Fatalf("VoteCount = %d, want 1", got.VoteCount)
	}

	if _, err := e.svc.Downvote(ctx, x.ID, "q"); !errors.Is(err, ErrConflict) {
		t.Fatalf("Downvote without vote = %v, want ErrConflict", err)
	}
	resp, err = e.svc.Downvote(ctx, x.ID, "p")
	if err != nil {
		t.Fatalf("Downvote: %v", err)
	}
	if resp.VoteCount != 0 || resp.Voted {
		t.Fatalf("Downvote response = %+v", resp)
	}

	if _, err := e.svc.Upvote(ctx, "missing", "p"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Upvote(missing) = %v, want ErrNotFound", err)
	}
	var ve *ValidationError
	if _, err := e.svc.Upvote(ctx, x.ID, " "); !errors.As(err, &ve) || ve.Reason != ReasonMissingParticipant {
		t.Fatalf("Upvote without participant = %v", err)
	}
}

func TestConcurrentUpvoteOneWinner(t *testing.T) {
	e := newEnv(t)
	x := e.submit(t, linkA, "alice")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.svc.Upvote(context.Background(), x.ID, "p")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, ErrConflict):
			t.Fatalf("Upvote: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}

func TestSnapshotVotedByMe(t *testing.T) {
	e := newEnv(t)
	a := e.submit(t, linkA, "alice")
	e.snapshot(t) // selects A
	b := e.submit(t, linkB, "bob")
	c := e.submit(t, linkC, "carol")
	e.upvote(t, b.ID, "p")

	snap, err := e.svc.Snapshot(context.Background(), "p")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.ActiveID() != a.ID || snap.Active.VotedByMe {
		t.Fatalf("active = %+v", snap.Active)
	}
	for _, q := range snap.Queue {
		if want := q.ID == b.ID; q.VotedByMe != want {
			t.Errorf("entry %s VotedByMe = %v, want %v", q.ID, q.VotedByMe, want)
		}
	}
	if snap.Queue[0].ID != b.ID || snap.Queue[1].ID != c.ID {
		t.Fatalf("queue = %v", queueIDs(snap))
	}
}

func TestSubmitValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var ve *ValidationError
	if _, err := e.svc.Submit(ctx, "https://vimeo.com/1", "alice"); !errors.As(err, &ve) || ve.Reason != ReasonBadFormat {
		t.Fatalf("Submit(bad link) = %v, want bad-format", err)
	}
	if _, err := e.svc.Submit(ctx, linkA, ""); !errors.As(err, &ve) || ve.Reason != ReasonMissingParticipant {
		t.Fatalf("Submit(no submitter) = %v, want missing-participant", err)
	}
	entries, _ := e.store.ListEntries(ctx)
	if len(entries) != 0 {
		t.Fatalf("rejected submissions created %d entries", len(entries))
	}
}

func TestSubmitDegradesOnMetadataFailure(t *testing.T) {
	e := newEnv(t)
	e.res.err = errors.New("provider down")

	entry := e.submit(t, linkB, "bob")
	if entry.Title != "YouTube video BBBBBBBBBBB" {
		t.Fatalf("Title = %q, want placeholder", entry.Title)
	}
	if entry.Thumbnail != "https://img.youtube.com/vi/BBBBBBBBBBB/hqdefault.jpg" {
		t.Fatalf("Thumbnail = %q, want derived", entry.Thumbnail)
	}
	if e.jobs.len() != 1 {
		t.Fatalf("enrichment jobs = %d, want 1", e.jobs.len())
	}
	if got := e.logs.FilterMessage("metadata unavailable, using placeholder").Len(); got != 1 {
		t.Fatalf("degradation warnings = %d, want 1", got)
	}
}

func TestSubmitSkipsJobForUnknownVideo(t *testing.T) {
	e := newEnv(t)
	e.res.err = metadata.ErrVideoNotFound

	e.submit(t, linkA, "alice")
	if e.jobs.len() != 0 {
		t.Fatalf("enrichment jobs = %d, want 0 for an unknown video", e.jobs.len())
	}
}

func TestSubmitMetadataTimeoutIsBounded(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.MetadataTimeout = 30 * time.Millisecond })
	e.res.block = true

	start := time.Now()
	entry := e.submit(t, linkA, "alice")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Submit blocked for %s", elapsed)
	}
	if entry.Title != PlaceholderTitle("AAAAAAAAAAA") {
		t.Fatalf("Title = %q, want placeholder", entry.Title)
	}
}

func TestSubmitWithoutResolver(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.Resolver = nil })
	entry := e.submit(t, linkA, "alice")
	if entry.Title != PlaceholderTitle("AAAAAAAAAAA") {
		t.Fatalf("Title = %q", entry.Title)
	}
	if e.jobs.len() != 0 {
		t.Fatal("no job should be queued without a resolver")
	}
}

func TestListBySubmitter(t *testing.T) {
	e := newEnv(t)
	a := e.submit(t, linkA, "alice")
	e.submit(t, linkB, "bob")
	c := e.submit(t, linkC, "alice")

	own, err := e.svc.ListBySubmitter(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListBySubmitter: %v", err)
	}
	if len(own) != 2 || own[0].ID != a.ID || own[1].ID != c.ID {
		t.Fatalf("ListBySubmitter = %+v", own)
	}
}

// flakyActivation fails every ActivateEntry call.
type flakyActivation struct {
	store.Store
}

func (f flakyActivation) ActivateEntry(ctx context.Context, id string) error {
	return errors.New("connection reset")
}

func TestActivationFailureLeavesIdleThenRecovers(t *testing.T) {
	base := testsupport.OpenSQLite(t)
	clock := testsupport.NewClock()
	a := testsupport.NewEntry("alice", "AAAAAAAAAAA", clock.Now())
	b := testsupport.NewEntry("bob", "BBBBBBBBBBB", clock.Now())
	testsupport.MustCreate(t, base, a, b)
	if err := base.ActivateEntry(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}

	core, logs := observer.New(zapcore.ErrorLevel)
	broken := New(Options{Store: flakyActivation{base}, Logger: zap.New(core)})
	tr, err := broken.Finished(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Finished must report the retire even when activation fails: %v", err)
	}
	if tr.Retired != a.ID || tr.To != "" {
		t.Fatalf("transition = %+v", tr)
	}
	if n := countActive(t, base); n != 0 {
		t.Fatalf("active entries = %d, want 0 (idle)", n)
	}
	if logs.Len() == 0 {
		t.Fatal("expected an error log for the failed advance")
	}

	healthy := New(Options{Store: base})
	snap, err := healthy.Snapshot(context.Background(), "")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.ActiveID() != b.ID {
		t.Fatalf("recovered active = %q, want B", snap.ActiveID())
	}
}

// staleListing serves the listing captured at construction, as a read
// cache repopulated just before a write would. Persisted exposes the
// committed state underneath.
type staleListing struct {
	store.Store
	listing []models.QueueEntry
}

func (s staleListing) ListEntries(ctx context.Context) ([]models.QueueEntry, error) {
	return s.listing, nil
}

func (s staleListing) Persisted() store.Store { return s.Store }

func TestFinishedSelectsFromPersistedState(t *testing.T) {
	base := testsupport.OpenSQLite(t)
	clock := testsupport.NewClock()
	a := testsupport.NewEntry("alice", "AAAAAAAAAAA", clock.Now())
	b := testsupport.NewEntry("bob", "BBBBBBBBBBB", clock.Now())
	testsupport.MustCreate(t, base, a, b)
	if err := base.ActivateEntry(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}
	before, err := base.ListEntries(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	svc := New(Options{Store: staleListing{Store: base, listing: before}})
	tr, err := svc.Finished(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Finished: %v", err)
	}
	if tr.To != b.ID {
		t.Fatalf("transition = %+v, want advance to B despite the stale listing", tr)
	}
	if n := countActive(t, base); n != 1 {
		t.Fatalf("active entries = %d, want 1", n)
	}
}

type fixedLocker struct {
	err   error
	calls int
}

func (l *fixedLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return func() {}, nil
}

func TestEnsureActiveSkipsWhileLocked(t *testing.T) {
	locker := &fixedLocker{err: cache.ErrLocked}
	e := newEnv(t, func(o *Options) { o.Locker = locker })
	e.submit(t, linkA, "alice")

	tr, err := e.svc.EnsureActive(context.Background())
	if err != nil || !tr.NoOp {
		t.Fatalf("EnsureActive = %+v, %v; want skipped", tr, err)
	}
	if locker.calls != lockAttempts {
		t.Fatalf("lock attempts = %d, want %d", locker.calls, lockAttempts)
	}
	if n := countActive(t, e.store); n != 0 {
		t.Fatalf("active = %d, want 0 while another holder selects", n)
	}
}

func TestEnsureActiveProceedsWhenLockBackendFails(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.Locker = &fixedLocker{err: errors.New("redis down")} })
	a := e.submit(t, linkA, "alice")

	tr, err := e.svc.EnsureActive(context.Background())
	if err != nil || tr.To != a.ID {
		t.Fatalf("EnsureActive = %+v, %v", tr, err)
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{&ValidationError{Reason: ReasonBadFormat}, KindValidation},
		{&ConflictError{Reason: ReasonAlreadyVoted}, KindConflict},
		{notFound("x"), KindNotFound},
		{&DependencyError{Op: "resolve", Err: errors.New("x")}, KindDependency},
		{storeErr("list", errors.New("x")), KindStore},
		{errors.New("unknown"), KindStore},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
