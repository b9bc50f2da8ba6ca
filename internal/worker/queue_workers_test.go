package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/queue"
	"github.com/stemsi/exstem-engine/internal/repository/memory"
	"github.com/stemsi/exstem-engine/internal/testutil"
	"github.com/stemsi/exstem-engine/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRanker struct {
	mu     sync.Mutex
	calls  map[uuid.UUID]int
	placed map[uuid.UUID]int
	failN  map[uuid.UUID]int
}

func newFakeRanker() *fakeRanker {
	return &fakeRanker{calls: map[uuid.UUID]int{}, placed: map[uuid.UUID]int{}, failN: map[uuid.UUID]int{}}
}

func (r *fakeRanker) Recompute(_ context.Context, testID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[testID]++
	if r.failN[testID] > 0 {
		r.failN[testID]--
		return 0, errors.New("db down")
	}
	r.placed[testID]++
	return 1, nil
}

func (r *fakeRanker) snapshot() (calls, placed map[uuid.UUID]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	calls, placed = map[uuid.UUID]int{}, map[uuid.UUID]int{}
	for k, v := range r.calls {
		calls[k] = v
	}
	for k, v := range r.placed {
		placed[k] = v
	}
	return calls, placed
}

// run starts fn in a goroutine and returns a stop func that cancels it and
// waits for it to return.
func run(t *testing.T, fn func(ctx context.Context)) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	stop := func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
	t.Cleanup(cancel)
	return stop
}

func TestRankingWorker_DeduplicatesWithinBatch(t *testing.T) {
	ctx := context.Background()
	_, rdb := testutil.NewRedis(t)
	q := queue.NewRedisQueue(rdb)
	ranker := newFakeRanker()
	a, b := uuid.New(), uuid.New()

	key := config.WorkerKey.RecomputeRanksQueue
	require.NoError(t, q.Enqueue(ctx, key, queue.RankRecompute{TestID: a}))
	require.NoError(t, q.Enqueue(ctx, key, queue.RankRecompute{TestID: a}))
	require.NoError(t, rdb.RPush(ctx, key, "not json").Err())
	require.NoError(t, q.Enqueue(ctx, key, queue.RankRecompute{TestID: b}))

	w := worker.NewRankingWorker(rdb, ranker, worker.BatchOptions{Size: 2, Window: time.Hour, Backoff: 0}, testutil.Logger())
	stop := run(t, w.Start)

	assert.Eventually(t, func() bool {
		_, placed := ranker.snapshot()
		return placed[a] == 1 && placed[b] == 1
	}, 5*time.Second, 20*time.Millisecond)
	stop()

	calls, _ := ranker.snapshot()
	assert.Equal(t, 1, calls[a], "duplicate requests collapse")
}

func TestRankingWorker_RequeuesFailures(t *testing.T) {
	ctx := context.Background()
	_, rdb := testutil.NewRedis(t)
	ranker := newFakeRanker()
	testID := uuid.New()
	ranker.failN[testID] = 1

	require.NoError(t, queue.NewRedisQueue(rdb).Enqueue(ctx, config.WorkerKey.RecomputeRanksQueue, queue.RankRecompute{TestID: testID}))

	w := worker.NewRankingWorker(rdb, ranker, worker.BatchOptions{Size: 1, Window: 0, Backoff: 0}, testutil.Logger())
	stop := run(t, w.Start)

	assert.Eventually(t, func() bool {
		_, placed := ranker.snapshot()
		return placed[testID] == 1
	}, 5*time.Second, 20*time.Millisecond)
	stop()

	calls, _ := ranker.snapshot()
	assert.Equal(t, 2, calls[testID])
}

func TestRankingWorker_FlushesOnShutdown(t *testing.T) {
	ctx := context.Background()
	_, rdb := testutil.NewRedis(t)
	ranker := newFakeRanker()
	testID := uuid.New()
	key := config.WorkerKey.RecomputeRanksQueue

	require.NoError(t, queue.NewRedisQueue(rdb).Enqueue(ctx, key, queue.RankRecompute{TestID: testID}))

	w := worker.NewRankingWorker(rdb, ranker, worker.BatchOptions{Size: 100, Window: time.Hour}, testutil.Logger())
	stop := run(t, w.Start)

	assert.Eventually(t, func() bool {
		n, err := rdb.LLen(ctx, key).Result()
		return err == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond)

	calls, _ := ranker.snapshot()
	assert.Zero(t, calls[testID], "still buffered")

	stop()
	_, placed := ranker.snapshot()
	assert.Equal(t, 1, placed[testID])
}

type flakySink struct {
	memory.IntegrityEventStore
	mu         sync.Mutex
	copyFails  int
	insertFail map[uuid.UUID]int
}

func (s *flakySink) CopyEvents(ctx context.Context, events []model.IntegrityEvent) (int64, error) {
	s.mu.Lock()
	if s.copyFails > 0 {
		s.copyFails--
		s.mu.Unlock()
		return 0, errors.New("copy failed")
	}
	s.mu.Unlock()
	return s.IntegrityEventStore.CopyEvents(ctx, events)
}

func (s *flakySink) InsertEvent(ctx context.Context, e model.IntegrityEvent) error {
	s.mu.Lock()
	if s.insertFail[e.AttemptID] > 0 {
		s.insertFail[e.AttemptID]--
		s.mu.Unlock()
		return errors.New("insert failed")
	}
	s.mu.Unlock()
	return s.IntegrityEventStore.InsertEvent(ctx, e)
}

func exitEvent(attemptID uuid.UUID, count int) model.IntegrityEvent {
	return model.IntegrityEvent{
		AttemptID:  attemptID,
		TestID:     testutil.TestID,
		UserID:     1,
		Kind:       "fullscreen_exit",
		ExitCount:  count,
		RecordedAt: time.Now().UnixMilli(),
	}
}

func TestIntegrityWorker_BulkInsert(t *testing.T) {
	ctx := context.Background()
	_, rdb := testutil.NewRedis(t)
	q := queue.NewRedisQueue(rdb)
	sink := &memory.IntegrityEventStore{}
	attemptID := uuid.New()

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(ctx, config.WorkerKey.PersistIntegrityEventsQueue, exitEvent(attemptID, i)))
	}
	require.NoError(t, rdb.RPush(ctx, config.WorkerKey.PersistIntegrityEventsQueue, `{"kind":"fullscreen_exit"}`).Err())

	w := worker.NewIntegrityWorker(rdb, sink, worker.BatchOptions{Size: 3, Window: time.Hour}, testutil.Logger())
	stop := run(t, w.Start)

	assert.Eventually(t, func() bool { return len(sink.Events()) == 3 }, 5*time.Second, 20*time.Millisecond)
	stop()

	events := sink.Events()
	require.Len(t, events, 3, "event without attempt id is discarded")
	assert.Equal(t, 3, events[2].ExitCount)
}

func TestIntegrityWorker_FallbackAndRequeue(t *testing.T) {
	ctx := context.Background()
	_, rdb := testutil.NewRedis(t)
	q := queue.NewRedisQueue(rdb)
	good, bad := uuid.New(), uuid.New()
	sink := &flakySink{copyFails: 2, insertFail: map[uuid.UUID]int{bad: 1}}

	require.NoError(t, q.Enqueue(ctx, config.WorkerKey.PersistIntegrityEventsQueue, exitEvent(good, 1)))
	require.NoError(t, q.Enqueue(ctx, config.WorkerKey.PersistIntegrityEventsQueue, exitEvent(bad, 1)))

	w := worker.NewIntegrityWorker(rdb, sink, worker.BatchOptions{Size: 2, Window: 0, Backoff: 0}, testutil.Logger())
	stop := run(t, w.Start)

	assert.Eventually(t, func() bool { return len(sink.Events()) == 2 }, 5*time.Second, 20*time.Millisecond)
	stop()

	seen := map[uuid.UUID]int{}
	for _, e := range sink.Events() {
		seen[e.AttemptID]++
	}
	assert.Equal(t, 1, seen[good], "row-by-row fallback stores the good event once")
	assert.Equal(t, 1, seen[bad], "the failed event is stored after requeue")
}
