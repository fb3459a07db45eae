package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"transcription-service/internal/entity"
	"transcription-service/internal/service"
	"transcription-service/internal/store"
	"transcription-service/internal/worker"
)

// ---- fakes ----

type fakeProcessor struct {
	invocations atomic.Int32
	fn          func(ctx context.Context, audioPath string, params entity.TranscriptionParams, onProgress worker.ProgressFunc) (*entity.TranscriptionResult, error)
}

func (p *fakeProcessor) Execute(ctx context.Context, audioPath string, params entity.TranscriptionParams, onProgress worker.ProgressFunc) (*entity.TranscriptionResult, error) {
	p.invocations.Add(1)
	if p.fn == nil {
		return &entity.TranscriptionResult{Text: "ok"}, nil
	}
	return p.fn(ctx, audioPath, params, onProgress)
}

type recordingNotifier struct {
	mu          sync.Mutex
	progress    []entity.Job
	completions []entity.Job
}

func (n *recordingNotifier) BroadcastProgress(job entity.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, job)
}

func (n *recordingNotifier) BroadcastCompletion(job entity.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completions = append(n.completions, job)
}

func (n *recordingNotifier) completionCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.completions)
}

type recordingMirror struct {
	mu     sync.Mutex
	synced []entity.Job
}

func (m *recordingMirror) SyncAsync(job entity.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synced = append(m.synced, job)
}

func (m *recordingMirror) statuses() []entity.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entity.JobStatus, len(m.synced))
	for i, j := range m.synced {
		out[i] = j.Status
	}
	return out
}

// ---- helpers ----

func submitJob(t *testing.T, s *store.Store, q service.Queue) string {
	t.Helper()
	job := s.Create("/tmp/audio.wav", entity.TranscriptionParams{})
	if _, err := s.Transition(job.ID, entity.StatusQueued, nil); err != nil {
		t.Fatalf("queue transition: %v", err)
	}
	q.Enqueue(job.ID)
	return job.ID
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func statusIs(s *store.Store, id string, want entity.JobStatus) func() bool {
	return func() bool {
		job, ok := s.Get(id)
		return ok && job.Status == want
	}
}

// ---- tests ----

func TestPool_JobReachesCompleted(t *testing.T) {
	jobStore := store.NewStore()
	queue := service.NewMemoryQueue()
	hub := &recordingNotifier{}
	mirror := &recordingMirror{}
	processor := &fakeProcessor{
		fn: func(ctx context.Context, audioPath string, params entity.TranscriptionParams, onProgress worker.ProgressFunc) (*entity.TranscriptionResult, error) {
			onProgress(20, "Audio processed, starting transcription...")
			onProgress(95, "Finalizing transcription...")
			return &entity.TranscriptionResult{Text: "hello world", Language: "en"}, nil
		},
	}

	pool := worker.NewPool(queue, jobStore, processor, hub, mirror, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	id := submitJob(t, jobStore, queue)
	waitFor(t, 3*time.Second, statusIs(jobStore, id, entity.StatusCompleted))

	job, _ := jobStore.Get(id)
	if job.Progress != 100 {
		t.Fatalf("expected progress 100, got %v", job.Progress)
	}
	if job.Result == nil || job.Result.Text != "hello world" {
		t.Fatalf("unexpected result: %+v", job.Result)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatal("expected started_at and completed_at to be set")
	}
	if hub.completionCount() != 1 {
		t.Fatalf("expected exactly one terminal broadcast, got %d", hub.completionCount())
	}

	waitFor(t, time.Second, func() bool { return len(mirror.statuses()) == 1 })
	if got := mirror.statuses(); got[0] != entity.StatusCompleted {
		t.Fatalf("expected completed mirrored, got %v", got)
	}
}

func TestPool_ConcurrencyNeverExceedsPoolSize(t *testing.T) {
	jobStore := store.NewStore()
	queue := service.NewMemoryQueue()
	hub := &recordingNotifier{}
	mirror := &recordingMirror{}

	var current, peak atomic.Int32
	processor := &fakeProcessor{
		fn: func(ctx context.Context, audioPath string, params entity.TranscriptionParams, onProgress worker.ProgressFunc) (*entity.TranscriptionResult, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			current.Add(-1)
			return &entity.TranscriptionResult{Text: "done"}, nil
		},
	}

	pool := worker.NewPool(queue, jobStore, processor, hub, mirror, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, submitJob(t, jobStore, queue))
	}

	waitFor(t, 5*time.Second, func() bool {
		for _, id := range ids {
			job, _ := jobStore.Get(id)
			if !job.Status.IsTerminal() {
				return false
			}
		}
		return true
	})

	if got := peak.Load(); got > 2 {
		t.Fatalf("observed %d concurrent jobs with pool size 2", got)
	}
	if got := processor.invocations.Load(); got != 5 {
		t.Fatalf("expected 5 invocations, got %d", got)
	}
	if pool.Active() != 0 {
		t.Fatalf("expected no active jobs after completion, got %d", pool.Active())
	}
}

func TestPool_SkipsJobCancelledBeforePickup(t *testing.T) {
	jobStore := store.NewStore()
	queue := service.NewMemoryQueue()
	processor := &fakeProcessor{}

	job := jobStore.Create("/tmp/audio.wav", entity.TranscriptionParams{})
	jobStore.Transition(job.ID, entity.StatusQueued, nil)
	jobStore.Transition(job.ID, entity.StatusCancelled, nil)
	queue.Enqueue(job.ID)

	pool := worker.NewPool(queue, jobStore, processor, &recordingNotifier{}, &recordingMirror{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	waitFor(t, 3*time.Second, func() bool { return queue.Depth() == 0 })
	time.Sleep(50 * time.Millisecond)

	if got := processor.invocations.Load(); got != 0 {
		t.Fatalf("processor must never run for a cancelled job, got %d invocations", got)
	}
	final, _ := jobStore.Get(job.ID)
	if final.Status != entity.StatusCancelled || final.StartedAt != nil {
		t.Fatalf("job corrupted: status=%s started_at=%v", final.Status, final.StartedAt)
	}
}

func TestPool_CancelInterruptsInFlightJob(t *testing.T) {
	jobStore := store.NewStore()
	queue := service.NewMemoryQueue()
	hub := &recordingNotifier{}
	mirror := &recordingMirror{}
	processor := &fakeProcessor{
		fn: func(ctx context.Context, audioPath string, params entity.TranscriptionParams, onProgress worker.ProgressFunc) (*entity.TranscriptionResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	pool := worker.NewPool(queue, jobStore, processor, hub, mirror, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	id := submitJob(t, jobStore, queue)
	waitFor(t, 3*time.Second, func() bool { return pool.Active() == 1 })

	if !pool.Cancel(id) {
		t.Fatal("expected cancel signal to reach the owning worker")
	}

	waitFor(t, 3*time.Second, statusIs(jobStore, id, entity.StatusCancelled))
	job, _ := jobStore.Get(id)
	if job.CompletedAt == nil {
		t.Fatal("expected completed_at on cancellation")
	}
	if hub.completionCount() != 1 {
		t.Fatalf("expected one terminal broadcast, got %d", hub.completionCount())
	}
}

func TestPool_FailureIsContainedPerJob(t *testing.T) {
	jobStore := store.NewStore()
	queue := service.NewMemoryQueue()
	processor := &fakeProcessor{
		fn: func(ctx context.Context, audioPath string, params entity.TranscriptionParams, onProgress worker.ProgressFunc) (*entity.TranscriptionResult, error) {
			if params.Model == "broken" {
				return nil, errors.New("model exploded")
			}
			return &entity.TranscriptionResult{Text: "fine"}, nil
		},
	}

	pool := worker.NewPool(queue, jobStore, processor, &recordingNotifier{}, &recordingMirror{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	bad := jobStore.Create("/bad.wav", entity.TranscriptionParams{Model: "broken"})
	jobStore.Transition(bad.ID, entity.StatusQueued, nil)
	queue.Enqueue(bad.ID)
	good := submitJob(t, jobStore, queue)

	waitFor(t, 3*time.Second, statusIs(jobStore, bad.ID, entity.StatusFailed))
	waitFor(t, 3*time.Second, statusIs(jobStore, good, entity.StatusCompleted))

	failed, _ := jobStore.Get(bad.ID)
	if failed.Error != "model exploded" {
		t.Fatalf("expected error recorded, got %q", failed.Error)
	}
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	jobStore := store.NewStore()
	queue := service.NewMemoryQueue()
	processor := &fakeProcessor{
		fn: func(ctx context.Context, audioPath string, params entity.TranscriptionParams, onProgress worker.ProgressFunc) (*entity.TranscriptionResult, error) {
			if params.Model == "panicky" {
				panic("boom")
			}
			return &entity.TranscriptionResult{Text: "fine"}, nil
		},
	}

	pool := worker.NewPool(queue, jobStore, processor, &recordingNotifier{}, &recordingMirror{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	bad := jobStore.Create("/bad.wav", entity.TranscriptionParams{Model: "panicky"})
	jobStore.Transition(bad.ID, entity.StatusQueued, nil)
	queue.Enqueue(bad.ID)
	good := submitJob(t, jobStore, queue)

	waitFor(t, 3*time.Second, statusIs(jobStore, bad.ID, entity.StatusFailed))
	waitFor(t, 3*time.Second, statusIs(jobStore, good, entity.StatusCompleted))
}

func TestPool_ShutdownCancelsInFlightAndDrainsQueue(t *testing.T) {
	jobStore := store.NewStore()
	queue := service.NewMemoryQueue()
	processor := &fakeProcessor{
		fn: func(ctx context.Context, audioPath string, params entity.TranscriptionParams, onProgress worker.ProgressFunc) (*entity.TranscriptionResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	pool := worker.NewPool(queue, jobStore, processor, &recordingNotifier{}, &recordingMirror{}, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	first := submitJob(t, jobStore, queue)
	waitFor(t, 3*time.Second, func() bool { return pool.Active() == 1 })

	second := submitJob(t, jobStore, queue)
	third := submitJob(t, jobStore, queue)

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("pool did not stop")
	}

	for _, id := range []string{first, second, third} {
		job, _ := jobStore.Get(id)
		if job.Status != entity.StatusCancelled {
			t.Fatalf("job %s not cancelled at shutdown: %s", id, job.Status)
		}
	}
	if pool.Running() {
		t.Fatal("pool still reports running after shutdown")
	}
}
