package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"transcription-service/internal/entity"
	"transcription-service/internal/service"
)

// ProgressFunc receives (percentage, message) updates from a Processor.
type ProgressFunc func(progress float64, message string)

// Processor executes the transcription work for one job. Execute must
// honor ctx cancellation on a best-effort basis.
type Processor interface {
	Execute(ctx context.Context, audioPath string, params entity.TranscriptionParams, onProgress ProgressFunc) (*entity.TranscriptionResult, error)
}

// JobStore is the record-store port needed by workers.
type JobStore interface {
	Get(id string) (entity.Job, bool)
	Transition(id string, status entity.JobStatus, apply func(*entity.Job)) (entity.Job, error)
	SetProgress(id string, progress float64, message string) (entity.Job, bool)
}

// Notifier fans job events out to live subscribers.
type Notifier interface {
	BroadcastProgress(job entity.Job)
	BroadcastCompletion(job entity.Job)
}

// Mirror pushes terminal job state to the external durable store.
type Mirror interface {
	SyncAsync(job entity.Job)
}

// Pool runs a fixed number of workers over the job queue. A single
// job's failure or panic never takes a worker down.
type Pool struct {
	queue      service.Queue
	store      JobStore
	processor  Processor
	hub        Notifier
	mirror     Mirror
	workers    int
	claimDelay time.Duration

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	running bool
}

func NewPool(queue service.Queue, jobStore JobStore, processor Processor, hub Notifier, mirror Mirror, workers int) *Pool {
	if workers <= 0 {
		workers = 3
	}
	return &Pool{
		queue:      queue,
		store:      jobStore,
		processor:  processor,
		hub:        hub,
		mirror:     mirror,
		workers:    workers,
		claimDelay: 5 * time.Second,
		active:     make(map[string]context.CancelFunc),
	}
}

// Run blocks until ctx is cancelled. On shutdown it cancels in-flight
// jobs, joins all workers, and drains the queue.
func (p *Pool) Run(ctx context.Context) {
	log.Printf("[pool] started workers=%d", p.workers)
	p.setRunning(true)
	defer p.setRunning(false)

	jobCh := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for jobID := range jobCh {
				p.process(ctx, n, jobID)
			}
		}(i + 1)
	}

	for {
		select {
		case <-ctx.Done():
			close(jobCh)
			wg.Wait()
			p.drainQueue()
			log.Println("[pool] stopped")
			return
		default:
			jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
			if err != nil {
				// empty slot or shutdown, not fatal
				continue
			}
			select {
			case jobCh <- jobID:
			case <-ctx.Done():
				p.finalizeCancelled(jobID, "Job cancelled")
				close(jobCh)
				wg.Wait()
				p.drainQueue()
				log.Println("[pool] stopped")
				return
			}
		}
	}
}

// Cancel signals the in-flight invocation of a processing job. It
// reports false when no worker currently owns the job.
func (p *Pool) Cancel(jobID string) bool {
	p.mu.Lock()
	cancel, ok := p.active[jobID]
	p.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Active returns the number of jobs currently being processed.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Size returns the configured worker count.
func (p *Pool) Size() int {
	return p.workers
}

// Running reports whether the pool loop is live.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pool) setRunning(v bool) {
	p.mu.Lock()
	p.running = v
	p.mu.Unlock()
}

func (p *Pool) register(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.active[jobID] = cancel
	p.mu.Unlock()
}

func (p *Pool) unregister(jobID string) {
	p.mu.Lock()
	delete(p.active, jobID)
	p.mu.Unlock()
}

// process drives one claimed job to a terminal status.
func (p *Pool) process(ctx context.Context, workerID int, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[worker-%d] job_id=%s panic=%v", workerID, jobID, r)
			p.finalize(jobID, entity.StatusFailed, func(j *entity.Job) {
				j.Error = fmt.Sprintf("panic: %v", r)
				j.Message = "Internal processing error"
			})
		}
	}()

	start := time.Now()

	job, err := p.store.Transition(jobID, entity.StatusProcessing, func(j *entity.Job) {
		now := time.Now().UTC()
		j.StartedAt = &now
		j.Progress = 0
		j.Message = "Processing transcription"
	})
	if err != nil {
		// cancelled before pickup; the processor is never invoked
		log.Printf("[worker-%d] job_id=%s skipped: %v", workerID, jobID, err)
		return
	}
	p.hub.BroadcastProgress(job)

	log.Printf("[worker-%d] job_id=%s status=processing", workerID, jobID)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.register(jobID, cancel)
	defer p.unregister(jobID)

	result, procErr := p.processor.Execute(jobCtx, job.AudioPath, job.Params, func(progress float64, message string) {
		if snap, ok := p.store.SetProgress(jobID, progress, message); ok {
			p.hub.BroadcastProgress(snap)
		}
	})

	switch {
	case jobCtx.Err() != nil:
		p.finalize(jobID, entity.StatusCancelled, func(j *entity.Job) {
			j.Message = "Job cancelled"
		})
		log.Printf("[worker-%d] job_id=%s status=cancelled duration_ms=%d",
			workerID, jobID, time.Since(start).Milliseconds())

	case procErr != nil:
		p.finalize(jobID, entity.StatusFailed, func(j *entity.Job) {
			j.Error = procErr.Error()
			j.Message = "Error: " + procErr.Error()
		})
		log.Printf("[worker-%d] job_id=%s status=failed duration_ms=%d error=%v",
			workerID, jobID, time.Since(start).Milliseconds(), procErr)

	default:
		p.finalize(jobID, entity.StatusCompleted, func(j *entity.Job) {
			j.Progress = 100
			j.Result = result
			j.Message = "Transcription completed"
		})
		log.Printf("[worker-%d] job_id=%s status=completed duration_ms=%d",
			workerID, jobID, time.Since(start).Milliseconds())
	}
}

// finalize applies a terminal transition, then broadcasts and mirrors
// the outcome. A lost race against another terminal write is a no-op.
func (p *Pool) finalize(jobID string, status entity.JobStatus, apply func(*entity.Job)) {
	job, err := p.store.Transition(jobID, status, func(j *entity.Job) {
		now := time.Now().UTC()
		j.CompletedAt = &now
		if apply != nil {
			apply(j)
		}
	})
	if err != nil {
		log.Printf("[pool] job_id=%s finalize %s rejected: %v", jobID, status, err)
		return
	}

	p.hub.BroadcastCompletion(job)
	p.mirror.SyncAsync(job)
}

func (p *Pool) finalizeCancelled(jobID, message string) {
	p.finalize(jobID, entity.StatusCancelled, func(j *entity.Job) {
		j.Message = message
	})
}

// drainQueue cancels ids still queued at shutdown.
func (p *Pool) drainQueue() {
	for {
		jobID, err := p.queue.ClaimBlocking(context.Background(), 0)
		if err != nil {
			return
		}
		p.finalizeCancelled(jobID, "Job cancelled on shutdown")
	}
}
