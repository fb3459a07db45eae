package mirror

import (
	"context"
	"log"
	"sync"
	"time"

	"transcription-service/internal/entity"
)

// StatusUpdate is the payload pushed to the durable store. Repeated
// identical updates must be safe on the backend side.
type StatusUpdate struct {
	JobID       string
	Status      entity.JobStatus
	Progress    float64
	Result      *entity.TranscriptionResult
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Backend is one durable store capable of recording job status.
type Backend interface {
	UpdateStatus(ctx context.Context, update StatusUpdate) error
}

// Syncer mirrors job state to an external durable store off the
// worker's critical path. All failures are contained here: a job's own
// status is never affected by a sync outcome.
type Syncer struct {
	backend    Backend
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
	wg         sync.WaitGroup
}

// NewSyncer builds a syncer for backend. A nil backend is a valid
// configuration: every sync is silently skipped.
func NewSyncer(backend Backend) *Syncer {
	return &Syncer{
		backend:    backend,
		maxRetries: 3,
		retryDelay: 1 * time.Second,
		timeout:    5 * time.Second,
	}
}

// SyncAsync pushes the job's state in the background. Outstanding
// pushes are tracked so Shutdown can await them.
func (s *Syncer) SyncAsync(job entity.Job) {
	if s == nil || s.backend == nil {
		return
	}

	update := StatusUpdate{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		Result:      job.Result,
		Error:       job.Error,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sync(update)
	}()
}

// Sync pushes one update with bounded retries and increasing delay.
func (s *Syncer) Sync(update StatusUpdate) bool {
	if s == nil || s.backend == nil {
		return true
	}
	return s.sync(update)
}

func (s *Syncer) sync(update StatusUpdate) bool {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.push(update)
		if err == nil {
			log.Printf("[mirror] job_id=%s synced status=%s progress=%.1f",
				update.JobID, update.Status, update.Progress)
			return true
		}

		log.Printf("[mirror] job_id=%s attempt %d/%d failed: %v",
			update.JobID, attempt, s.maxRetries, err)

		if attempt < s.maxRetries {
			time.Sleep(s.retryDelay * time.Duration(attempt))
		}
	}

	log.Printf("[mirror] job_id=%s sync abandoned after %d attempts",
		update.JobID, s.maxRetries)
	return false
}

func (s *Syncer) push(update StatusUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.backend.UpdateStatus(ctx, update)
}

// Shutdown waits for outstanding pushes, giving up when ctx expires.
func (s *Syncer) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
