package service

import (
	"errors"
	"time"

	"transcription-service/internal/entity"
	"transcription-service/internal/store"
)

// JobStore is the record-store port (implementation: store.Store).
type JobStore interface {
	Create(audioPath string, params entity.TranscriptionParams) entity.Job
	Get(id string) (entity.Job, bool)
	Transition(id string, status entity.JobStatus, apply func(*entity.Job)) (entity.Job, error)
	Count() int
}

// Notifier fans job events out to live subscribers (implementation: hub.Hub).
type Notifier interface {
	BroadcastProgress(job entity.Job)
	BroadcastCompletion(job entity.Job)
}

// Pool is the worker-pool port used for cancellation and queue info.
type Pool interface {
	Cancel(jobID string) bool
	Active() int
	Size() int
	Running() bool
}

// Mirror pushes terminal job state to the external durable store.
type Mirror interface {
	SyncAsync(job entity.Job)
}

type JobService struct {
	store  JobStore
	queue  Queue
	hub    Notifier
	pool   Pool
	mirror Mirror
}

func NewJobService(jobStore JobStore, queue Queue, hub Notifier, pool Pool, mirror Mirror) *JobService {
	return &JobService{
		store:  jobStore,
		queue:  queue,
		hub:    hub,
		pool:   pool,
		mirror: mirror,
	}
}

// Submit records a new job and places it on the queue.
func (s *JobService) Submit(audioPath string, params entity.TranscriptionParams) (entity.Job, error) {
	if audioPath == "" {
		return entity.Job{}, errors.New("audio path is required")
	}

	job := s.store.Create(audioPath, params)

	// Mark queued before the id becomes claimable, so a worker never
	// sees a pending job coming off the queue.
	queued, err := s.store.Transition(job.ID, entity.StatusQueued, func(j *entity.Job) {
		j.Message = "Job queued"
	})
	if err != nil {
		return job, err
	}

	s.queue.Enqueue(job.ID)
	s.hub.BroadcastProgress(queued)
	return queued, nil
}

// Get returns a snapshot of a job, reporting misses as not found.
func (s *JobService) Get(id string) (entity.Job, bool) {
	return s.store.Get(id)
}

// Cancel requests cancellation of a job. Queued jobs are finalized
// directly and never reach a worker; processing jobs are signalled and
// finalized by their owning worker.
func (s *JobService) Cancel(id string) error {
	job, ok := s.store.Get(id)
	if !ok {
		return store.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return store.ErrTerminalState
	}

	if s.pool.Cancel(id) {
		return nil
	}

	cancelled, err := s.store.Transition(id, entity.StatusCancelled, func(j *entity.Job) {
		now := time.Now().UTC()
		j.CompletedAt = &now
		j.Message = "Job cancelled"
	})
	if err != nil {
		if errors.Is(err, store.ErrTerminalState) {
			return err
		}
		// The job was handed to a worker between the check and the
		// write; the in-flight invocation gets the signal instead.
		if s.pool.Cancel(id) {
			return nil
		}
		return err
	}

	s.hub.BroadcastCompletion(cancelled)
	s.mirror.SyncAsync(cancelled)
	return nil
}

// QueueInfo returns an advisory snapshot of queue and pool state.
func (s *JobService) QueueInfo() entity.QueueInfo {
	return entity.QueueInfo{
		QueueSize:         s.queue.Depth(),
		ActiveJobs:        s.pool.Active(),
		TotalJobs:         s.store.Count(),
		MaxConcurrentJobs: s.pool.Size(),
		IsRunning:         s.pool.Running(),
	}
}
