package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"transcription-service/internal/entity"
)

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = errors.New("job not found")

// ErrTerminalState is returned when writing to a finished job.
var ErrTerminalState = errors.New("job already in terminal state")

// Store is the canonical in-memory record of every submitted job.
// Records live for the process lifetime; there is no eviction.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*entity.Job
}

func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*entity.Job),
	}
}

// Create allocates a new pending job record and returns a snapshot.
func (s *Store) Create(audioPath string, params entity.TranscriptionParams) entity.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &entity.Job{
		ID:        uuid.NewString(),
		Status:    entity.StatusPending,
		AudioPath: audioPath,
		Params:    params,
		Message:   "Job created",
		CreatedAt: time.Now().UTC(),
	}
	s.jobs[job.ID] = job
	return *job
}

// Get returns a snapshot copy of a job. A miss is a valid outcome.
func (s *Store) Get(id string) (entity.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return entity.Job{}, false
	}
	return *job, true
}

// Transition atomically moves a job to status and applies accompanying
// field updates. Writes to a terminal status are rejected, never applied.
func (s *Store) Transition(id string, status entity.JobStatus, apply func(*entity.Job)) (entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return entity.Job{}, ErrNotFound
	}
	if job.Status.IsTerminal() {
		return *job, ErrTerminalState
	}
	if !isValidTransition(job.Status, status) {
		return *job, fmt.Errorf("invalid transition: %s -> %s", job.Status, status)
	}

	job.Status = status
	if apply != nil {
		apply(job)
	}
	return *job, nil
}

// SetProgress updates progress and message for a processing job.
// Progress is clamped to [0,100] and never decreases.
func (s *Store) SetProgress(id string, progress float64, message string) (entity.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != entity.StatusProcessing {
		return entity.Job{}, false
	}

	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	if message != "" {
		job.Message = message
	}
	return *job, true
}

// Count returns the number of known jobs, terminal ones included.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to entity.JobStatus) bool {
	switch from {
	case entity.StatusPending:
		return to == entity.StatusQueued || to == entity.StatusCancelled
	case entity.StatusQueued:
		return to == entity.StatusProcessing || to == entity.StatusCancelled
	case entity.StatusProcessing:
		return to == entity.StatusCompleted || to == entity.StatusFailed || to == entity.StatusCancelled
	default:
		return false
	}
}
