package entity

import (
	"time"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// TranscriptionParams carries the caller-supplied transcription options.
type TranscriptionParams struct {
	Language         string  `json:"language,omitempty"`
	Model            string  `json:"model,omitempty"`
	ReturnTimestamps bool    `json:"return_timestamps"`
	Temperature      float64 `json:"temperature"`
	InitialPrompt    string  `json:"initial_prompt,omitempty"`
}

// Segment is one transcript chunk with timestamps in seconds.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResult is the success payload of a completed job.
type TranscriptionResult struct {
	Text           string    `json:"text"`
	Language       string    `json:"language"`
	ModelUsed      string    `json:"model_used"`
	Duration       float64   `json:"duration"`
	Segments       []Segment `json:"segments,omitempty"`
	ProcessingTime float64   `json:"processing_time"`
}

// Job is one unit of background transcription work.
type Job struct {
	ID          string               `json:"id"`
	Status      JobStatus            `json:"status"`
	Progress    float64              `json:"progress"`
	Message     string               `json:"message"`
	AudioPath   string               `json:"audio_path"`
	Params      TranscriptionParams  `json:"params"`
	Result      *TranscriptionResult `json:"result,omitempty"`
	Error       string               `json:"error,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// QueueInfo is an advisory point-in-time snapshot of queue and pool state.
type QueueInfo struct {
	QueueSize         int  `json:"queue_size"`
	ActiveJobs        int  `json:"active_jobs"`
	TotalJobs         int  `json:"total_jobs"`
	MaxConcurrentJobs int  `json:"max_concurrent_jobs"`
	IsRunning         bool `json:"is_running"`
}
