package hub

import (
	"time"

	"transcription-service/internal/entity"
)

type MessageType string

const (
	TypeConnected MessageType = "connected"
	TypeStatus    MessageType = "status"
	TypeProgress  MessageType = "progress"
	TypeCompleted MessageType = "completed"
	TypeError     MessageType = "error"
	TypePong      MessageType = "pong"
)

// Message is the wire envelope delivered to subscribers.
type Message struct {
	Type      MessageType    `json:"type"`
	JobID     string         `json:"job_id"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

func newMessage(t MessageType, jobID string, data map[string]any) Message {
	return Message{
		Type:      t,
		JobID:     jobID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// clientMessage is what subscribers may send back over the transport.
type clientMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

// progressData builds the incremental progress payload.
func progressData(job entity.Job) map[string]any {
	return map[string]any{
		"status":   job.Status,
		"progress": job.Progress,
		"message":  job.Message,
	}
}

// completionData builds the terminal payload with result or error.
func completionData(job entity.Job) map[string]any {
	data := map[string]any{
		"status":   job.Status,
		"progress": job.Progress,
		"message":  job.Message,
	}
	if job.CompletedAt != nil {
		data["completed_at"] = job.CompletedAt.Format(time.RFC3339)
	}
	if job.Result != nil {
		data["result"] = job.Result
	}
	if job.Error != "" {
		data["error"] = job.Error
	}
	return data
}

// statusData builds the full snapshot payload for on-demand queries.
func statusData(job entity.Job) map[string]any {
	data := map[string]any{
		"status":     job.Status,
		"progress":   job.Progress,
		"message":    job.Message,
		"created_at": job.CreatedAt.Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		data["started_at"] = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		data["completed_at"] = job.CompletedAt.Format(time.RFC3339)
	}
	if job.Result != nil {
		data["result"] = job.Result
	}
	if job.Error != "" {
		data["error"] = job.Error
	}
	return data
}

// snapshotType maps a job status to the message type used for its
// snapshot, so a late subscriber still sees a terminal event.
func snapshotType(status entity.JobStatus) MessageType {
	switch status {
	case entity.StatusCompleted:
		return TypeCompleted
	case entity.StatusFailed:
		return TypeError
	default:
		return TypeStatus
	}
}
