package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"transcription-service/internal/entity"
)

// Conn is one live subscriber transport. The hub only assumes it can
// send an event and be closed; disconnect detection belongs to the
// transport layer.
type Conn interface {
	Send(msg Message) error
	Close() error
}

// Jobs is the read-only record-store port for snapshots.
type Jobs interface {
	Get(id string) (entity.Job, bool)
}

// Subscriber binds one connection to one job id for its lifetime.
type Subscriber struct {
	conn        Conn
	jobID       string
	connectedAt time.Time
	lastPing    time.Time // guarded by Hub.mu
}

// Stats is an advisory summary of live subscriptions.
type Stats struct {
	TotalConnections    int      `json:"total_connections"`
	JobsWithConnections int      `json:"jobs_with_connections"`
	ActiveJobs          []string `json:"active_jobs"`
}

// Hub fans job lifecycle events out to every subscriber of that job.
// Sends are best-effort: a failed send drops only that subscriber.
type Hub struct {
	mu   sync.RWMutex
	jobs Jobs
	subs map[string]map[*Subscriber]struct{}
}

func NewHub(jobs Jobs) *Hub {
	return &Hub{
		jobs: jobs,
		subs: make(map[string]map[*Subscriber]struct{}),
	}
}

// Subscribe registers conn under jobID, acknowledges the connection,
// and immediately delivers the job's current snapshot.
func (h *Hub) Subscribe(jobID string, conn Conn) *Subscriber {
	now := time.Now().UTC()
	sub := &Subscriber{
		conn:        conn,
		jobID:       jobID,
		connectedAt: now,
		lastPing:    now,
	}

	h.mu.Lock()
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[jobID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	log.Printf("[hub] subscriber connected job_id=%s", jobID)

	h.send(sub, newMessage(TypeConnected, jobID, map[string]any{
		"message": "Connected successfully",
		"job_id":  jobID,
	}))
	h.sendStatus(sub, jobID)

	return sub
}

// Unsubscribe removes sub from its job's set. Calling it for an
// already-removed subscriber is a no-op.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if h.remove(sub) {
		log.Printf("[hub] subscriber disconnected job_id=%s", sub.jobID)
	}
}

// BroadcastProgress delivers an incremental progress event.
func (h *Hub) BroadcastProgress(job entity.Job) {
	h.Publish(job.ID, newMessage(TypeProgress, job.ID, progressData(job)))
}

// BroadcastCompletion delivers the terminal event with result or error.
func (h *Hub) BroadcastCompletion(job entity.Job) {
	t := TypeError
	if job.Status == entity.StatusCompleted {
		t = TypeCompleted
	}
	h.Publish(job.ID, newMessage(t, job.ID, completionData(job)))
}

// Publish sends msg to every current subscriber of jobID. A failed
// send is an implicit unsubscribe of that connection only.
func (h *Hub) Publish(jobID string, msg Message) {
	h.mu.RLock()
	set := h.subs[jobID]
	targets := make([]*Subscriber, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.conn.Send(msg); err != nil {
			log.Printf("[hub] send failed job_id=%s: %v", jobID, err)
			h.drop(sub)
		}
	}
}

// HandleMessage processes one raw client message from a subscriber.
func (h *Hub) HandleMessage(sub *Subscriber, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("[hub] bad client message job_id=%s: %v", sub.jobID, err)
		return
	}

	switch msg.Type {
	case "ping":
		h.touch(sub)
		h.send(sub, newMessage(TypePong, sub.jobID, map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}))
	case "get_status":
		jobID := msg.JobID
		if jobID == "" {
			jobID = sub.jobID
		}
		h.sendStatus(sub, jobID)
	default:
		log.Printf("[hub] unknown client message type=%q job_id=%s", msg.Type, sub.jobID)
	}
}

// ReapStale disconnects subscribers without a liveness signal within
// maxIdle. It returns the number of dropped connections.
func (h *Hub) ReapStale(maxIdle time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxIdle)

	h.mu.RLock()
	var stale []*Subscriber
	for _, set := range h.subs {
		for sub := range set {
			if sub.lastPing.Before(cutoff) {
				stale = append(stale, sub)
			}
		}
	}
	h.mu.RUnlock()

	for _, sub := range stale {
		log.Printf("[hub] reaping idle subscriber job_id=%s", sub.jobID)
		h.drop(sub)
	}
	return len(stale)
}

// Stats returns an advisory summary of live subscriptions.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	jobIDs := make([]string, 0, len(h.subs))
	for jobID, set := range h.subs {
		total += len(set)
		jobIDs = append(jobIDs, jobID)
	}
	return Stats{
		TotalConnections:    total,
		JobsWithConnections: len(h.subs),
		ActiveJobs:          jobIDs,
	}
}

// sendStatus delivers the current snapshot of jobID to one subscriber.
func (h *Hub) sendStatus(sub *Subscriber, jobID string) {
	job, ok := h.jobs.Get(jobID)
	if !ok {
		h.send(sub, newMessage(TypeError, jobID, map[string]any{
			"error": "Job not found",
		}))
		return
	}
	h.send(sub, newMessage(snapshotType(job.Status), jobID, statusData(job)))
}

func (h *Hub) send(sub *Subscriber, msg Message) {
	if err := sub.conn.Send(msg); err != nil {
		log.Printf("[hub] send failed job_id=%s: %v", sub.jobID, err)
		h.drop(sub)
	}
}

func (h *Hub) touch(sub *Subscriber) {
	h.mu.Lock()
	sub.lastPing = time.Now().UTC()
	h.mu.Unlock()
}

// remove deregisters sub and reports whether it was still registered.
func (h *Hub) remove(sub *Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sub.jobID]
	if !ok {
		return false
	}
	if _, ok := set[sub]; !ok {
		return false
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.jobID)
	}
	return true
}

// drop deregisters sub and closes its transport.
func (h *Hub) drop(sub *Subscriber) {
	if h.remove(sub) {
		_ = sub.conn.Close()
	}
}
